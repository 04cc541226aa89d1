// Package peerconn implements the Peer-connection aggregate from spec
// §3/§4.3: a directed pairwise signaling state machine with ICE-candidate
// accounting. Event emission follows the same buffer-and-pull pattern as
// the room aggregate (internal/v1/room), grounded on the teacher's
// accumulate-then-publish convention.
package peerconn

import (
	"time"

	"github.com/nullwave/signalbroker/internal/v1/events"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

const staleConnectedThreshold = 30 * time.Second

// PeerConnection is the aggregate root for one directed pairwise signaling
// relationship within a room.
type PeerConnection struct {
	ID     types.ConnectionID
	RoomID types.RoomID

	State              types.ConnectionState
	lastTransitionAt   time.Time
	lastConnectedAt    time.Time
	iceCandidatesCount  uint64

	createdAt time.Time
	updatedAt time.Time

	buf events.Buffer
}

// New creates a peer-connection aggregate in state "new" for the ordered
// pair (local, remote) within roomID.
func New(roomID types.RoomID, local, remote types.PeerID) *PeerConnection {
	now := time.Now()
	return &PeerConnection{
		ID:               types.ConnectionID{Local: local, Remote: remote},
		RoomID:           roomID,
		State:            types.StateNew,
		lastTransitionAt: now,
		createdAt:        now,
		updatedAt:        now,
	}
}

// ConnectionStateChangedPayload is the payload of a connection-state-changed event.
type ConnectionStateChangedPayload struct {
	RoomID   types.RoomID
	PeerID   types.PeerID
	State    types.ConnectionState
	Previous types.ConnectionState
}

// IceCandidateReceivedPayload is the payload of an ice-candidate-received event.
type IceCandidateReceivedPayload struct {
	RoomID types.RoomID
	From   types.PeerID
	To     types.PeerID
}

// OfferReceivedPayload is the payload of an offer-received event.
type OfferReceivedPayload struct {
	RoomID types.RoomID
	From   types.PeerID
	To     types.PeerID
}

// AnswerReceivedPayload is the payload of an answer-received event.
type AnswerReceivedPayload struct {
	RoomID types.RoomID
	From   types.PeerID
	To     types.PeerID
}

// ConnectionTimeoutPayload is the payload of a connection-timeout event.
type ConnectionTimeoutPayload struct {
	RoomID    types.RoomID
	PeerID    types.PeerID
	TimeoutMs int64
}

// PullDomainEvents drains the aggregate's event buffer.
func (c *PeerConnection) PullDomainEvents() []events.Event {
	return c.buf.Pull()
}

// IceCandidatesCount returns the monotonic ICE-candidate counter.
func (c *PeerConnection) IceCandidatesCount() uint64 { return c.iceCandidatesCount }

// UpdateConnectionState transitions the aggregate to newState. If newState
// equals the current state, this is a no-op: no event is emitted and no
// timestamp changes (spec §4.3). Otherwise state and timestamp update and a
// connection-state-changed event is emitted. If transitioning into failed
// or disconnected and the last connected timestamp is older than 30s, a
// connection-timeout event is also emitted.
func (c *PeerConnection) UpdateConnectionState(newState types.ConnectionState) {
	if newState == c.State {
		return
	}

	previous := c.State
	c.State = newState
	now := time.Now()
	c.lastTransitionAt = now
	c.updatedAt = now

	c.buf.Emit(events.ConnectionStateChanged, ConnectionStateChangedPayload{
		RoomID:   c.RoomID,
		PeerID:   c.ID.Local,
		State:    newState,
		Previous: previous,
	})

	if newState == types.StateConnected {
		c.lastConnectedAt = now
	}

	if newState == types.StateFailed || newState == types.StateDisconnected {
		if !c.lastConnectedAt.IsZero() && now.Sub(c.lastConnectedAt) > staleConnectedThreshold {
			c.buf.Emit(events.ConnectionTimeout, ConnectionTimeoutPayload{
				RoomID:    c.RoomID,
				PeerID:    c.ID.Local,
				TimeoutMs: staleConnectedThreshold.Milliseconds(),
			})
		}
	}
}

// HandleIceCandidate increments the monotonic counter and emits
// ice-candidate-received. It does not alter connection state.
func (c *PeerConnection) HandleIceCandidate() {
	c.iceCandidatesCount++
	c.updatedAt = time.Now()
	c.buf.Emit(events.IceCandidateReceived, IceCandidateReceivedPayload{
		RoomID: c.RoomID,
		From:   c.ID.Local,
		To:     c.ID.Remote,
	})
}

// HandleOffer forces the state to connecting and emits offer-received.
func (c *PeerConnection) HandleOffer() {
	c.UpdateConnectionState(types.StateConnecting)
	c.buf.Emit(events.OfferReceived, OfferReceivedPayload{
		RoomID: c.RoomID,
		From:   c.ID.Local,
		To:     c.ID.Remote,
	})
}

// HandleAnswer forces the state to connected and emits answer-received.
func (c *PeerConnection) HandleAnswer() {
	c.UpdateConnectionState(types.StateConnected)
	c.buf.Emit(events.AnswerReceived, AnswerReceivedPayload{
		RoomID: c.RoomID,
		From:   c.ID.Local,
		To:     c.ID.Remote,
	})
}
