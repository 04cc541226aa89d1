package queue

import (
	"encoding/json"
	"time"

	"github.com/nullwave/signalbroker/internal/v1/types"
)

// Message is a signaling message in flight through a room's queue (spec §3).
// Payload is treated as an opaque blob — the broker never inspects SDP or
// candidate contents (spec §1 Non-goals, §9 "dynamic payload opacity").
type Message struct {
	Type       types.SignalType
	From       types.PeerID
	To         types.PeerID
	RoomID     types.RoomID
	Payload    json.RawMessage
	Priority   int
	EnqueuedAt time.Time
}

// ConnectionID returns the directed (from, to) key used to group messages
// during a drain tick.
func (m *Message) ConnectionID() types.ConnectionID {
	return types.ConnectionID{Local: m.From, Remote: m.To}
}

// NewMessage builds a Message with its fixed priority and current
// enqueued-at timestamp already set (spec §4.4 enqueue contract).
func NewMessage(roomID types.RoomID, sigType types.SignalType, from, to types.PeerID, payload json.RawMessage) *Message {
	return &Message{
		Type:       sigType,
		From:       from,
		To:         to,
		RoomID:     roomID,
		Payload:    payload,
		Priority:   sigType.Priority(),
		EnqueuedAt: time.Now(),
	}
}

// Group is a coalesced set of messages for one pairwise connection,
// produced by a single drain tick (spec §4.4).
type Group struct {
	ConnectionID  types.ConnectionID
	RoomID        types.RoomID
	Offer         *Message // last-wins payload for this type
	Answer        *Message // last-wins payload for this type
	IceCandidates []*Message
}
