package peerconn

import (
	"testing"
	"time"

	"github.com/nullwave/signalbroker/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsInStateNew(t *testing.T) {
	c := New("room-1", "a", "b")
	assert.Equal(t, types.StateNew, c.State)
	assert.Equal(t, types.ConnectionID{Local: "a", Remote: "b"}, c.ID)
	assert.Equal(t, uint64(0), c.IceCandidatesCount())
}

func TestUpdateConnectionStateIsNoOpOnSameState(t *testing.T) {
	c := New("room-1", "a", "b")
	c.PullDomainEvents()

	c.UpdateConnectionState(types.StateNew)
	assert.Empty(t, c.PullDomainEvents())
}

func TestUpdateConnectionStateEmitsChange(t *testing.T) {
	c := New("room-1", "a", "b")
	c.PullDomainEvents()

	c.UpdateConnectionState(types.StateConnecting)
	evts := c.PullDomainEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, "connection-state-changed", string(evts[0].EventName))
	payload := evts[0].Payload.(ConnectionStateChangedPayload)
	assert.Equal(t, types.StateConnecting, payload.State)
	assert.Equal(t, types.StateNew, payload.Previous)
}

func TestHandleIceCandidateIncrementsCounterWithoutStateChange(t *testing.T) {
	c := New("room-1", "a", "b")
	c.PullDomainEvents()

	c.HandleIceCandidate()
	assert.Equal(t, uint64(1), c.IceCandidatesCount())
	assert.Equal(t, types.StateNew, c.State)

	evts := c.PullDomainEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, "ice-candidate-received", string(evts[0].EventName))
}

func TestHandleOfferTransitionsToConnecting(t *testing.T) {
	c := New("room-1", "a", "b")
	c.PullDomainEvents()

	c.HandleOffer()
	assert.Equal(t, types.StateConnecting, c.State)

	evts := c.PullDomainEvents()
	require.Len(t, evts, 2)
	assert.Equal(t, "connection-state-changed", string(evts[0].EventName))
	assert.Equal(t, "offer-received", string(evts[1].EventName))
}

func TestHandleAnswerTransitionsToConnected(t *testing.T) {
	c := New("room-1", "a", "b")
	c.PullDomainEvents()

	c.HandleAnswer()
	assert.Equal(t, types.StateConnected, c.State)

	evts := c.PullDomainEvents()
	require.Len(t, evts, 2)
	assert.Equal(t, "answer-received", string(evts[1].EventName))
}

func TestFailedAfterStaleConnectedEmitsTimeout(t *testing.T) {
	c := New("room-1", "a", "b")
	c.UpdateConnectionState(types.StateConnected)
	c.lastConnectedAt = c.lastConnectedAt.Add(-time.Minute)
	c.PullDomainEvents()

	c.UpdateConnectionState(types.StateFailed)
	evts := c.PullDomainEvents()
	require.Len(t, evts, 2)
	assert.Equal(t, "connection-timeout", string(evts[1].EventName))
}
