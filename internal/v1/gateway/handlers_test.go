package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullwave/signalbroker/internal/v1/room"
	"github.com/nullwave/signalbroker/internal/v1/signalerr"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

func TestHandleJoinBroadcastsAndSendsRoomState(t *testing.T) {
	h := newTestHub(t)
	seedRoom(t, h, "room-1", "owner")

	owner, ownerConn := newTestClient(h, "room-1", "owner")
	h.registerSocket(owner)
	joiner, joinerConn := newTestClient(h, "room-1", "peer-a")
	h.registerSocket(joiner)

	h.handleJoin(t.Context(), joiner, inbound{RoomID: "room-1", PeerID: "peer-a"})

	select {
	case got := <-ownerConn.written:
		assert.Contains(t, string(got), `"type":"player-joined"`)
	default:
		t.Fatal("expected the existing member to be told about the join")
	}
	assert.True(t, anyContains(drain(joinerConn), `"type":"room-state"`), "expected the joiner to receive room state")
}

func TestHandleJoinRejectsWhenRoomAtMaxConnections(t *testing.T) {
	h := newTestHub(t)
	h.cfg.MaxConnectionsPerRoom = 0
	seedRoom(t, h, "room-1", "owner")

	joiner, conn := newTestClient(h, "room-1", "peer-a")
	h.registerSocket(joiner)

	h.handleJoin(t.Context(), joiner, inbound{RoomID: "room-1", PeerID: "peer-a"})

	select {
	case got := <-conn.written:
		assert.Contains(t, string(got), signalerr.Code(signalerr.ErrMaxConnections))
	default:
		t.Fatal("expected a max-connections error frame")
	}
}

func TestHandleLeaveBroadcastsPlayerLeft(t *testing.T) {
	h := newTestHub(t)
	r, err := room.New("room-1", "owner", types.Rules{MaxPlayers: 4})
	require.NoError(t, err)
	r.PullDomainEvents()
	require.NoError(t, r.Join("peer-a"))
	r.PullDomainEvents()
	require.NoError(t, h.rooms.Save(t.Context(), r))

	owner, ownerConn := newTestClient(h, "room-1", "owner")
	h.registerSocket(owner)

	h.handleLeave(t.Context(), owner, inbound{RoomID: "room-1", PeerID: "peer-a"})

	select {
	case got := <-ownerConn.written:
		assert.Contains(t, string(got), `"type":"player-left"`)
	default:
		t.Fatal("expected player-left to be broadcast")
	}
}

func TestHandleSignalUnicastsAndEnqueues(t *testing.T) {
	h := newTestHub(t)
	target, targetConn := newTestClient(h, "room-1", "peer-b")
	h.registerSocket(target)

	h.handleSignal(t.Context(), nil, types.SignalOffer, inbound{
		RoomID: "room-1", From: "peer-a", To: "peer-b", Offer: []byte(`{"sdp":"x"}`),
	})

	select {
	case got := <-targetConn.written:
		assert.Contains(t, string(got), `"type":"offer"`)
	default:
		t.Fatal("expected the target to receive the offer directly")
	}
	assert.Equal(t, 1, h.queue.Len("room-1"))
}

func TestHandleConnectionStateNotifiesCounterpartAndSuggestsFallbackOnFailed(t *testing.T) {
	h := newTestHub(t)
	connID := types.ConnectionID{Local: "peer-a", Remote: "peer-b"}
	h.conns.GetOrCreate("room-1", connID)

	counterpart, counterpartConn := newTestClient(h, "room-1", "peer-b")
	h.registerSocket(counterpart)
	reporter, reporterConn := newTestClient(h, "room-1", "peer-a")
	h.registerSocket(reporter)

	h.handleConnectionState(t.Context(), reporter, inbound{PeerID: "peer-a", State: "failed"})

	counterpartFrames := drain(counterpartConn)
	assert.True(t, anyContains(counterpartFrames, `"type":"peer-connection-state"`), "counterpart should hear about the state transition")
	assert.True(t, anyContains(counterpartFrames, `"type":"webrtc-fallback-suggested"`), "counterpart should be offered fallback on a fresh failure")

	reporterFrames := drain(reporterConn)
	assert.True(t, anyContains(reporterFrames, `"type":"webrtc-fallback-suggested"`), "the reporting side is also offered fallback")
}

func TestHandleConnectionStateRejectsInvalidState(t *testing.T) {
	h := newTestHub(t)
	c, conn := newTestClient(h, "room-1", "peer-a")
	h.registerSocket(c)

	h.handleConnectionState(t.Context(), c, inbound{PeerID: "peer-a", State: "bogus"})

	select {
	case got := <-conn.written:
		assert.Contains(t, string(got), "invalid connection state")
	default:
		t.Fatal("expected an error frame for an invalid state")
	}
}

func TestHandleReconnectRequestRejectsNonMember(t *testing.T) {
	h := newTestHub(t)
	seedRoom(t, h, "room-1", "owner")
	c, conn := newTestClient(h, "room-1", "owner")
	h.registerSocket(c)

	h.handleReconnectRequest(t.Context(), c, inbound{RoomID: "room-1", From: "owner", To: "ghost"})

	select {
	case got := <-conn.written:
		assert.Contains(t, string(got), signalerr.Code(signalerr.ErrPeerNotFound))
	default:
		t.Fatal("expected ERR_PEER_NOT_FOUND")
	}
}

func TestHandleFallbackActivateSetsModeAndAcks(t *testing.T) {
	h := newTestHub(t)
	r, err := room.New("room-1", "owner", types.Rules{MaxPlayers: 4})
	require.NoError(t, err)
	r.PullDomainEvents()
	require.NoError(t, r.Join("peer-b"))
	r.PullDomainEvents()
	require.NoError(t, h.rooms.Save(t.Context(), r))

	requester, requesterConn := newTestClient(h, "room-1", "owner")
	h.registerSocket(requester)
	target, targetConn := newTestClient(h, "room-1", "peer-b")
	h.registerSocket(target)

	h.handleFallbackActivate(t.Context(), requester, inbound{RoomID: "room-1", From: "owner", To: "peer-b"})

	assert.True(t, h.health.IsUsingFallback(types.ConnectionID{Local: "owner", Remote: "peer-b"}))
	assert.True(t, anyContains(drain(requesterConn), `"type":"webrtc-fallback-activated"`), "expected the requester to be acked")
	assert.True(t, anyContains(drain(targetConn), `"type":"webrtc-fallback-needed"`), "expected the target to be told to switch to fallback")
}

func TestHandleFallbackActivateRejectsNonMember(t *testing.T) {
	h := newTestHub(t)
	seedRoom(t, h, "room-1", "owner")
	c, conn := newTestClient(h, "room-1", "owner")
	h.registerSocket(c)

	h.handleFallbackActivate(t.Context(), c, inbound{RoomID: "room-1", From: "owner", To: "ghost"})

	select {
	case got := <-conn.written:
		assert.Contains(t, string(got), signalerr.Code(signalerr.ErrPeerNotFound))
	default:
		t.Fatal("expected ERR_PEER_NOT_FOUND")
	}
}

func TestHandleRelayDataRejectsWhenFallbackNotEnabled(t *testing.T) {
	h := newTestHub(t)
	c, conn := newTestClient(h, "room-1", "peer-a")
	h.registerSocket(c)

	h.handleRelayData(t.Context(), c, inbound{RoomID: "room-1", From: "peer-a", To: "peer-b"})

	select {
	case got := <-conn.written:
		assert.Contains(t, string(got), signalerr.Code(signalerr.ErrFallbackNotEnabled))
	default:
		t.Fatal("expected ERR_FALLBACK_NOT_ENABLED")
	}
}

func TestHandleRelayDataForwardsWhenFallbackEnabled(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.health.SetFallbackMode(t.Context(), "peer-a", "peer-b", types.FallbackWebsocket))

	target, targetConn := newTestClient(h, "room-1", "peer-b")
	h.registerSocket(target)
	sender, _ := newTestClient(h, "room-1", "peer-a")

	h.handleRelayData(t.Context(), sender, inbound{RoomID: "room-1", From: "peer-a", To: "peer-b", Payload: []byte(`"hi"`)})

	select {
	case got := <-targetConn.written:
		assert.Contains(t, string(got), `"type":"relay-data"`)
	default:
		t.Fatal("expected the relay payload to be forwarded")
	}
}

func TestHandleDisconnectOnlyActsOnLastSocket(t *testing.T) {
	h := newTestHub(t)
	seedRoom(t, h, "room-1", "owner")

	c1, _ := newTestClient(h, "room-1", "owner")
	c2, _ := newTestClient(h, "room-1", "owner")
	h.registerSocket(c1)
	h.registerSocket(c2)

	h.handleDisconnect(t.Context(), c1)
	r, err := h.rooms.FindByID(t.Context(), "room-1")
	require.NoError(t, err)
	assert.True(t, r.HasPlayer("owner"), "room membership should survive while another socket is open")

	h.handleDisconnect(t.Context(), c2)
	_, err = h.rooms.FindByID(t.Context(), "room-1")
	assert.ErrorIs(t, err, signalerr.ErrUnknownRoom, "leaving on the last socket empties and removes the room")
}

// drain collects every frame currently buffered on a fakeConn without blocking.
func drain(conn *fakeConn) []string {
	var out []string
	for {
		select {
		case got := <-conn.written:
			out = append(out, string(got))
		default:
			return out
		}
	}
}

func anyContains(frames []string, substr string) bool {
	for _, f := range frames {
		if strings.Contains(f, substr) {
			return true
		}
	}
	return false
}
