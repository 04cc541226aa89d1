package gateway

import (
	"context"
	"encoding/json"

	"github.com/nullwave/signalbroker/internal/v1/metrics"
	"github.com/nullwave/signalbroker/internal/v1/queue"
	"github.com/nullwave/signalbroker/internal/v1/signalerr"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

func (h *Hub) handleJoin(ctx context.Context, c *Client, env inbound) {
	roomID := types.RoomID(env.RoomID)
	peerID := types.PeerID(env.PeerID)

	stat := h.refreshStats(ctx, roomID)
	if stat.connectionCount >= h.cfg.MaxConnectionsPerRoom {
		c.sendFrame(errorFrame(signalerr.Code(signalerr.ErrMaxConnections), signalerr.ErrMaxConnections.Error()))
		return
	}

	r, err := h.joinRoom(ctx, roomID, peerID)
	if err != nil {
		c.sendFrame(errorFrame(signalerr.Code(err), err.Error()))
		return
	}

	h.broadcastRoom(roomID, frame("player-joined", map[string]any{
		"roomId":       roomID,
		"peerId":       peerID,
		"totalPlayers": r.MemberCount(),
		"isRoomOwner":  r.IsOwner(peerID),
	}), nil)

	c.sendFrame(frame("room-state", map[string]any{
		"roomId":  roomID,
		"ownerId": r.OwnerID,
		"players": r.Members(),
		"rules":   r.Rules,
	}))
}

func (h *Hub) handleLeave(ctx context.Context, c *Client, env inbound) {
	roomID := types.RoomID(env.RoomID)
	peerID := types.PeerID(env.PeerID)

	if err := h.leaveRoom(ctx, roomID, peerID); err != nil {
		c.sendFrame(errorFrame(signalerr.Code(err), err.Error()))
		return
	}

	h.broadcastRoom(roomID, frame("player-left", map[string]any{
		"roomId": roomID,
		"peerId": peerID,
	}), nil)
}

// handleSignal relays an offer/answer/ice-candidate directly to its target
// (if reachable) and enqueues it onto the room's prioritized queue for the
// coalescing drain tick that feeds the peer-connection aggregate (spec
// §4.4/§4.6).
func (h *Hub) handleSignal(ctx context.Context, c *Client, sigType types.SignalType, env inbound) {
	roomID := types.RoomID(env.RoomID)
	from := types.PeerID(env.From)
	to := types.PeerID(env.To)

	var payload json.RawMessage
	var wireField string
	switch sigType {
	case types.SignalOffer:
		payload, wireField = env.Offer, "offer"
	case types.SignalAnswer:
		payload, wireField = env.Answer, "answer"
	case types.SignalIceCandidate:
		payload, wireField = env.Candidate, "candidate"
	}

	h.unicastPeer(to, frame(string(sigType), map[string]any{
		"roomId":  roomID,
		"from":    from,
		wireField: payload,
	}))

	h.queue.Enqueue(queue.NewMessage(roomID, sigType, from, to, payload))
}

// handleConnectionState mirrors a reported connection-state transition into
// the health tracker, notifies the counterpart side(s), and — whenever the
// reported state is failed and the pair isn't already in fallback — suggests
// the websocket fallback relay to both sides (spec §4.5/§4.6).
func (h *Hub) handleConnectionState(ctx context.Context, c *Client, env inbound) {
	peerID := types.PeerID(env.PeerID)
	newState := types.ConnectionState(env.State)
	if !newState.Valid() {
		c.sendFrame(errorFrame("", "invalid connection state: "+env.State))
		return
	}

	if err := h.health.UpdateConnectionState(ctx, peerID, newState); err != nil {
		c.sendFrame(errorFrame("", err.Error()))
		return
	}

	pairs, err := h.conns.FindByPeerID(ctx, peerID)
	if err != nil {
		return
	}

	for _, pc := range pairs {
		counterpart := pc.ID.Remote
		if counterpart == peerID {
			counterpart = pc.ID.Local
		}

		h.unicastPeer(counterpart, frame("peer-connection-state", map[string]any{
			"roomId": pc.RoomID,
			"peerId": peerID,
			"state":  newState,
		}))

		if newState == types.StateFailed && !h.health.IsUsingFallback(pc.ID) {
			suggestion := frame("webrtc-fallback-suggested", map[string]any{
				"roomId": pc.RoomID,
				"from":   peerID,
				"reason": "connection failed",
			})
			h.unicastPeer(peerID, suggestion)
			h.unicastPeer(counterpart, suggestion)
		}
	}
}

// handleReconnectRequest verifies the target is still a room member before
// unicasting a reconnect-needed frame, so a stale request can't leak into a
// room the target already left (spec §4.6).
func (h *Hub) handleReconnectRequest(ctx context.Context, c *Client, env inbound) {
	roomID := types.RoomID(env.RoomID)
	from := types.PeerID(env.From)
	to := types.PeerID(env.To)

	r, err := h.rooms.FindByID(ctx, roomID)
	if err != nil || !r.HasPlayer(to) {
		c.sendFrame(errorFrame(signalerr.Code(signalerr.ErrPeerNotFound), signalerr.ErrPeerNotFound.Error()))
		return
	}

	h.unicastPeer(to, frame("reconnect-needed", map[string]any{
		"roomId": roomID,
		"from":   from,
	}))
}

// handleFallbackActivate switches a pair into websocket-relay fallback mode
// and acks the requester (spec §4.5/§4.6).
func (h *Hub) handleFallbackActivate(ctx context.Context, c *Client, env inbound) {
	roomID := types.RoomID(env.RoomID)
	from := types.PeerID(env.From)
	to := types.PeerID(env.To)

	r, err := h.rooms.FindByID(ctx, roomID)
	if err != nil || !r.HasPlayer(to) {
		c.sendFrame(errorFrame(signalerr.Code(signalerr.ErrPeerNotFound), signalerr.ErrPeerNotFound.Error()))
		return
	}

	if err := h.health.SetFallbackMode(ctx, from, to, types.FallbackWebsocket); err != nil {
		c.sendFrame(errorFrame("", err.Error()))
		return
	}

	h.unicastPeer(to, frame("webrtc-fallback-needed", map[string]any{
		"roomId": roomID,
		"from":   from,
	}))
	c.sendFrame(frame("webrtc-fallback-activated", map[string]any{
		"roomId":  roomID,
		"to":      to,
		"success": true,
	}))
}

// handleRelayData forwards an opaque payload over the fallback relay.
// Rejected with ERR_FALLBACK_NOT_ENABLED unless the pair is already in
// websocket fallback mode (spec §4.6).
func (h *Hub) handleRelayData(ctx context.Context, c *Client, env inbound) {
	from := types.PeerID(env.From)
	to := types.PeerID(env.To)
	connID := types.ConnectionID{Local: from, Remote: to}

	if !h.health.IsUsingFallback(connID) {
		c.sendFrame(errorFrame(signalerr.Code(signalerr.ErrFallbackNotEnabled), signalerr.ErrFallbackNotEnabled.Error()))
		return
	}

	h.unicastPeer(to, frame("relay-data", map[string]any{
		"roomId":  env.RoomID,
		"from":    from,
		"payload": env.Payload,
	}))
	metrics.RelayFramesForwarded.WithLabelValues(env.RoomID).Inc()
}

// handleDisconnect runs when a socket's readPump exits. Only once a peer's
// last open socket is gone does this trigger the connection-health
// "disconnected" transition and the room leave use-case (spec §4.6 — a
// peer with multiple open tabs is still "present" until all of them close).
func (h *Hub) handleDisconnect(ctx context.Context, c *Client) {
	wasLast := h.unregisterSocket(c)
	metrics.DecConnection()
	if !wasLast {
		return
	}

	_ = h.health.UpdateConnectionState(ctx, c.peerID, types.StateDisconnected)

	if err := h.leaveRoom(ctx, c.roomID, c.peerID); err != nil {
		return
	}
	h.broadcastRoom(c.roomID, frame("player-left", map[string]any{
		"roomId": c.roomID,
		"peerId": c.peerID,
	}), nil)
}
