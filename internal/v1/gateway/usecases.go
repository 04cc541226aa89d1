package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/nullwave/signalbroker/internal/v1/bus"
	"github.com/nullwave/signalbroker/internal/v1/events"
	"github.com/nullwave/signalbroker/internal/v1/logging"
	"github.com/nullwave/signalbroker/internal/v1/queue"
	"github.com/nullwave/signalbroker/internal/v1/room"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

// joinRoom loads, mutates, saves, and publishes under the room's
// per-aggregate lock (spec §4.2/§4.7).
func (h *Hub) joinRoom(ctx context.Context, roomID types.RoomID, peerID types.PeerID) (*room.Room, error) {
	lock := h.rooms.Lock(roomID)
	lock.Lock()
	defer lock.Unlock()

	r, err := h.rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := r.Join(peerID); err != nil {
		return nil, err
	}

	evts := r.PullDomainEvents()
	if err := h.rooms.Save(ctx, r); err != nil {
		return nil, err
	}
	h.publishAndMirror(ctx, roomID, evts)
	h.ensureRoomSubscription(roomID)
	return r, nil
}

// leaveRoom loads, mutates, saves, and publishes under the room's
// per-aggregate lock. A leave that empties the room also closes it in the
// same aggregate operation (room.Room.Leave).
func (h *Hub) leaveRoom(ctx context.Context, roomID types.RoomID, peerID types.PeerID) error {
	lock := h.rooms.Lock(roomID)
	lock.Lock()
	defer lock.Unlock()

	r, err := h.rooms.FindByID(ctx, roomID)
	if err != nil {
		return err
	}
	if err := r.Leave(peerID); err != nil {
		return err
	}

	evts := r.PullDomainEvents()
	if err := h.rooms.Save(ctx, r); err != nil {
		return err
	}
	h.publishAndMirror(ctx, roomID, evts)
	return nil
}

// publishAndMirror flushes a batch of domain events to the local publisher
// and, when an event-mirror bus is wired, to sibling broker instances.
func (h *Hub) publishAndMirror(ctx context.Context, roomID types.RoomID, evts []events.Event) {
	if err := h.publisher.PublishAll(ctx, evts); err != nil {
		logging.Error(ctx, "publish domain events failed", zap.Error(err))
	}
	if h.bus == nil {
		return
	}
	for _, e := range evts {
		if err := h.bus.Publish(ctx, string(roomID), string(e.EventName), e.Payload, h.instanceID); err != nil {
			logging.Error(ctx, "mirror publish failed", zap.Error(err))
		}
	}
}

// ensureRoomSubscription subscribes the hub to a room's mirror channel the
// first time it sees local activity for that room. Idempotent per room.
func (h *Hub) ensureRoomSubscription(roomID types.RoomID) {
	if h.bus == nil {
		return
	}

	h.mu.Lock()
	already := h.subscribed[roomID]
	if !already {
		h.subscribed[roomID] = true
	}
	h.mu.Unlock()

	if already {
		return
	}
	h.bus.Subscribe(context.Background(), string(roomID), &h.wg, h.onMirroredEvent)
}

// onMirroredEvent rebroadcasts an event published by a sibling broker
// instance to this instance's local sockets for the room. The bus hands
// every message on the channel to the handler regardless of origin, so
// this instance's own echoes (SenderID == h.instanceID) are filtered here.
func (h *Hub) onMirroredEvent(env bus.Envelope) {
	if env.SenderID == h.instanceID {
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(env.Payload, &fields); err != nil {
		return
	}
	h.broadcastRoom(types.RoomID(env.RoomID), frame(env.Event, fields), nil)
}

// notifyReconnect is the connsvc.ReconnectNotifier the tracker calls when a
// failed/stale pair needs the counterpart told to restart ICE.
func (h *Hub) notifyReconnect(ctx context.Context, roomID types.RoomID, connID types.ConnectionID) {
	h.unicastPeer(connID.Remote, frame("reconnect-needed", map[string]any{
		"from":   connID.Local,
		"roomId": roomID,
	}))
}

// batchProcessConnection is the queue.DrainFunc injected into the queue
// manager: it replays a coalesced group of signaling messages into the
// peer-connection aggregate for that directed pair (spec §4.4/§4.3).
func (h *Hub) batchProcessConnection(ctx context.Context, g queue.Group) error {
	lock := h.conns.Lock(g.ConnectionID)
	lock.Lock()
	defer lock.Unlock()

	pc := h.conns.GetOrCreate(g.RoomID, g.ConnectionID)

	if g.Offer != nil {
		pc.HandleOffer()
	}
	if g.Answer != nil {
		pc.HandleAnswer()
	}
	for range g.IceCandidates {
		pc.HandleIceCandidate()
	}

	if err := h.conns.Save(ctx, pc); err != nil {
		return err
	}
	return h.publisher.PublishAll(ctx, pc.PullDomainEvents())
}
