package gateway

import (
	"context"
	"time"

	"github.com/nullwave/signalbroker/internal/v1/metrics"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

// route dispatches one decoded inbound message to its handler (spec §6.1's
// client->server event list). Unknown types get a free-form error frame
// rather than being silently dropped.
func (h *Hub) route(ctx context.Context, c *Client, env inbound) {
	start := time.Now()
	defer func() {
		metrics.WebsocketEvents.WithLabelValues(env.Type, "processed").Inc()
		metrics.MessageProcessingDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	}()

	switch env.Type {
	case "join":
		h.handleJoin(ctx, c, env)
	case "leave":
		h.handleLeave(ctx, c, env)
	case "offer":
		h.handleSignal(ctx, c, types.SignalOffer, env)
	case "answer":
		h.handleSignal(ctx, c, types.SignalAnswer, env)
	case "ice-candidate":
		h.handleSignal(ctx, c, types.SignalIceCandidate, env)
	case "connection-state":
		h.handleConnectionState(ctx, c, env)
	case "reconnect-request":
		h.handleReconnectRequest(ctx, c, env)
	case "webrtc-fallback-activate":
		h.handleFallbackActivate(ctx, c, env)
	case "relay-data":
		h.handleRelayData(ctx, c, env)
	default:
		c.sendFrame(errorFrame("", "unknown message type: "+env.Type))
	}
}
