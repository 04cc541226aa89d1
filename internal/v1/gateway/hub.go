// Package gateway implements the WebSocket signaling surface and the §6.2
// HTTP admin surface from spec §4.6: the process boundary where transport
// (gorilla/websocket sockets, gin HTTP handlers) meets the domain layer
// (room, peerconn, queue, connsvc). The socket-registry-plus-readPump-plus-
// writePump shape is grounded on the teacher's transport.Hub/transport.Client;
// unlike the teacher, there is exactly one Hub type here (the teacher
// duplicates this concept across transport/ and session/).
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nullwave/signalbroker/internal/v1/auth"
	"github.com/nullwave/signalbroker/internal/v1/bus"
	"github.com/nullwave/signalbroker/internal/v1/config"
	"github.com/nullwave/signalbroker/internal/v1/connsvc"
	"github.com/nullwave/signalbroker/internal/v1/events"
	"github.com/nullwave/signalbroker/internal/v1/logging"
	"github.com/nullwave/signalbroker/internal/v1/metrics"
	"github.com/nullwave/signalbroker/internal/v1/peerconn"
	"github.com/nullwave/signalbroker/internal/v1/queue"
	"github.com/nullwave/signalbroker/internal/v1/ratelimit"
	"github.com/nullwave/signalbroker/internal/v1/room"
	"github.com/nullwave/signalbroker/internal/v1/signalerr"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

// Hub owns the socket registry, the room/peer-connection repositories, and
// the background services (message queue drain, connection health
// monitor/reaper, room-stats maintenance). It depends on the concrete
// in-memory repositories rather than their interfaces because join/leave
// admission is serialized through room.MemoryRepository.Lock — a
// per-aggregate transaction boundary spec §4.2 assumes exists, and this
// single-process deployment has no reason to swap storage backends.
type Hub struct {
	cfg        *config.Config
	rooms      *room.MemoryRepository
	conns      *peerconn.MemoryRepository
	publisher  *events.Publisher
	queue      *queue.Manager
	health     *connsvc.Tracker
	bus        *bus.Service
	limiter    *ratelimit.Limiter
	validator  *auth.Validator
	upgrader   websocket.Upgrader
	origins    []string
	instanceID string

	mu          sync.Mutex
	peerSockets map[types.PeerID]map[*Client]struct{}
	roomSockets map[types.RoomID]map[*Client]struct{}
	stats       map[types.RoomID]*roomStat
	subscribed  map[types.RoomID]bool
	wg          sync.WaitGroup
}

// NewHub wires a Hub together. validator may be nil only in tests that
// don't exercise ServeWS's handshake check; busSvc may be nil when
// cross-instance mirroring is disabled (spec §9).
func NewHub(
	cfg *config.Config,
	rooms *room.MemoryRepository,
	conns *peerconn.MemoryRepository,
	publisher *events.Publisher,
	busSvc *bus.Service,
	limiter *ratelimit.Limiter,
	validator *auth.Validator,
	allowedOrigins []string,
) *Hub {
	h := &Hub{
		cfg:         cfg,
		rooms:       rooms,
		conns:       conns,
		publisher:   publisher,
		bus:         busSvc,
		limiter:     limiter,
		validator:   validator,
		origins:     allowedOrigins,
		instanceID:  uuid.NewString(),
		peerSockets: make(map[types.PeerID]map[*Client]struct{}),
		roomSockets: make(map[types.RoomID]map[*Client]struct{}),
		stats:       make(map[types.RoomID]*roomStat),
		subscribed:  make(map[types.RoomID]bool),
	}
	h.queue = queue.NewManager(h.batchProcessConnection, cfg.MessageQueueDrain, cfg.MessageQueueBatchSize)
	h.health = connsvc.NewTracker(conns, publisher, h.notifyReconnect)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
		CheckOrigin:     func(r *http.Request) bool { return validateOrigin(r, h.origins) },
	}
	return h
}

// Run starts the background services: the queue drain loop, the
// connection-health monitor and reaper, and the room-stats maintenance
// loop. It returns immediately; the goroutines stop when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	go h.queue.Run(ctx)
	go h.health.RunMonitor(ctx)
	go h.health.RunReaper(ctx)
	go h.statsMonitorLoop(ctx)
}

// Shutdown stops the drain loop, notifies and closes every open socket,
// and closes the event-mirror bus if one is wired.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.queue.Stop()

	h.mu.Lock()
	clients := make([]*Client, 0)
	for _, set := range h.peerSockets {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	goodbye := errorFrame("", "server shutting down")
	for _, c := range clients {
		c.sendFrame(goodbye)
		_ = c.conn.Close()
	}

	if h.bus != nil {
		return h.bus.Close()
	}
	return nil
}

// ServeWS handles the WebSocket upgrade and handshake admission chain from
// spec §4.6: IP rate limit, roomId/peerId presence, handshake token
// verification, peer rate limit, then upgrade. Room membership is NOT
// established here — the client must still send an explicit "join" message
// (spec §9: connecting a socket is not the same as joining a room).
func (h *Hub) ServeWS(c *gin.Context) {
	if !h.limiter.CheckIP(c) {
		return
	}

	roomID := types.RoomID(c.Query("roomId"))
	peerID := types.PeerID(c.Query("peerId"))
	if roomID == "" || peerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": signalerr.ErrMissingHandshakeFields.Error()})
		return
	}

	if h.validator != nil {
		claims, err := h.validator.ValidateToken(c.Query("token"))
		if err != nil || types.PeerID(claims.Subject) != peerID {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid handshake token"})
			return
		}
	}

	if err := h.limiter.CheckPeer(c.Request.Context(), string(peerID)); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, roomID, peerID)
	h.registerSocket(client)
	metrics.IncConnection()

	go client.writePump()
	go client.readPump()
}

func (h *Hub) registerSocket(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.peerSockets[c.peerID] == nil {
		h.peerSockets[c.peerID] = make(map[*Client]struct{})
	}
	h.peerSockets[c.peerID][c] = struct{}{}

	if h.roomSockets[c.roomID] == nil {
		h.roomSockets[c.roomID] = make(map[*Client]struct{})
	}
	h.roomSockets[c.roomID][c] = struct{}{}
}

// unregisterSocket removes c from both registries and reports whether this
// was the peer's last open socket.
func (h *Hub) unregisterSocket(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.peerSockets[c.peerID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.peerSockets, c.peerID)
		}
	}
	if set, ok := h.roomSockets[c.roomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.roomSockets, c.roomID)
		}
	}

	_, stillOpen := h.peerSockets[c.peerID]
	return !stillOpen
}

func (h *Hub) broadcastRoom(roomID types.RoomID, data []byte, except *Client) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.roomSockets[roomID]))
	for c := range h.roomSockets[roomID] {
		if c == except {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.sendFrame(data)
	}
}

func (h *Hub) unicastPeer(peerID types.PeerID, data []byte) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.peerSockets[peerID]))
	for c := range h.peerSockets[peerID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.sendFrame(data)
	}
}

// validateOrigin matches the teacher's transport.validateOrigin: an empty
// Origin header (non-browser clients) is allowed through, otherwise the
// scheme+host must match one of the configured allowed origins.
func validateOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		return false
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		allowedURL, err := url.Parse(a)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}
