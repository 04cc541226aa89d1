// Package connsvc implements the connection health tracker from spec §4.5:
// an in-memory directory, keyed by the directed connection id, that mirrors
// peer-connection state transitions, drives reconnection attempts, reaps
// stale or exhausted pairs, and tracks websocket fallback-relay mode.
//
// The monitor and reaper loops follow the same injected-callback shape as
// the queue package's drain loop (internal/v1/queue): the tracker never
// holds a reference back into the gateway. It calls out through a
// ReconnectNotifier instead, breaking the cycle described in spec §9.
package connsvc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/nullwave/signalbroker/internal/v1/events"
	"github.com/nullwave/signalbroker/internal/v1/metrics"
	"github.com/nullwave/signalbroker/internal/v1/peerconn"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

const (
	staleConnectedThreshold = 30 * time.Second
	reapIdleThreshold       = 5 * time.Minute
	maxReconnectAttempts    = 3

	monitorInterval = 10 * time.Second
	reapInterval    = 60 * time.Second
)

// ReconnectNotifier is the out-of-band gateway call invoked when
// triggerReconnection decides a pair needs to hear about it (spec §4.7). The
// tracker is constructed with one and never calls back into the gateway any
// other way.
type ReconnectNotifier func(ctx context.Context, roomID types.RoomID, connID types.ConnectionID)

// entry is the in-memory health record for one directed pairwise connection.
type entry struct {
	connectionID      types.ConnectionID
	roomID            types.RoomID
	state             types.ConnectionState
	lastUpdated       time.Time
	reconnectAttempts int
	fallbackMode      types.FallbackMode
}

// Stats is the result of getConnectionStats (spec §4.5): counts partitioned
// by state, plus the total.
type Stats struct {
	Total   int
	ByState map[types.ConnectionState]int
}

// Tracker is the connection health directory.
type Tracker struct {
	mu      sync.Mutex
	entries map[types.ConnectionID]*entry

	repo      peerconn.Repository
	publisher *events.Publisher
	notify    ReconnectNotifier
	now       func() time.Time
}

// NewTracker constructs a Tracker. repo is used to load/persist/delete the
// underlying peer-connection aggregates; publisher receives the domain
// events each aggregate mutation produces; notify is the gateway hook used
// by triggerReconnection.
func NewTracker(repo peerconn.Repository, publisher *events.Publisher, notify ReconnectNotifier) *Tracker {
	return &Tracker{
		entries:   make(map[types.ConnectionID]*entry),
		repo:      repo,
		publisher: publisher,
		notify:    notify,
		now:       time.Now,
	}
}

// UpdateConnectionState loads every peer-connection aggregate where peerID
// is either side of the directed key, transitions each, mirrors the
// transition into the in-memory health entry, persists the aggregate, and
// flushes its domain events (spec §4.5).
func (t *Tracker) UpdateConnectionState(ctx context.Context, peerID types.PeerID, newState types.ConnectionState) error {
	conns, err := t.repo.FindByPeerID(ctx, peerID)
	if err != nil {
		return err
	}

	for _, c := range conns {
		if err := t.transitionLocked(ctx, c, newState); err != nil {
			return err
		}
	}
	return nil
}

// transitionLocked performs one aggregate's load-mutate-save-pull cycle
// under its per-connection lock, so it cannot interleave with a concurrent
// queue drain mutating the same pair (spec §4.7).
func (t *Tracker) transitionLocked(ctx context.Context, c *peerconn.PeerConnection, newState types.ConnectionState) error {
	lock := t.repo.Lock(c.ID)
	lock.Lock()
	defer lock.Unlock()

	previous := c.State
	c.UpdateConnectionState(newState)

	t.mirror(c.ID, c.RoomID, previous, newState)

	if err := t.repo.Save(ctx, c); err != nil {
		return err
	}
	if err := t.publisher.PublishAll(ctx, c.PullDomainEvents()); err != nil {
		slog.Error("publish connection events failed", "connection", c.ID, "error", err)
	}
	return nil
}

func (t *Tracker) mirror(connID types.ConnectionID, roomID types.RoomID, previous, newState types.ConnectionState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[connID]
	if !ok {
		e = &entry{connectionID: connID, roomID: roomID, fallbackMode: types.FallbackNone}
		t.entries[connID] = e
	}

	if previous == types.StateConnected && (newState == types.StateDisconnected || newState == types.StateFailed) {
		e.reconnectAttempts++
	}
	if newState == types.StateConnected && (previous == types.StateDisconnected || previous == types.StateFailed) {
		e.reconnectAttempts = 0
	}

	e.state = newState
	e.lastUpdated = t.now()
	metrics.WebrtcConnectionAttempts.WithLabelValues(string(newState)).Inc()
}

// RunMonitor starts the stale-connection/failed-retry monitor loop (spec
// §4.5, 10s period). It blocks until ctx is done.
func (t *Tracker) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.monitorTick(ctx)
		}
	}
}

func (t *Tracker) monitorTick(ctx context.Context) {
	ctx, span := otel.Tracer("connsvc").Start(ctx, "connsvc.monitorTick")
	defer span.End()

	now := t.now()

	t.mu.Lock()
	var candidates []types.ConnectionID
	for id, e := range t.entries {
		if e.state == types.StateConnected && now.Sub(e.lastUpdated) > staleConnectedThreshold {
			candidates = append(candidates, id)
			continue
		}
		if e.state == types.StateFailed && e.reconnectAttempts < maxReconnectAttempts {
			candidates = append(candidates, id)
		}
	}
	t.mu.Unlock()

	for _, id := range candidates {
		t.triggerReconnection(ctx, id)
	}
}

// triggerReconnection refuses if the pair has exhausted its reconnect
// budget; otherwise it increments reconnectAttempts, refreshes lastUpdated,
// and invokes the injected notifier so the gateway can tell the
// counterpart peer (spec §4.5/§4.7).
func (t *Tracker) triggerReconnection(ctx context.Context, connID types.ConnectionID) bool {
	t.mu.Lock()
	e, ok := t.entries[connID]
	if !ok || e.reconnectAttempts >= maxReconnectAttempts {
		t.mu.Unlock()
		return false
	}
	e.reconnectAttempts++
	e.lastUpdated = t.now()
	roomID := e.roomID
	t.mu.Unlock()

	metrics.ReconnectAttempts.WithLabelValues(string(roomID)).Inc()
	if t.notify != nil {
		t.notify(ctx, roomID, connID)
	}
	return true
}

// RunReaper starts the stale/exhausted entry reaper loop (spec §4.5, 60s
// period). It blocks until ctx is done.
func (t *Tracker) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.reapTick(ctx)
		}
	}
}

func (t *Tracker) reapTick(ctx context.Context) {
	ctx, span := otel.Tracer("connsvc").Start(ctx, "connsvc.reapTick")
	defer span.End()

	now := t.now()

	t.mu.Lock()
	var dead []types.ConnectionID
	for id, e := range t.entries {
		idle := e.state != types.StateConnected && now.Sub(e.lastUpdated) > reapIdleThreshold
		exhausted := e.reconnectAttempts >= maxReconnectAttempts &&
			(e.state == types.StateDisconnected || e.state == types.StateFailed)
		if idle || exhausted {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	for _, id := range dead {
		if err := t.repo.Delete(ctx, id); err != nil {
			slog.Error("reap connection failed", "connection", id, "error", err)
		}
	}
}

// SetFallbackMode resolves the entry by either direction (local,remote) or
// (remote,local); if missing from memory, it hydrates from the repository,
// and a pair the repository does not hold either gets a fresh entry keyed
// (local,remote). Transitioning into websocket fallback grants a grace: reconnectAttempts
// is decremented by at most one, floored at zero (spec §4.5).
func (t *Tracker) SetFallbackMode(ctx context.Context, local, remote types.PeerID, mode types.FallbackMode) error {
	connID := types.ConnectionID{Local: local, Remote: remote}

	t.mu.Lock()
	e, ok := t.entries[connID]
	if !ok {
		if rev, revOK := t.entries[connID.Reverse()]; revOK {
			e, ok, connID = rev, true, connID.Reverse()
		}
	}
	t.mu.Unlock()

	if !ok {
		c, err := t.repo.FindByID(ctx, connID)
		if err != nil {
			if rc, revErr := t.repo.FindByID(ctx, connID.Reverse()); revErr == nil {
				c, connID = rc, connID.Reverse()
			} else {
				c = nil
			}
		}
		t.mu.Lock()
		if existing, already := t.entries[connID]; already {
			e, ok = existing, true
		} else {
			e = &entry{connectionID: connID, state: types.StateNew, fallbackMode: types.FallbackNone}
			if c != nil {
				e.roomID, e.state = c.RoomID, c.State
			}
			t.entries[connID] = e
			ok = true
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wasFallback := e.fallbackMode == types.FallbackWebsocket
	e.fallbackMode = mode
	e.lastUpdated = t.now()

	switch {
	case mode == types.FallbackWebsocket && !wasFallback:
		if e.reconnectAttempts > 0 {
			e.reconnectAttempts--
		}
		metrics.FallbackActiveConnections.Inc()
	case mode != types.FallbackWebsocket && wasFallback:
		metrics.FallbackActiveConnections.Dec()
	}
	return nil
}

// IsUsingFallback reports whether the pair identified by connID (in either
// direction) is currently in websocket fallback mode.
func (t *Tracker) IsUsingFallback(connID types.ConnectionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[connID]; ok {
		return e.fallbackMode == types.FallbackWebsocket
	}
	if e, ok := t.entries[connID.Reverse()]; ok {
		return e.fallbackMode == types.FallbackWebsocket
	}
	return false
}

// FallbackConnectionCount returns the count of entries currently in
// websocket fallback mode (spec §4.5 getFallbackConnectionCount).
func (t *Tracker) FallbackConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.fallbackMode == types.FallbackWebsocket {
			n++
		}
	}
	return n
}

// Stats returns counts partitioned by state plus the total (spec §4.5
// getConnectionStats), and refreshes the ConnectionsByState gauge.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	byState := make(map[types.ConnectionState]int)
	for _, e := range t.entries {
		byState[e.state]++
	}
	for _, s := range []types.ConnectionState{
		types.StateNew, types.StateConnecting, types.StateConnected, types.StateDisconnected, types.StateFailed,
	} {
		metrics.ConnectionsByState.WithLabelValues(string(s)).Set(float64(byState[s]))
	}

	return Stats{Total: len(t.entries), ByState: byState}
}
