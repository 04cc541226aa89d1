package gateway

import (
	"context"
	"time"

	"github.com/nullwave/signalbroker/internal/v1/metrics"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

// roomStat is the gateway-local cache of a room's size, used for the join
// admission check (spec §3 Room-stats: member count, pairwise connection
// count, last-updated timestamp).
type roomStat struct {
	memberCount     int
	connectionCount int
	lastUpdated     time.Time
}

// refreshStats recomputes and caches a room's stats ahead of a join
// admission decision, and records a ratio warning when the room's pairwise
// connection count strays far from the n*(n-1)/2 expectation for its
// member count (spec §3 testable property, spec §8).
func (h *Hub) refreshStats(ctx context.Context, roomID types.RoomID) roomStat {
	memberCount := 0
	if r, err := h.rooms.FindByID(ctx, roomID); err == nil {
		memberCount = r.MemberCount()
	}

	conns, _ := h.conns.FindByRoomID(ctx, roomID)
	connectionCount := len(conns)

	st := roomStat{memberCount: memberCount, connectionCount: connectionCount, lastUpdated: time.Now()}

	h.mu.Lock()
	h.stats[roomID] = &st
	h.mu.Unlock()

	metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(memberCount))

	if expected := float64(memberCount*(memberCount-1)) / 2; expected > 0 {
		ratio := float64(connectionCount) / expected
		if ratio < 0.8 || ratio > 1.5 {
			metrics.RoomConnectionRatioWarnings.WithLabelValues(string(roomID)).Inc()
		}
	}

	return st
}

// statsMonitorLoop periodically reaps idle room-stat entries and drops the
// cache for rooms that have gone inactive or empty (spec §9 room-stats
// monitor, 30s default period).
func (h *Hub) statsMonitorLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.RoomStatsMonitor)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.statsMonitorTick(ctx)
		}
	}
}

func (h *Hub) statsMonitorTick(ctx context.Context) {
	now := time.Now()

	h.mu.Lock()
	type candidate struct {
		roomID      types.RoomID
		lastUpdated time.Time
	}
	candidates := make([]candidate, 0, len(h.stats))
	for roomID, st := range h.stats {
		candidates = append(candidates, candidate{roomID: roomID, lastUpdated: st.lastUpdated})
	}
	h.mu.Unlock()

	var activeRooms int
	var stale []types.RoomID
	for _, cand := range candidates {
		idle := now.Sub(cand.lastUpdated) > 10*time.Minute
		inactiveCandidate := now.Sub(cand.lastUpdated) > 5*time.Minute
		inactive := inactiveCandidate && h.isRoomInactiveOrEmpty(ctx, cand.roomID)

		if idle || inactive {
			stale = append(stale, cand.roomID)
			continue
		}
		activeRooms++
	}

	h.mu.Lock()
	for _, roomID := range stale {
		delete(h.stats, roomID)
		metrics.RoomMembers.DeleteLabelValues(string(roomID))
	}
	h.mu.Unlock()

	metrics.ActiveRooms.Set(float64(activeRooms))
}

func (h *Hub) isRoomInactiveOrEmpty(ctx context.Context, roomID types.RoomID) bool {
	r, err := h.rooms.FindByID(ctx, roomID)
	if err != nil {
		return true
	}
	return !r.IsActive() || r.MemberCount() == 0
}
