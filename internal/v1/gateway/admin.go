package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nullwave/signalbroker/internal/v1/room"
	"github.com/nullwave/signalbroker/internal/v1/signalerr"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

// rulesRequest is the shared request body shape for the §6.2 admin
// endpoints that carry room rules.
type rulesRequest struct {
	OwnerID         string `json:"ownerId" binding:"required"`
	MaxPlayers      int    `json:"maxPlayers"`
	AllowRelay      bool   `json:"allowRelay"`
	LatencyTargetMs int    `json:"latencyTargetMs"`
	OpusBitrate     int    `json:"opusBitrate"`
}

func (r rulesRequest) toRules() types.Rules {
	return types.Rules{
		MaxPlayers:      r.MaxPlayers,
		AllowRelay:      r.AllowRelay,
		LatencyTargetMs: r.LatencyTargetMs,
		OpusBitrate:     r.OpusBitrate,
	}
}

// CreateRoom handles POST /rooms (spec §6.2): constructs a Room aggregate
// owned by the caller and persists it.
func (h *Hub) CreateRoom(c *gin.Context) {
	var req rulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := types.RoomID(uuid.NewString())
	r, err := room.New(roomID, types.PeerID(req.OwnerID), req.toRules())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	evts := r.PullDomainEvents()
	if err := h.rooms.Save(ctx, r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.publishAndMirror(ctx, roomID, evts)

	c.JSON(http.StatusCreated, gin.H{"roomId": roomID, "ownerId": r.OwnerID, "rules": r.Rules})
}

// PatchRules handles PATCH /rooms/:id/rules (spec §6.2): only the room's
// owner may mutate its rules, serialized under the room's lock.
func (h *Hub) PatchRules(c *gin.Context) {
	roomID := types.RoomID(c.Param("id"))

	var req rulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lock := h.rooms.Lock(roomID)
	lock.Lock()
	defer lock.Unlock()

	ctx := c.Request.Context()
	r, err := h.rooms.FindByID(ctx, roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if !r.IsOwner(types.PeerID(req.OwnerID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": signalerr.ErrNotRoomOwner.Error()})
		return
	}

	rules := req.toRules()
	if err := r.UpdateRules(rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evts := r.PullDomainEvents()
	if err := h.rooms.Save(ctx, r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.publishAndMirror(ctx, roomID, evts)
	h.broadcastRoom(roomID, frame("room-rule-changed", map[string]any{
		"roomId": roomID,
		"rules":  rules,
	}), nil)

	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "rules": rules})
}

// DeleteRoom handles DELETE /rooms/:id (spec §6.2): an administrative close
// that the owner can trigger regardless of current membership.
func (h *Hub) DeleteRoom(c *gin.Context) {
	roomID := types.RoomID(c.Param("id"))

	var req struct {
		OwnerID string `json:"ownerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lock := h.rooms.Lock(roomID)
	lock.Lock()
	defer lock.Unlock()

	ctx := c.Request.Context()
	r, err := h.rooms.FindByID(ctx, roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if !r.IsOwner(types.PeerID(req.OwnerID)) {
		c.JSON(http.StatusForbidden, gin.H{"error": signalerr.ErrNotRoomOwner.Error()})
		return
	}

	if err := r.Close(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evts := r.PullDomainEvents()
	if err := h.rooms.Save(ctx, r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.publishAndMirror(ctx, roomID, evts)
	h.broadcastRoom(roomID, frame("room-closed", map[string]any{"roomId": roomID}), nil)

	c.JSON(http.StatusOK, gin.H{"roomId": roomID})
}

// GetRoom handles GET /rooms/:id (spec §6.2): a read-only snapshot of a
// room's current state.
func (h *Hub) GetRoom(c *gin.Context) {
	roomID := types.RoomID(c.Param("id"))

	r, err := h.rooms.FindByID(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": gin.H{
		"roomId":  r.ID,
		"ownerId": r.OwnerID,
		"rules":   r.Rules,
		"players": r.Members(),
		"active":  r.IsActive(),
	}})
}
