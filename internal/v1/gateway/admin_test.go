package gateway

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullwave/signalbroker/internal/v1/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAdminContext(t *testing.T, method, path string, body any, params gin.Params) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	c.Request = httptest.NewRequest(method, path, &buf)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	return c, w
}

func TestCreateRoomPersistsAndPublishes(t *testing.T) {
	h := newTestHub(t)

	c, w := newAdminContext(t, "POST", "/rooms", map[string]any{
		"ownerId":    "owner",
		"maxPlayers": 4,
	}, nil)

	h.CreateRoom(c)

	assert.Equal(t, 201, w.Code)
	var resp struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RoomID)

	r, err := h.rooms.FindByID(t.Context(), types.RoomID(resp.RoomID))
	require.NoError(t, err)
	assert.Equal(t, types.PeerID("owner"), r.OwnerID)
}

func TestCreateRoomRejectsInvalidRules(t *testing.T) {
	h := newTestHub(t)
	c, w := newAdminContext(t, "POST", "/rooms", map[string]any{
		"ownerId":    "owner",
		"maxPlayers": 0,
	}, nil)

	h.CreateRoom(c)
	assert.Equal(t, 400, w.Code)
}

func TestPatchRulesRejectsNonOwner(t *testing.T) {
	h := newTestHub(t)
	seedRoom(t, h, "room-1", "owner")

	c, w := newAdminContext(t, "PATCH", "/rooms/room-1/rules", map[string]any{
		"ownerId":    "impostor",
		"maxPlayers": 8,
	}, gin.Params{{Key: "id", Value: "room-1"}})

	h.PatchRules(c)
	assert.Equal(t, 403, w.Code)
}

func TestPatchRulesUpdatesAndBroadcasts(t *testing.T) {
	h := newTestHub(t)
	seedRoom(t, h, "room-1", "owner")
	sock, conn := newTestClient(h, "room-1", "owner")
	h.registerSocket(sock)

	c, w := newAdminContext(t, "PATCH", "/rooms/room-1/rules", map[string]any{
		"ownerId":    "owner",
		"maxPlayers": 8,
	}, gin.Params{{Key: "id", Value: "room-1"}})

	h.PatchRules(c)
	assert.Equal(t, 200, w.Code)

	r, err := h.rooms.FindByID(t.Context(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, 8, r.Rules.MaxPlayers)

	select {
	case got := <-conn.written:
		assert.Contains(t, string(got), `"type":"room-rule-changed"`)
	default:
		t.Fatal("expected members to be told about the rule change")
	}
}

func TestDeleteRoomRejectsNonOwner(t *testing.T) {
	h := newTestHub(t)
	seedRoom(t, h, "room-1", "owner")

	c, w := newAdminContext(t, "DELETE", "/rooms/room-1", map[string]any{"ownerId": "impostor"}, gin.Params{{Key: "id", Value: "room-1"}})

	h.DeleteRoom(c)
	assert.Equal(t, 403, w.Code)
}

func TestDeleteRoomClosesAndBroadcasts(t *testing.T) {
	h := newTestHub(t)
	seedRoom(t, h, "room-1", "owner")
	sock, conn := newTestClient(h, "room-1", "owner")
	h.registerSocket(sock)

	c, w := newAdminContext(t, "DELETE", "/rooms/room-1", map[string]any{"ownerId": "owner"}, gin.Params{{Key: "id", Value: "room-1"}})

	h.DeleteRoom(c)
	assert.Equal(t, 200, w.Code)

	select {
	case got := <-conn.written:
		assert.Contains(t, string(got), `"type":"room-closed"`)
	default:
		t.Fatal("expected members to be told the room closed")
	}
}

func TestGetRoomReturnsSnapshot(t *testing.T) {
	h := newTestHub(t)
	seedRoom(t, h, "room-1", "owner")

	c, w := newAdminContext(t, "GET", "/rooms/room-1", nil, gin.Params{{Key: "id", Value: "room-1"}})
	h.GetRoom(c)

	assert.Equal(t, 200, w.Code)
	var resp struct {
		Room struct {
			OwnerID string `json:"ownerId"`
		} `json:"room"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "owner", resp.Room.OwnerID)
}

func TestGetRoomReturnsNotFoundForUnknownRoom(t *testing.T) {
	h := newTestHub(t)
	c, w := newAdminContext(t, "GET", "/rooms/ghost", nil, gin.Params{{Key: "id", Value: "ghost"}})
	h.GetRoom(c)
	assert.Equal(t, 404, w.Code)
}
