package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nullwave/signalbroker/internal/v1/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// wsConnection is the subset of *websocket.Conn the Client needs, grounded
// on the teacher's transport.wsConnection seam for testability.
type wsConnection interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	SetPongHandler(func(string) error)
}

// Client is one open socket for one peer in one room. A peer may hold more
// than one open Client (multiple tabs/devices); the gateway fans events out
// to every socket registered for a peer id.
type Client struct {
	hub    *Hub
	conn   wsConnection
	roomID types.RoomID
	peerID types.PeerID
	send   chan []byte
}

func newClient(h *Hub, conn wsConnection, roomID types.RoomID, peerID types.PeerID) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		roomID: roomID,
		peerID: peerID,
		send:   make(chan []byte, sendBuffer),
	}
}

// sendFrame queues a frame for delivery without blocking; a full buffer
// means a stalled client, and the frame is dropped rather than backing up
// the hub (spec §5: slow clients must not stall the broker).
func (c *Client) sendFrame(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("dropping frame for slow client", "peer", c.peerID, "room", c.roomID)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(context.Background(), c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env inbound
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendFrame(errorFrame("", "malformed message"))
			continue
		}
		c.hub.route(context.Background(), c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
