package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullwave/signalbroker/internal/v1/config"
	"github.com/nullwave/signalbroker/internal/v1/events"
	"github.com/nullwave/signalbroker/internal/v1/peerconn"
	"github.com/nullwave/signalbroker/internal/v1/ratelimit"
	"github.com/nullwave/signalbroker/internal/v1/room"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

// newTestHub builds a Hub wired to fresh in-memory repositories and a
// permissive in-memory rate limiter, with no auth validator and no mirror
// bus — the shape every handler/usecase test in this package starts from.
func newTestHub(t *testing.T) *Hub {
	t.Helper()

	cfg := &config.Config{
		MaxConnectionsPerRoom: 20,
		MessageQueueDrain:     50 * time.Millisecond,
		MessageQueueBatchSize: 10,
		RoomStatsMonitor:      time.Minute,
	}

	lim, err := ratelimit.New("1000-H", "1000-H", nil)
	require.NoError(t, err)

	return NewHub(cfg, room.NewMemoryRepository(), peerconn.NewMemoryRepository(), events.NewPublisher(), nil, lim, nil, nil)
}

// fakeConn is a minimal in-memory wsConnection used to exercise Client
// without a real network socket.
type fakeConn struct {
	written chan []byte
	closed  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{written: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errFakeConnClosed
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case f.written <- append([]byte(nil), data...):
	default:
	}
	return nil
}

func (f *fakeConn) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

var errFakeConnClosed = errors.New("fake connection closed")

func newTestClient(h *Hub, roomID, peerID string) (*Client, *fakeConn) {
	conn := newFakeConn()
	c := newClient(h, conn, types.RoomID(roomID), types.PeerID(peerID))
	return c, conn
}
