package peerconn

import (
	"context"
	"sync"

	"github.com/nullwave/signalbroker/internal/v1/signalerr"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

// Repository is the persistence contract from spec §6.4.
type Repository interface {
	FindByID(ctx context.Context, id types.ConnectionID) (*PeerConnection, error)
	FindByRoomID(ctx context.Context, roomID types.RoomID) ([]*PeerConnection, error)
	// FindByPeerID matches a connection where peer is either the local or
	// the remote side of the directed key (spec §6.4 "matches either
	// direction").
	FindByPeerID(ctx context.Context, peer types.PeerID) ([]*PeerConnection, error)
	Save(ctx context.Context, c *PeerConnection) error
	Delete(ctx context.Context, id types.ConnectionID) error
	// Lock returns the per-connection mutex serializing load-mutate-save
	// cycles against id, creating it on first use (spec §4.7 per-aggregate
	// serialization contract, mirroring room.MemoryRepository's Lock).
	Lock(id types.ConnectionID) *sync.Mutex
}

// MemoryRepository is an in-memory Repository keyed by the directed
// (local, remote) composite key. Each connection's read-modify-write cycle
// is serialized by a per-connection mutex, mirroring room.MemoryRepository,
// so a queue drain and a connsvc state update racing on the same pair
// cannot interleave their load-mutate-save-pull sequences.
type MemoryRepository struct {
	mu    sync.RWMutex
	conns map[types.ConnectionID]*PeerConnection
	locks map[types.ConnectionID]*sync.Mutex
}

// NewMemoryRepository constructs an empty in-memory peer-connection repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		conns: make(map[types.ConnectionID]*PeerConnection),
		locks: make(map[types.ConnectionID]*sync.Mutex),
	}
}

// Lock returns the per-connection mutex used to serialize mutating
// use-cases against this aggregate, creating it on first use. Callers
// should hold this lock for the duration of load -> mutate -> Save -> Pull.
func (m *MemoryRepository) Lock(id types.ConnectionID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *MemoryRepository) FindByID(_ context.Context, id types.ConnectionID) (*PeerConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, signalerr.ErrUnknownPeer
	}
	return c, nil
}

func (m *MemoryRepository) FindByRoomID(_ context.Context, roomID types.RoomID) ([]*PeerConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PeerConnection
	for _, c := range m.conns {
		if c.RoomID == roomID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryRepository) FindByPeerID(_ context.Context, peer types.PeerID) ([]*PeerConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PeerConnection
	for _, c := range m.conns {
		if c.ID.Local == peer || c.ID.Remote == peer {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryRepository) Save(_ context.Context, c *PeerConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.ID] = c
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id types.ConnectionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
	return nil
}

// GetOrCreate returns the existing aggregate for id, or lazily creates one
// in state "new" (spec §3 lifecycle: "lazily created by the signal service
// on first signaling message for a pair").
func (m *MemoryRepository) GetOrCreate(roomID types.RoomID, id types.ConnectionID) *PeerConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[id]; ok {
		return c
	}
	c := New(roomID, id.Local, id.Remote)
	m.conns[id] = c
	return c
}
