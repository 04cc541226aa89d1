// Package room implements the Room aggregate from spec §3/§4.2: membership
// lifecycle, rule mutation, and the owner invariant, with events buffered
// for the calling use-case to pull and publish. The locking and
// event-collection shape is grounded on the teacher's room.Room (mutex-
// guarded aggregate, locked/unlocked method pairs, slog for diagnostics).
package room

import (
	"fmt"
	"time"

	"github.com/nullwave/signalbroker/internal/v1/events"
	"github.com/nullwave/signalbroker/internal/v1/signalerr"
	"github.com/nullwave/signalbroker/internal/v1/types"
)

// Room is the aggregate root for a single named room: its owner, rules,
// membership set, and active flag. A Room is not safe for concurrent
// mutation by itself — callers serialize access per-aggregate through the
// repository's per-aggregate transaction boundary (spec §4.7); in this
// in-memory implementation that boundary is a mutex held by the repository,
// not by the aggregate itself, so the aggregate's methods assume exclusive
// access for their duration.
type Room struct {
	ID        types.RoomID
	OwnerID   types.PeerID
	Rules     types.Rules
	members   map[types.PeerID]struct{}
	active    bool
	createdAt time.Time
	updatedAt time.Time

	buf events.Buffer
}

// New creates a Room with owner as its sole member. It fails only if rules
// are invalid.
func New(id types.RoomID, owner types.PeerID, rules types.Rules) (*Room, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", signalerr.ErrInvalidRoomRules, err)
	}

	now := time.Now()
	r := &Room{
		ID:        id,
		OwnerID:   owner,
		Rules:     rules,
		members:   map[types.PeerID]struct{}{owner: {}},
		active:    true,
		createdAt: now,
		updatedAt: now,
	}
	r.buf.Emit(events.RoomCreated, RoomCreatedPayload{RoomID: id, OwnerID: owner, Rules: rules})
	return r, nil
}

// RoomCreatedPayload is the payload of a room-created event.
type RoomCreatedPayload struct {
	RoomID  types.RoomID
	OwnerID types.PeerID
	Rules   types.Rules
}

// PlayerJoinedPayload is the payload of a player-joined event.
type PlayerJoinedPayload struct {
	RoomID types.RoomID
	PeerID types.PeerID
}

// PlayerLeftPayload is the payload of a player-left event.
type PlayerLeftPayload struct {
	RoomID types.RoomID
	PeerID types.PeerID
}

// RoomRuleChangedPayload is the payload of a room-rule-changed event.
type RoomRuleChangedPayload struct {
	RoomID types.RoomID
	Rules  types.Rules
}

// RoomClosedPayload is the payload of a room-closed event.
type RoomClosedPayload struct {
	RoomID types.RoomID
}

// PullDomainEvents drains the aggregate's event buffer. Call this after a
// successful mutating operation and hand the result to a publisher.
func (r *Room) PullDomainEvents() []events.Event {
	return r.buf.Pull()
}

// IsActive reports whether the room still accepts membership/rule mutation.
func (r *Room) IsActive() bool { return r.active }

// Members returns a snapshot slice of current member IDs.
func (r *Room) Members() []types.PeerID {
	out := make([]types.PeerID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

// MemberCount returns the current number of members.
func (r *Room) MemberCount() int { return len(r.members) }

// HasPlayer reports whether peer is currently a member.
func (r *Room) HasPlayer(peer types.PeerID) bool {
	_, ok := r.members[peer]
	return ok
}

// IsOwner reports whether peer is the room's owner identity. Ownership
// never transfers even after the owner leaves (spec §3).
func (r *Room) IsOwner(peer types.PeerID) bool { return peer == r.OwnerID }

// Join admits peer to the room. Fails with ErrRoomInactive, ErrRoomFull, or
// ErrAlreadyJoined per spec §4.2.
func (r *Room) Join(peer types.PeerID) error {
	if !r.active {
		return signalerr.ErrRoomInactive
	}
	if _, ok := r.members[peer]; ok {
		return signalerr.ErrAlreadyJoined
	}
	if len(r.members) >= r.Rules.MaxPlayers {
		return signalerr.ErrRoomFull
	}

	r.members[peer] = struct{}{}
	r.updatedAt = time.Now()
	r.buf.Emit(events.PlayerJoined, PlayerJoinedPayload{RoomID: r.ID, PeerID: peer})
	return nil
}

// Leave removes peer from the room. Fails with ErrNotAMember. If this
// empties the room, the room transitions to closed in the same operation
// and emits both player-left then room-closed (spec §4.2).
func (r *Room) Leave(peer types.PeerID) error {
	if _, ok := r.members[peer]; !ok {
		return signalerr.ErrNotAMember
	}

	delete(r.members, peer)
	r.updatedAt = time.Now()
	r.buf.Emit(events.PlayerLeft, PlayerLeftPayload{RoomID: r.ID, PeerID: peer})

	if len(r.members) == 0 {
		r.active = false
		r.buf.Emit(events.RoomClosed, RoomClosedPayload{RoomID: r.ID})
	}
	return nil
}

// UpdateRules replaces the room's rule set. Fails with ErrRoomInactive if
// closed, or ErrInvalidRoomRules if the new rules don't validate. A shrunk
// maxPlayers is not retroactively enforced against the current member
// count; only future joins are restricted (spec §4.2).
func (r *Room) UpdateRules(rules types.Rules) error {
	if !r.active {
		return signalerr.ErrRoomInactive
	}
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("%w: %v", signalerr.ErrInvalidRoomRules, err)
	}

	r.Rules = rules
	r.updatedAt = time.Now()
	r.buf.Emit(events.RoomRuleChanged, RoomRuleChangedPayload{RoomID: r.ID, Rules: rules})
	return nil
}

// Close deactivates the room outright (e.g. administrative delete). Fails
// with ErrAlreadyClosed if already inactive.
func (r *Room) Close() error {
	if !r.active {
		return signalerr.ErrAlreadyClosed
	}
	r.active = false
	r.updatedAt = time.Now()
	r.buf.Emit(events.RoomClosed, RoomClosedPayload{RoomID: r.ID})
	return nil
}
