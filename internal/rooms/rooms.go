// Package rooms tracks which subscriber sessions listen on which broadcast
// room and validates room names against the fixed grammar:
//
//	global | marketplace | nft-<positive integer> | owner-0x<40 hex chars>
package rooms

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
)

const (
	Global      = "global"
	Marketplace = "marketplace"
)

// ErrInvalidRoomName is returned by Join for names outside the grammar.
var ErrInvalidRoomName = errors.New("invalid room name")

var (
	nftRoom   = regexp.MustCompile(`^nft-[1-9][0-9]*$`)
	ownerRoom = regexp.MustCompile(`^owner-0x[0-9a-fA-F]{40}$`)
)

// Valid reports whether name matches the room grammar.
func Valid(name string) bool {
	switch name {
	case Global, Marketplace:
		return true
	}
	return nftRoom.MatchString(name) || ownerRoom.MatchString(name)
}

// Canonical returns the name events are published under. Owner rooms are
// matched case-insensitively and normalised to the EIP-55 checksummed address;
// every other name is returned unchanged.
func Canonical(name string) string {
	if !ownerRoom.MatchString(name) {
		return name
	}
	return "owner-" + common.HexToAddress(strings.TrimPrefix(name, "owner-")).Hex()
}

// Session is a subscriber that can receive pre-encoded messages. Deliver must
// not block.
type Session interface {
	ID() string
	Deliver(msg []byte)
}

const bucketCount = 32

type bucket struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Session
}

// Manager owns the room → sessions index. Rooms are spread over hashed
// buckets, each with its own lock, so subscribers on unrelated rooms do not
// contend.
type Manager struct {
	buckets [bucketCount]bucket

	mu       sync.Mutex
	sessions map[string]map[string]struct{}
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	m := &Manager{sessions: map[string]map[string]struct{}{}}
	for i := range m.buckets {
		m.buckets[i].rooms = map[string]map[string]Session{}
	}
	return m
}

func (m *Manager) bucket(room string) *bucket {
	return &m.buckets[xxhash.Sum64String(room)%bucketCount]
}

// Connect registers a new session and joins it to the global room.
func (m *Manager) Connect(s Session) {
	_ = m.Join(s, Global)
}

// Join adds s to room, stored under its canonical name. Joining a room twice
// is a no-op.
func (m *Manager) Join(s Session, room string) error {
	if !Valid(room) {
		return fmt.Errorf("%w: %q", ErrInvalidRoomName, room)
	}
	room = Canonical(room)
	b := m.bucket(room)
	b.mu.Lock()
	members, ok := b.rooms[room]
	if !ok {
		members = map[string]Session{}
		b.rooms[room] = members
	}
	members[s.ID()] = s
	b.mu.Unlock()

	m.mu.Lock()
	joined, ok := m.sessions[s.ID()]
	if !ok {
		joined = map[string]struct{}{}
		m.sessions[s.ID()] = joined
	}
	joined[room] = struct{}{}
	m.mu.Unlock()
	return nil
}

// Leave removes s from room. Leaving a room the session is not in is a no-op.
func (m *Manager) Leave(s Session, room string) {
	room = Canonical(room)
	m.removeMember(s.ID(), room)

	m.mu.Lock()
	if joined, ok := m.sessions[s.ID()]; ok {
		delete(joined, room)
	}
	m.mu.Unlock()
}

// LeaveAll removes s from every room it joined.
func (m *Manager) LeaveAll(s Session) {
	m.mu.Lock()
	joined := m.sessions[s.ID()]
	delete(m.sessions, s.ID())
	m.mu.Unlock()

	for room := range joined {
		m.removeMember(s.ID(), room)
	}
}

func (m *Manager) removeMember(id, room string) {
	b := m.bucket(room)
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(b.rooms, room)
	}
}

// Rooms returns the rooms s has joined, sorted.
func (m *Manager) Rooms(s Session) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions[s.ID()]))
	for room := range m.sessions[s.ID()] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// ListRooms returns every room with at least one member, sorted.
func (m *Manager) ListRooms() []string {
	var out []string
	for i := range m.buckets {
		b := &m.buckets[i]
		b.mu.RLock()
		for room, members := range b.rooms {
			if len(members) > 0 {
				out = append(out, room)
			}
		}
		b.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Members returns a snapshot of the sessions in room.
func (m *Manager) Members(room string) []Session {
	b := m.bucket(room)
	b.mu.RLock()
	defer b.mu.RUnlock()
	members := b.rooms[room]
	out := make([]Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// Sessions returns the number of connected sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
