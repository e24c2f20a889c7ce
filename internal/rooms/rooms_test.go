package rooms

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

type fakeSession struct {
	id string
}

func (f *fakeSession) ID() string       { return f.id }
func (f *fakeSession) Deliver(_ []byte) {}

func TestValid(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"global", true},
		{"marketplace", true},
		{"nft-7", true},
		{"nft-120", true},
		{"nft-", false},
		{"nft-0", false},
		{"nft-07", false},
		{"nft--1", false},
		{"nft-1a", false},
		{"owner-0x00000000000000000000000000000000000000aA", true},
		{"owner-0xZZ000000000000000000000000000000000000aa", false},
		{"owner-0x", false},
		{"owner-0x00000000000000000000000000000000000000aa0", false},
		{"admin", false},
		{"Global", false},
		{"", false},
		{" global", false},
	}
	for _, tc := range cases {
		if got := Valid(tc.name); got != tc.ok {
			t.Fatalf("Valid(%q)=%v want %v", tc.name, got, tc.ok)
		}
	}
}

func TestJoinRejectsInvalidName(t *testing.T) {
	m := NewManager()
	s := &fakeSession{id: "a"}
	err := m.Join(s, "admin")
	if !errors.Is(err, ErrInvalidRoomName) {
		t.Fatalf("expected ErrInvalidRoomName, got %v", err)
	}
	if rooms := m.ListRooms(); len(rooms) != 0 {
		t.Fatalf("invalid join had side effects: %v", rooms)
	}
	if m.Sessions() != 0 {
		t.Fatalf("invalid join registered session")
	}
}

func TestOwnerRoomsAreCanonical(t *testing.T) {
	const (
		lower     = "owner-0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
		checksum  = "owner-0xABcdEFABcdEFabcdEfAbCdefabcdeFABcDEFabCD"
		upperHex  = "owner-0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD"
		notOwner  = "nft-5"
		malformed = "owner-0x12"
	)
	for in, want := range map[string]string{
		lower:     checksum,
		upperHex:  checksum,
		checksum:  checksum,
		notOwner:  notOwner,
		malformed: malformed,
	} {
		if got := Canonical(in); got != want {
			t.Fatalf("Canonical(%q)=%q want %q", in, got, want)
		}
	}

	m := NewManager()
	s := &fakeSession{id: "a"}
	if err := m.Join(s, lower); err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := m.Members(checksum); len(got) != 1 {
		t.Fatalf("lowercase join not found under checksummed room: %d members", len(got))
	}
	if got := m.Rooms(s); !reflect.DeepEqual(got, []string{checksum}) {
		t.Fatalf("rooms=%v", got)
	}
	m.Leave(s, upperHex)
	if got := m.ListRooms(); len(got) != 0 {
		t.Fatalf("leave with different case left rooms: %v", got)
	}
}

func TestConnectJoinsGlobal(t *testing.T) {
	m := NewManager()
	s := &fakeSession{id: "a"}
	m.Connect(s)
	if got := m.Rooms(s); !reflect.DeepEqual(got, []string{Global}) {
		t.Fatalf("rooms after connect: %v", got)
	}
	if members := m.Members(Global); len(members) != 1 || members[0].ID() != "a" {
		t.Fatalf("global members: %v", members)
	}
}

func TestJoinLeaveIdempotent(t *testing.T) {
	m := NewManager()
	s := &fakeSession{id: "a"}
	for i := 0; i < 3; i++ {
		if err := m.Join(s, "nft-7"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if got := m.Members("nft-7"); len(got) != 1 {
		t.Fatalf("expected one member, got %d", len(got))
	}

	m.Leave(s, "nft-7")
	m.Leave(s, "nft-7")
	m.Leave(s, "marketplace")
	if got := m.ListRooms(); len(got) != 0 {
		t.Fatalf("expected no rooms, got %v", got)
	}
}

func TestLeaveAll(t *testing.T) {
	m := NewManager()
	a := &fakeSession{id: "a"}
	b := &fakeSession{id: "b"}
	m.Connect(a)
	m.Connect(b)
	_ = m.Join(a, "nft-1")
	_ = m.Join(a, Marketplace)
	_ = m.Join(b, "nft-1")

	m.LeaveAll(a)

	if got := m.ListRooms(); !reflect.DeepEqual(got, []string{Global, "nft-1"}) {
		t.Fatalf("rooms after leaveAll: %v", got)
	}
	if got := m.Rooms(a); len(got) != 0 {
		t.Fatalf("a still in %v", got)
	}
	if m.Sessions() != 1 {
		t.Fatalf("expected 1 session, got %d", m.Sessions())
	}
	// Disconnecting an unknown session is harmless.
	m.LeaveAll(&fakeSession{id: "ghost"})
}

func TestListRoomsSorted(t *testing.T) {
	m := NewManager()
	s := &fakeSession{id: "a"}
	for _, r := range []string{"nft-9", Marketplace, "nft-10", Global} {
		if err := m.Join(s, r); err != nil {
			t.Fatalf("join %s: %v", r, err)
		}
	}
	want := []string{Global, Marketplace, "nft-10", "nft-9"}
	if got := m.ListRooms(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestConcurrentMembership(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &fakeSession{id: fmt.Sprintf("s%d", i)}
			m.Connect(s)
			_ = m.Join(s, fmt.Sprintf("nft-%d", i%5+1))
			_ = m.Join(s, Marketplace)
			if i%2 == 0 {
				m.LeaveAll(s)
			}
		}(i)
	}
	wg.Wait()

	if got := m.Sessions(); got != 25 {
		t.Fatalf("expected 25 sessions, got %d", got)
	}
	if got := len(m.Members(Global)); got != 25 {
		t.Fatalf("expected 25 global members, got %d", got)
	}
}
