// Package broadcast fans committed domain events out to subscriber rooms.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devblac/nft-stream/internal/domain"
	"github.com/devblac/nft-stream/internal/metrics"
	"github.com/devblac/nft-stream/internal/rooms"
)

// Message is the envelope pushed to subscribers for every event.
type Message struct {
	Type domain.Kind    `json:"type"`
	Data map[string]any `json:"data"`
}

// Router maps events to rooms and delivers them to room members.
type Router struct {
	rooms   *rooms.Manager
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRouter wires a router to the room manager. logger and m may be nil.
func NewRouter(mgr *rooms.Manager, logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{rooms: mgr, logger: logger.With("component", "broadcast"), metrics: m}
}

// Rooms returns the deduplicated rooms that must receive ev, in routing
// table order.
func Rooms(ev domain.Event) []string {
	h := ev.Header()
	set := newRoomSet(rooms.Global)
	// nft-0 is outside the room grammar; token 0 only reaches the other rooms.
	if h.TokenID.Sign() > 0 {
		set.add(nftRoom(h))
	}

	switch e := ev.(type) {
	case *domain.Minted:
		set.add(ownerRoom(e.Owner))
	case *domain.Transferred:
		set.add(ownerRoom(e.To))
		if e.From != (common.Address{}) {
			set.add(ownerRoom(e.From))
		}
	case *domain.Listed, *domain.Cancelled, *domain.PriceUpdated:
		set.add(rooms.Marketplace)
	case *domain.Sold:
		set.add(rooms.Marketplace)
		set.add(ownerRoom(e.Seller))
		set.add(ownerRoom(e.Buyer))
	}
	return set.list
}

// Publish encodes ev once and hands it to every session in any of its rooms.
// Each session receives the event at most once. It returns the number of
// sessions the message was handed to.
func (r *Router) Publish(ev domain.Event) (int, error) {
	msg, err := json.Marshal(Message{Type: ev.Kind(), Data: ev.Payload()})
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}

	seen := map[string]struct{}{}
	for _, room := range Rooms(ev) {
		for _, s := range r.rooms.Members(room) {
			if _, dup := seen[s.ID()]; dup {
				continue
			}
			seen[s.ID()] = struct{}{}
			s.Deliver(msg)
		}
	}
	r.metrics.Delivered(len(seen))
	if len(seen) > 0 {
		r.logger.Debug("event broadcast", "kind", ev.Kind(), "block", ev.Header().BlockNumber, "sessions", len(seen))
	}
	return len(seen), nil
}

func nftRoom(h domain.Meta) string {
	return "nft-" + h.TokenID.String()
}

func ownerRoom(addr common.Address) string {
	return "owner-" + addr.Hex()
}

type roomSet struct {
	seen map[string]struct{}
	list []string
}

func newRoomSet(names ...string) *roomSet {
	s := &roomSet{seen: map[string]struct{}{}}
	for _, n := range names {
		s.add(n)
	}
	return s
}

func (s *roomSet) add(name string) {
	if _, ok := s.seen[name]; ok {
		return
	}
	s.seen[name] = struct{}{}
	s.list = append(s.list, name)
}
