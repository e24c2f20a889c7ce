package broadcast

import (
	"encoding/json"
	"math/big"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devblac/nft-stream/internal/domain"
	"github.com/devblac/nft-stream/internal/rooms"
)

var (
	seller = common.HexToAddress("0xAAaaAAaaAAaaAAaaAAaaAAaaAAaaAAaaAAaaAAaa")
	buyer  = common.HexToAddress("0xBBbbBBbbBBbbBBbbBBbbBBbbBBbbBBbbBBbbBBbb")
	market = common.HexToAddress("0x00000000000000000000000000000000000000C0")
)

type recorder struct {
	id  string
	mu  sync.Mutex
	got [][]byte
}

func (r *recorder) ID() string { return r.id }
func (r *recorder) Deliver(msg []byte) {
	r.mu.Lock()
	r.got = append(r.got, msg)
	r.mu.Unlock()
}

func meta(id int64) domain.Meta {
	return domain.Meta{
		Contract:    market,
		TokenID:     big.NewInt(id),
		BlockNumber: 10,
		LogIndex:    1,
		TxHash:      common.HexToHash("0x01"),
		BlockTime:   time.Unix(1_700_000_000, 0).UTC(),
	}
}

func must[T domain.Event](t *testing.T) func(T, error) T {
	return func(v T, err error) T {
		t.Helper()
		if err != nil {
			t.Fatalf("build event: %v", err)
		}
		return v
	}
}

func TestRoutingMatrix(t *testing.T) {
	ownerA := "owner-" + seller.Hex()
	ownerB := "owner-" + buyer.Hex()
	price := big.NewInt(100)

	cases := []struct {
		name string
		ev   domain.Event
		want []string
	}{
		{
			name: "minted",
			ev:   must[*domain.Minted](t)(domain.NewMinted(meta(7), seller, "ipfs://x")),
			want: []string{"global", "nft-7", ownerA},
		},
		{
			name: "token zero skips nft room",
			ev:   must[*domain.Minted](t)(domain.NewMinted(meta(0), seller, "ipfs://zero")),
			want: []string{"global", ownerA},
		},
		{
			name: "transferred",
			ev:   must[*domain.Transferred](t)(domain.NewTransferred(meta(7), seller, buyer)),
			want: []string{"global", "nft-7", ownerB, ownerA},
		},
		{
			name: "transferred from zero",
			ev:   must[*domain.Transferred](t)(domain.NewTransferred(meta(7), common.Address{}, buyer)),
			want: []string{"global", "nft-7", ownerB},
		},
		{
			name: "transferred to self",
			ev:   must[*domain.Transferred](t)(domain.NewTransferred(meta(7), seller, seller)),
			want: []string{"global", "nft-7", ownerA},
		},
		{
			name: "listed",
			ev:   must[*domain.Listed](t)(domain.NewListed(meta(7), seller, price, time.Time{})),
			want: []string{"global", "nft-7", "marketplace"},
		},
		{
			name: "sold",
			ev:   must[*domain.Sold](t)(domain.NewSold(meta(7), seller, buyer, price, big.NewInt(2), big.NewInt(1), time.Time{})),
			want: []string{"global", "nft-7", "marketplace", ownerA, ownerB},
		},
		{
			name: "cancelled",
			ev:   must[*domain.Cancelled](t)(domain.NewCancelled(meta(7))),
			want: []string{"global", "nft-7", "marketplace"},
		},
		{
			name: "price updated",
			ev:   must[*domain.PriceUpdated](t)(domain.NewPriceUpdated(meta(7), price)),
			want: []string{"global", "nft-7", "marketplace"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Rooms(tc.ev)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("rooms=%v want %v", got, tc.want)
			}
			for _, r := range got {
				if !rooms.Valid(r) {
					t.Fatalf("router produced invalid room %q", r)
				}
			}
		})
	}
}

func TestPublishDeliversOncePerSession(t *testing.T) {
	mgr := rooms.NewManager()
	router := NewRouter(mgr, nil, nil)

	both := &recorder{id: "both"}
	mgr.Connect(both)
	_ = mgr.Join(both, "nft-7")
	_ = mgr.Join(both, "owner-"+buyer.Hex())

	other := &recorder{id: "other"}
	_ = mgr.Join(other, "nft-8")

	ev := must[*domain.Sold](t)(domain.NewSold(meta(7), seller, buyer, big.NewInt(5), big.NewInt(0), big.NewInt(0), time.Time{}))
	n, err := router.Publish(ev)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}
	if len(both.got) != 1 {
		t.Fatalf("expected single delivery, got %d", len(both.got))
	}
	if len(other.got) != 0 {
		t.Fatalf("unrelated room received event")
	}

	var msg struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(both.got[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "nftSold" {
		t.Fatalf("type=%s", msg.Type)
	}
	if msg.Data["tokenId"] != "7" || msg.Data["price"] != "5" {
		t.Fatalf("unexpected payload: %v", msg.Data)
	}
}

func TestPublishReachesLowercaseOwnerSubscription(t *testing.T) {
	mgr := rooms.NewManager()
	router := NewRouter(mgr, nil, nil)

	wallet := &recorder{id: "wallet"}
	if err := mgr.Join(wallet, "owner-0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"); err != nil {
		t.Fatalf("join: %v", err)
	}

	ev := must[*domain.Sold](t)(domain.NewSold(meta(7), seller, buyer, big.NewInt(5), big.NewInt(0), big.NewInt(0), time.Time{}))
	if n, err := router.Publish(ev); err != nil || n != 1 {
		t.Fatalf("publish n=%d err=%v", n, err)
	}
	if len(wallet.got) != 1 {
		t.Fatalf("lowercase owner subscription got %d messages", len(wallet.got))
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	router := NewRouter(rooms.NewManager(), nil, nil)
	n, err := router.Publish(must[*domain.Cancelled](t)(domain.NewCancelled(meta(3))))
	if err != nil || n != 0 {
		t.Fatalf("expected no-op, got n=%d err=%v", n, err)
	}
}
