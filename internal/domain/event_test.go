package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func meta(block uint64, idx uint) Meta {
	return Meta{
		Contract:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		TokenID:     big.NewInt(7),
		BlockNumber: block,
		LogIndex:    idx,
		TxHash:      common.HexToHash("0x01"),
	}
}

func TestSortByBlockThenLogIndex(t *testing.T) {
	c, _ := NewCancelled(meta(10, 2))
	l, _ := NewListed(meta(9, 5), common.HexToAddress("0x1"), big.NewInt(1), time.Time{})
	p, _ := NewPriceUpdated(meta(10, 0), big.NewInt(3))
	events := []Event{c, l, p}

	Sort(events)

	want := []Kind{KindListed, KindPriceUpdated, KindCancelled}
	for i, k := range want {
		if events[i].Kind() != k {
			t.Fatalf("position %d: got %s want %s", i, events[i].Kind(), k)
		}
	}
}

func TestConstructorsRejectIncompleteEvents(t *testing.T) {
	seller := common.HexToAddress("0x1")
	buyer := common.HexToAddress("0x2")
	noToken := meta(1, 0)
	noToken.TokenID = nil

	tests := []struct {
		name string
		err  error
	}{
		{"minted zero owner", second(NewMinted(meta(1, 0), common.Address{}, "ipfs://x"))},
		{"listed nil price", second(NewListed(meta(1, 0), seller, nil, time.Time{}))},
		{"listed negative price", second(NewListed(meta(1, 0), seller, big.NewInt(-1), time.Time{}))},
		{"sold nil fee", second(NewSold(meta(1, 0), seller, buyer, big.NewInt(1), nil, big.NewInt(0), time.Time{}))},
		{"sold missing buyer", second(NewSold(meta(1, 0), seller, common.Address{}, big.NewInt(1), big.NewInt(0), big.NewInt(0), time.Time{}))},
		{"cancelled no token", second(NewCancelled(noToken))},
		{"price update nil", second(NewPriceUpdated(meta(1, 0), nil))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, ErrIntegrity) {
				t.Fatalf("expected integrity error, got %v", tt.err)
			}
		})
	}
}

func TestTransferredAllowsZeroFrom(t *testing.T) {
	ev, err := NewTransferred(meta(1, 0), common.Address{}, common.HexToAddress("0x2"))
	if err != nil {
		t.Fatalf("mint-path transfer rejected: %v", err)
	}
	if ev.Kind() != KindTransferred {
		t.Fatalf("unexpected kind %s", ev.Kind())
	}
}

func TestPayloadUsesDecimalStrings(t *testing.T) {
	price, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	ev, err := NewSold(meta(5, 1), common.HexToAddress("0xaa"), common.HexToAddress("0xbb"), price, big.NewInt(2), big.NewInt(3), time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("new sold: %v", err)
	}
	p := ev.Payload()
	if p["price"] != "123456789012345678901234567890" {
		t.Fatalf("price = %v", p["price"])
	}
	if p["tokenId"] != "7" {
		t.Fatalf("tokenId = %v", p["tokenId"])
	}
	if p["soldAt"] != int64(1700000000) {
		t.Fatalf("soldAt = %v", p["soldAt"])
	}
}

func second[T any](_ T, err error) error { return err }
