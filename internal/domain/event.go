package domain

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrIntegrity marks errors that mean decoded chain data cannot be trusted
// (unknown log signature, ABI drift, malformed fields). The sync engine halts
// on these instead of retrying.
var ErrIntegrity = errors.New("data integrity")

// Kind is the tag of a domain event. Its value doubles as the subscriber
// message type.
type Kind string

const (
	KindMinted       Kind = "nftMinted"
	KindTransferred  Kind = "nftTransferred"
	KindListed       Kind = "nftListed"
	KindSold         Kind = "nftSold"
	KindCancelled    Kind = "nftCancelled"
	KindPriceUpdated Kind = "priceUpdated"
)

// Meta holds the fields shared by every event variant.
type Meta struct {
	Contract    common.Address
	TokenID     *big.Int
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
	BlockTime   time.Time
}

// Event is the closed set of canonical events decoded from contract logs.
type Event interface {
	Kind() Kind
	Header() Meta
	Payload() map[string]any
	sealed()
}

// Before reports whether a sorts strictly before b by (block, log index).
func Before(a, b Meta) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	return a.LogIndex < b.LogIndex
}

// Sort orders events by (block number, log index) ascending.
func Sort(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return Before(events[i].Header(), events[j].Header())
	})
}

type Minted struct {
	Meta
	Owner    common.Address
	TokenURI string
}

type Transferred struct {
	Meta
	From common.Address
	To   common.Address
}

type Listed struct {
	Meta
	Seller   common.Address
	Price    *big.Int
	ListedAt time.Time
}

type Sold struct {
	Meta
	Seller      common.Address
	Buyer       common.Address
	Price       *big.Int
	PlatformFee *big.Int
	RoyaltyFee  *big.Int
	SoldAt      time.Time
}

type Cancelled struct {
	Meta
}

type PriceUpdated struct {
	Meta
	NewPrice *big.Int
}

// NewMinted validates and builds a Minted event.
func NewMinted(m Meta, owner common.Address, tokenURI string) (*Minted, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if owner == (common.Address{}) {
		return nil, invalid(KindMinted, "owner is the zero address")
	}
	return &Minted{Meta: m, Owner: owner, TokenURI: tokenURI}, nil
}

// NewTransferred validates and builds a Transferred event. From may be the
// zero address (mint path); To may be the zero address (burn).
func NewTransferred(m Meta, from, to common.Address) (*Transferred, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &Transferred{Meta: m, From: from, To: to}, nil
}

// NewListed validates and builds a Listed event.
func NewListed(m Meta, seller common.Address, price *big.Int, listedAt time.Time) (*Listed, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if seller == (common.Address{}) {
		return nil, invalid(KindListed, "seller is the zero address")
	}
	if err := amount(KindListed, "price", price); err != nil {
		return nil, err
	}
	return &Listed{Meta: m, Seller: seller, Price: price, ListedAt: listedAt}, nil
}

// NewSold validates and builds a Sold event.
func NewSold(m Meta, seller, buyer common.Address, price, platformFee, royaltyFee *big.Int, soldAt time.Time) (*Sold, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if seller == (common.Address{}) || buyer == (common.Address{}) {
		return nil, invalid(KindSold, "seller and buyer are required")
	}
	for name, v := range map[string]*big.Int{"price": price, "platformFee": platformFee, "royaltyFee": royaltyFee} {
		if err := amount(KindSold, name, v); err != nil {
			return nil, err
		}
	}
	return &Sold{
		Meta:        m,
		Seller:      seller,
		Buyer:       buyer,
		Price:       price,
		PlatformFee: platformFee,
		RoyaltyFee:  royaltyFee,
		SoldAt:      soldAt,
	}, nil
}

// NewCancelled validates and builds a Cancelled event.
func NewCancelled(m Meta) (*Cancelled, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &Cancelled{Meta: m}, nil
}

// NewPriceUpdated validates and builds a PriceUpdated event.
func NewPriceUpdated(m Meta, newPrice *big.Int) (*PriceUpdated, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if err := amount(KindPriceUpdated, "newPrice", newPrice); err != nil {
		return nil, err
	}
	return &PriceUpdated{Meta: m, NewPrice: newPrice}, nil
}

func (m Meta) validate() error {
	if m.TokenID == nil || m.TokenID.Sign() < 0 {
		return fmt.Errorf("%w: token id missing or negative", ErrIntegrity)
	}
	if m.TxHash == (common.Hash{}) {
		return fmt.Errorf("%w: transaction hash missing", ErrIntegrity)
	}
	return nil
}

func amount(k Kind, name string, v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return invalid(k, name+" missing or negative")
	}
	return nil
}

func invalid(k Kind, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrIntegrity, k, reason)
}

func (Minted) Kind() Kind       { return KindMinted }
func (Transferred) Kind() Kind  { return KindTransferred }
func (Listed) Kind() Kind       { return KindListed }
func (Sold) Kind() Kind         { return KindSold }
func (Cancelled) Kind() Kind    { return KindCancelled }
func (PriceUpdated) Kind() Kind { return KindPriceUpdated }

func (m Meta) Header() Meta { return m }

func (Minted) sealed()       {}
func (Transferred) sealed()  {}
func (Listed) sealed()       {}
func (Sold) sealed()         {}
func (Cancelled) sealed()    {}
func (PriceUpdated) sealed() {}

// Payload renders the event for subscribers. Amounts and token ids are
// decimal strings so clients never lose uint256 precision.
func (e Minted) Payload() map[string]any {
	p := e.Meta.payload()
	p["owner"] = e.Owner.Hex()
	p["tokenURI"] = e.TokenURI
	p["mintedAt"] = unix(e.BlockTime)
	return p
}

func (e Transferred) Payload() map[string]any {
	p := e.Meta.payload()
	p["from"] = e.From.Hex()
	p["to"] = e.To.Hex()
	return p
}

func (e Listed) Payload() map[string]any {
	p := e.Meta.payload()
	p["seller"] = e.Seller.Hex()
	p["price"] = e.Price.String()
	p["listedAt"] = unix(e.ListedAt)
	return p
}

func (e Sold) Payload() map[string]any {
	p := e.Meta.payload()
	p["seller"] = e.Seller.Hex()
	p["buyer"] = e.Buyer.Hex()
	p["price"] = e.Price.String()
	p["platformFee"] = e.PlatformFee.String()
	p["royaltyFee"] = e.RoyaltyFee.String()
	p["soldAt"] = unix(e.SoldAt)
	return p
}

func (e Cancelled) Payload() map[string]any {
	return e.Meta.payload()
}

func (e PriceUpdated) Payload() map[string]any {
	p := e.Meta.payload()
	p["newPrice"] = e.NewPrice.String()
	return p
}

func (m Meta) payload() map[string]any {
	return map[string]any{
		"contract":        m.Contract.Hex(),
		"tokenId":         m.TokenID.String(),
		"blockNumber":     m.BlockNumber,
		"logIndex":        m.LogIndex,
		"transactionHash": m.TxHash.Hex(),
	}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
