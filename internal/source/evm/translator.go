package evm

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/devblac/nft-stream/internal/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// variants lists, per contract kind, the ABI event name backing each domain variant.
var variants = map[string]map[string]domain.Kind{
	KindNFT: {
		"Transfer":  domain.KindTransferred,
		"NFTMinted": domain.KindMinted,
	},
	KindMarketplace: {
		"ItemListed":   domain.KindListed,
		"ItemSold":     domain.KindSold,
		"ItemCanceled": domain.KindCancelled,
		"PriceUpdated": domain.KindPriceUpdated,
	},
}

// Contract describes one watched contract and the ABIs to decode it with.
type Contract struct {
	Kind    string
	Address common.Address
	ABIs    map[string]*abi.ABI
}

type decoder struct {
	kind  domain.Kind
	event *abi.Event
}

// Translator maps raw logs to domain events. It holds no state beyond the
// decoder table built at construction and performs no I/O.
type Translator struct {
	decoders map[common.Address]map[common.Hash]decoder
}

// NewTranslator builds decoders for the given contracts. Every variant of a
// contract's kind must be present in its ABIs.
func NewTranslator(contracts ...Contract) (*Translator, error) {
	t := &Translator{decoders: map[common.Address]map[common.Hash]decoder{}}
	for _, c := range contracts {
		names, ok := variants[c.Kind]
		if !ok {
			return nil, fmt.Errorf("contract %s: unsupported kind %q", c.Address.Hex(), c.Kind)
		}
		if _, dup := t.decoders[c.Address]; dup {
			return nil, fmt.Errorf("contract %s configured twice", c.Address.Hex())
		}
		byTopic := make(map[common.Hash]decoder, len(names))
		for name, kind := range names {
			ev, ok := FindEvent(c.ABIs, name)
			if !ok {
				return nil, fmt.Errorf("contract %s: abi has no %s event", c.Address.Hex(), name)
			}
			byTopic[ev.ID] = decoder{kind: kind, event: ev}
		}
		t.decoders[c.Address] = byTopic
	}
	return t, nil
}

// Topics returns the topic0 values the translator understands for a contract,
// sorted so filter queries are stable.
func (t *Translator) Topics(contract common.Address) []common.Hash {
	byTopic := t.decoders[contract]
	out := make([]common.Hash, 0, len(byTopic))
	for topic := range byTopic {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Big().Cmp(out[j].Big()) < 0 })
	return out
}

// Translate decodes a log into its domain event.
func (t *Translator) Translate(lg types.Log, block BlockMeta) (domain.Event, error) {
	if lg.Removed {
		return nil, fmt.Errorf("%w: tx %s index %d", ErrRemovedLog, lg.TxHash.Hex(), lg.Index)
	}
	byTopic, ok := t.decoders[lg.Address]
	if !ok {
		return nil, fmt.Errorf("%w: unexpected emitter %s", ErrUnknownEvent, lg.Address.Hex())
	}
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("%w: anonymous log from %s", ErrUnknownEvent, lg.Address.Hex())
	}
	d, ok := byTopic[lg.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("%w: topic %s from %s", ErrUnknownEvent, lg.Topics[0].Hex(), lg.Address.Hex())
	}

	args, err := decodeArgs(d.event, lg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s at block %d index %d: %v", ErrDecodeMismatch, d.event.Name, lg.BlockNumber, lg.Index, err)
	}
	a := argReader{args: args}

	meta := domain.Meta{
		Contract:    lg.Address,
		TokenID:     a.bigInt("tokenId"),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		TxHash:      lg.TxHash,
		BlockTime:   block.Time,
	}

	var ev domain.Event
	switch d.kind {
	case domain.KindMinted:
		ev, err = nonNil(domain.NewMinted(meta, a.address("owner"), a.str("tokenURI")))
	case domain.KindTransferred:
		ev, err = nonNil(domain.NewTransferred(meta, a.address("from"), a.address("to")))
	case domain.KindListed:
		ev, err = nonNil(domain.NewListed(meta, a.address("seller"), a.bigInt("price"), block.Time))
	case domain.KindSold:
		ev, err = nonNil(domain.NewSold(meta, a.address("seller"), a.address("buyer"),
			a.bigInt("price"), a.bigInt("platformFee"), a.bigInt("royaltyFee"), block.Time))
	case domain.KindCancelled:
		ev, err = nonNil(domain.NewCancelled(meta))
	case domain.KindPriceUpdated:
		ev, err = nonNil(domain.NewPriceUpdated(meta, a.bigInt("newPrice")))
	}
	if a.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeMismatch, d.event.Name, a.err)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeArgs(event *abi.Event, lg types.Log) (map[string]any, error) {
	indexed, nonIndexed := splitIndexed(event.Inputs)
	if len(lg.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("want %d indexed topics, got %d", len(indexed), len(lg.Topics)-1)
	}
	args := map[string]any{}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}
	return args, nil
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}

// argReader pulls typed values out of a decoded argument map, keeping the
// first failure.
type argReader struct {
	args map[string]any
	err  error
}

func (r *argReader) fail(name, want string) {
	if r.err == nil {
		r.err = fmt.Errorf("argument %q: want %s, got %T", name, want, r.args[name])
	}
}

func (r *argReader) bigInt(name string) *big.Int {
	v, ok := r.args[name].(*big.Int)
	if !ok {
		r.fail(name, "uint256")
		return nil
	}
	return v
}

func (r *argReader) address(name string) common.Address {
	v, ok := r.args[name].(common.Address)
	if !ok {
		r.fail(name, "address")
	}
	return v
}

func (r *argReader) str(name string) string {
	v, ok := r.args[name].(string)
	if !ok {
		r.fail(name, "string")
	}
	return v
}

// nonNil converts a typed constructor result to the interface without
// producing a non-nil interface around a nil pointer.
func nonNil[T domain.Event](ev T, err error) (domain.Event, error) {
	if err != nil {
		return nil, err
	}
	return ev, nil
}
