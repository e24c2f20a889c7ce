package evm

import (
	"errors"
	"fmt"
	"time"

	"github.com/devblac/nft-stream/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract kinds understood by the translator.
const (
	KindNFT         = "nft"
	KindMarketplace = "marketplace"
)

var (
	// ErrUnknownEvent signals a log whose emitter/topic0 pair maps to no known variant.
	ErrUnknownEvent = fmt.Errorf("%w: unrecognized log signature", domain.ErrIntegrity)

	// ErrDecodeMismatch signals a log that matched a signature but could not be decoded with its ABI.
	ErrDecodeMismatch = fmt.Errorf("%w: log decode mismatch", domain.ErrIntegrity)

	// ErrRemovedLog signals the node flagged a log as removed by a reorg; the window must be refetched.
	ErrRemovedLog = errors.New("log removed by reorg")

	// ErrBlockMismatch signals that a log's block hash differs from the header fetched for its height.
	ErrBlockMismatch = errors.New("block hash changed while reading window")
)

// BlockMeta is the block context a log was emitted in.
type BlockMeta struct {
	Number uint64
	Hash   common.Hash
	Time   time.Time
}

// RawLog pairs a log with the block it was emitted in.
type RawLog struct {
	Log   types.Log
	Block BlockMeta
}
