package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockClient captures the subset of ethclient used by the reader.
type BlockClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// RPCClient is a thin wrapper over ethclient.Client that satisfies BlockClient.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(rpcURL string) (*RPCClient, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}

// Reader is the narrow read contract the sync engine uses against the node.
type Reader struct {
	client BlockClient
}

// NewReader wraps a block client.
func NewReader(client BlockClient) *Reader {
	return &Reader{client: client}
}

// Height returns the current chain head number.
func (r *Reader) Height(ctx context.Context) (uint64, error) {
	latest, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return latest.Number.Uint64(), nil
}

// Ping checks the node answers header requests.
func (r *Reader) Ping(ctx context.Context) error {
	_, err := r.Height(ctx)
	return err
}

// Logs fetches the logs a contract emitted in [from, to] whose topic0 is in
// topics, each paired with its block metadata. Headers are fetched once per
// block that carries at least one log.
func (r *Reader) Logs(ctx context.Context, contract common.Address, topics []common.Hash, from, to uint64) ([]RawLog, error) {
	if from > to {
		return nil, nil
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
	}
	if len(topics) > 0 {
		q.Topics = [][]common.Hash{topics}
	}
	logs, err := r.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("filter logs %s [%d,%d]: %w", contract.Hex(), from, to, err)
	}

	blocks := map[uint64]BlockMeta{}
	out := make([]RawLog, 0, len(logs))
	for _, lg := range logs {
		meta, ok := blocks[lg.BlockNumber]
		if !ok {
			header, err := r.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("header %d: %w", lg.BlockNumber, err)
			}
			meta = BlockMeta{
				Number: lg.BlockNumber,
				Hash:   header.Hash(),
				Time:   time.Unix(int64(header.Time), 0).UTC(),
			}
			blocks[lg.BlockNumber] = meta
		}
		if lg.BlockHash != (common.Hash{}) && lg.BlockHash != meta.Hash {
			return nil, fmt.Errorf("%w: block %d log %s header %s", ErrBlockMismatch, lg.BlockNumber, lg.BlockHash.Hex(), meta.Hash.Hex())
		}
		out = append(out, RawLog{Log: lg, Block: meta})
	}
	return out, nil
}
