package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Cursor is a persisted sync position.
type Cursor struct {
	Contract        common.Address
	LastSyncedBlock uint64
}

// NFT is the ownership projection of a token.
type NFT struct {
	TokenID  *big.Int
	Owner    common.Address
	TokenURI string
	MintedAt time.Time
}

// Listing is the marketplace projection of a token.
type Listing struct {
	Contract common.Address
	TokenID  *big.Int
	Seller   common.Address
	Price    *big.Int
	Active   bool
	ListedAt time.Time
}

// MarketStats aggregates the listing and trade projections.
type MarketStats struct {
	ActiveListings int
	FloorPrice     *big.Int
	Trades         int
	Volume         *big.Int
}

// GetCursor retrieves the cursor for a contract.
func (s *Store) GetCursor(ctx context.Context, contract common.Address) (block uint64, ok bool, err error) {
	return getCursor(ctx, s.db, contract)
}

// ListCursors returns every stored cursor ordered by contract address.
func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT contract_address, last_synced_block FROM sync_status ORDER BY contract_address;
`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var addr string
		var c Cursor
		if err := rows.Scan(&addr, &c.LastSyncedBlock); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		c.Contract = common.HexToAddress(addr)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetNFT returns the ownership record of a token.
func (s *Store) GetNFT(ctx context.Context, tokenID *big.Int) (NFT, bool, error) {
	var owner, uri string
	var minted sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT owner, token_uri, minted_at FROM nfts WHERE token_id = ?;
`, tokenID.String()).Scan(&owner, &uri, &minted)
	if errors.Is(err, sql.ErrNoRows) {
		return NFT{}, false, nil
	}
	if err != nil {
		return NFT{}, false, fmt.Errorf("get nft %s: %w", tokenID, err)
	}
	return NFT{
		TokenID:  new(big.Int).Set(tokenID),
		Owner:    common.HexToAddress(owner),
		TokenURI: uri,
		MintedAt: fromUnix(minted),
	}, true, nil
}

// GetListing returns the listing record for (contract, token).
func (s *Store) GetListing(ctx context.Context, contract common.Address, tokenID *big.Int) (Listing, bool, error) {
	var seller, price string
	var active bool
	var listed sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT seller, price, active, listed_at FROM listings WHERE contract = ? AND token_id = ?;
`, contract.Hex(), tokenID.String()).Scan(&seller, &price, &active, &listed)
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, false, nil
	}
	if err != nil {
		return Listing{}, false, fmt.Errorf("get listing %s: %w", tokenID, err)
	}
	p, err := parseAmount(price)
	if err != nil {
		return Listing{}, false, err
	}
	return Listing{
		Contract: contract,
		TokenID:  new(big.Int).Set(tokenID),
		Seller:   common.HexToAddress(seller),
		Price:    p,
		Active:   active,
		ListedAt: fromUnix(listed),
	}, true, nil
}

// ListTrades returns trades in insertion order. A limit of zero returns all.
func (s *Store) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	query := `
SELECT id, contract, token_id, seller, buyer, price, platform_fee, royalty_fee, tx_hash, sold_at
FROM trades ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			tr                                   Trade
			contract, seller, buyer, txHash      string
			tokenID, price, platformFee, royalty string
			soldAt                               sql.NullInt64
		)
		if err := rows.Scan(&tr.ID, &contract, &tokenID, &seller, &buyer, &price, &platformFee, &royalty, &txHash, &soldAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		tr.Contract = common.HexToAddress(contract)
		tr.Seller = common.HexToAddress(seller)
		tr.Buyer = common.HexToAddress(buyer)
		tr.TxHash = common.HexToHash(txHash)
		tr.SoldAt = fromUnix(soldAt)
		for _, f := range []struct {
			dst **big.Int
			raw string
		}{{&tr.TokenID, tokenID}, {&tr.Price, price}, {&tr.PlatformFee, platformFee}, {&tr.RoyaltyFee, royalty}} {
			v, err := parseAmount(f.raw)
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Stats computes floor price over active listings and total traded volume.
// Amounts are uint256 decimal text, so aggregation happens in Go.
func (s *Store) Stats(ctx context.Context) (MarketStats, error) {
	stats := MarketStats{Volume: new(big.Int)}

	rows, err := s.db.QueryContext(ctx, `SELECT price FROM listings WHERE active = 1;`)
	if err != nil {
		return stats, fmt.Errorf("stats listings: %w", err)
	}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan listing price: %w", err)
		}
		p, err := parseAmount(raw)
		if err != nil {
			rows.Close()
			return stats, err
		}
		stats.ActiveListings++
		if stats.FloorPrice == nil || p.Cmp(stats.FloorPrice) < 0 {
			stats.FloorPrice = p
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT price FROM trades;`)
	if err != nil {
		return stats, fmt.Errorf("stats trades: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return stats, fmt.Errorf("scan trade price: %w", err)
		}
		p, err := parseAmount(raw)
		if err != nil {
			return stats, err
		}
		stats.Trades++
		stats.Volume.Add(stats.Volume, p)
	}
	return stats, rows.Err()
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid stored amount %q", raw)
	}
	return v, nil
}
