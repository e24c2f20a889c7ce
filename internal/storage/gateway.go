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

// Tx is the persistence gateway used by the sync engine. All writes of one
// processed window go through a single Tx so they commit or roll back together
// with the cursor.
type Tx struct {
	q queryer
}

// UpsertMint creates or overwrites the NFT record for tokenID.
func (t *Tx) UpsertMint(ctx context.Context, tokenID *big.Int, owner common.Address, tokenURI string, mintedAt time.Time) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO nfts (token_id, owner, token_uri, minted_at, updated_at)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(token_id) DO UPDATE SET
  owner=excluded.owner,
  token_uri=excluded.token_uri,
  minted_at=excluded.minted_at,
  updated_at=CURRENT_TIMESTAMP;
`, tokenID.String(), owner.Hex(), tokenURI, unixOrNil(mintedAt))
	if err != nil {
		return fmt.Errorf("upsert mint %s: %w", tokenID, err)
	}
	return nil
}

// UpdateOwner records a transfer. The row is created when the transfer is
// seen before the token's mint event.
func (t *Tx) UpdateOwner(ctx context.Context, tokenID *big.Int, newOwner common.Address) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO nfts (token_id, owner, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(token_id) DO UPDATE SET
  owner=excluded.owner,
  updated_at=CURRENT_TIMESTAMP;
`, tokenID.String(), newOwner.Hex())
	if err != nil {
		return fmt.Errorf("update owner %s: %w", tokenID, err)
	}
	return nil
}

// UpsertListing activates a listing, overwriting any earlier listing for the
// same (contract, token).
func (t *Tx) UpsertListing(ctx context.Context, contract common.Address, tokenID *big.Int, seller common.Address, price *big.Int, listedAt time.Time) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO listings (contract, token_id, seller, price, active, listed_at, updated_at)
VALUES (?, ?, ?, ?, 1, ?, CURRENT_TIMESTAMP)
ON CONFLICT(contract, token_id) DO UPDATE SET
  seller=excluded.seller,
  price=excluded.price,
  active=1,
  listed_at=excluded.listed_at,
  updated_at=CURRENT_TIMESTAMP;
`, contract.Hex(), tokenID.String(), seller.Hex(), price.String(), unixOrZero(listedAt))
	if err != nil {
		return fmt.Errorf("upsert listing %s: %w", tokenID, err)
	}
	return nil
}

// UpdatePrice sets the listing price. It runs unconditionally; updating a
// missing or inactive listing changes nothing meaningful and is not an error.
func (t *Tx) UpdatePrice(ctx context.Context, contract common.Address, tokenID *big.Int, newPrice *big.Int) error {
	_, err := t.q.ExecContext(ctx, `
UPDATE listings SET price = ?, updated_at = CURRENT_TIMESTAMP
WHERE contract = ? AND token_id = ?;
`, newPrice.String(), contract.Hex(), tokenID.String())
	if err != nil {
		return fmt.Errorf("update price %s: %w", tokenID, err)
	}
	return nil
}

// CloseListing deactivates a listing after a sale or cancellation.
func (t *Tx) CloseListing(ctx context.Context, contract common.Address, tokenID *big.Int) error {
	_, err := t.q.ExecContext(ctx, `
UPDATE listings SET active = 0, updated_at = CURRENT_TIMESTAMP
WHERE contract = ? AND token_id = ?;
`, contract.Hex(), tokenID.String())
	if err != nil {
		return fmt.Errorf("close listing %s: %w", tokenID, err)
	}
	return nil
}

// Trade is an append-only sale record.
type Trade struct {
	ID          int64
	Contract    common.Address
	TokenID     *big.Int
	Seller      common.Address
	Buyer       common.Address
	Price       *big.Int
	PlatformFee *big.Int
	RoyaltyFee  *big.Int
	TxHash      common.Hash
	SoldAt      time.Time
}

// RecordTrade appends a trade. A replay of an already stored (tx hash, token)
// pair is a no-op; inserted reports whether a new row was written.
func (t *Tx) RecordTrade(ctx context.Context, tr Trade) (inserted bool, err error) {
	if tr.TokenID == nil || tr.Price == nil || tr.PlatformFee == nil || tr.RoyaltyFee == nil {
		return false, errors.New("trade token id and amounts are required")
	}
	res, err := t.q.ExecContext(ctx, `
INSERT INTO trades (contract, token_id, seller, buyer, price, platform_fee, royalty_fee, tx_hash, sold_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tx_hash, token_id) DO NOTHING;
`, tr.Contract.Hex(), tr.TokenID.String(), tr.Seller.Hex(), tr.Buyer.Hex(),
		tr.Price.String(), tr.PlatformFee.String(), tr.RoyaltyFee.String(),
		tr.TxHash.Hex(), unixOrZero(tr.SoldAt))
	if err != nil {
		return false, fmt.Errorf("record trade %s: %w", tr.TxHash.Hex(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record trade rows: %w", err)
	}
	return n > 0, nil
}

// GetCursor reads the last synced block for a contract inside the transaction.
func (t *Tx) GetCursor(ctx context.Context, contract common.Address) (block uint64, ok bool, err error) {
	return getCursor(ctx, t.q, contract)
}

// SetCursor advances the last synced block for a contract. The stored value
// never decreases, so replaying an old window cannot move the cursor back.
func (t *Tx) SetCursor(ctx context.Context, contract common.Address, block uint64) error {
	return setCursor(ctx, t.q, contract, block)
}

func getCursor(ctx context.Context, q queryer, contract common.Address) (uint64, bool, error) {
	var block uint64
	err := q.QueryRowContext(ctx, `
SELECT last_synced_block FROM sync_status WHERE contract_address = ?;
`, contract.Hex()).Scan(&block)
	switch {
	case err == nil:
		return block, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
}

func setCursor(ctx context.Context, q queryer, contract common.Address, block uint64) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO sync_status (contract_address, last_synced_block, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(contract_address) DO UPDATE SET
  last_synced_block=MAX(sync_status.last_synced_block, excluded.last_synced_block),
  updated_at=CURRENT_TIMESTAMP;
`, contract.Hex(), block)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
