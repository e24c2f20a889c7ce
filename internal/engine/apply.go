package engine

import (
	"context"
	"fmt"

	"github.com/devblac/nft-stream/internal/domain"
	"github.com/devblac/nft-stream/internal/storage"
)

// apply folds one event into the projections.
func apply(ctx context.Context, tx *storage.Tx, ev domain.Event) error {
	switch e := ev.(type) {
	case *domain.Minted:
		return tx.UpsertMint(ctx, e.TokenID, e.Owner, e.TokenURI, e.BlockTime)
	case *domain.Transferred:
		return tx.UpdateOwner(ctx, e.TokenID, e.To)
	case *domain.Listed:
		return tx.UpsertListing(ctx, e.Contract, e.TokenID, e.Seller, e.Price, e.ListedAt)
	case *domain.PriceUpdated:
		return tx.UpdatePrice(ctx, e.Contract, e.TokenID, e.NewPrice)
	case *domain.Cancelled:
		return tx.CloseListing(ctx, e.Contract, e.TokenID)
	case *domain.Sold:
		if _, err := tx.RecordTrade(ctx, storage.Trade{
			Contract:    e.Contract,
			TokenID:     e.TokenID,
			Seller:      e.Seller,
			Buyer:       e.Buyer,
			Price:       e.Price,
			PlatformFee: e.PlatformFee,
			RoyaltyFee:  e.RoyaltyFee,
			TxHash:      e.TxHash,
			SoldAt:      e.SoldAt,
		}); err != nil {
			return err
		}
		return tx.CloseListing(ctx, e.Contract, e.TokenID)
	default:
		return fmt.Errorf("%w: unhandled event %T", domain.ErrIntegrity, ev)
	}
}
