package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
)

// OfferView is an offer joined with its payment method, token metadata and
// the offerer's public profile.
type OfferView struct {
	Offer         models.Offer          `json:"offer"`
	OffererInfo   *models.PublicAccount `json:"offerer_info,omitempty"`
	PaymentMethod *models.PaymentMethod `json:"payment_method,omitempty"`
	Token         *models.TokenMetadata `json:"token,omitempty"`
}

// CompleteOffer enriches offer. Missing registry entries are left nil.
func (c *Catalog) CompleteOffer(ctx context.Context, offer *models.Offer) (*OfferView, error) {
	view := &OfferView{Offer: *offer}

	if offer.Payment != "" {
		pm, err := c.store.GetPaymentMethod(ctx, offer.Payment)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to get payment method: %w", err)
		}
		view.PaymentMethod = pm
	}
	if offer.TokenID != "" {
		tm, err := c.store.GetToken(ctx, offer.TokenID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to get token metadata: %w", err)
		}
		view.Token = tm
	}
	info, err := c.PublicAccount(ctx, offer.Offerer)
	if err != nil && !errors.Is(err, ErrAccountNotRegistered) {
		return nil, err
	}
	view.OffererInfo = info
	return view, nil
}

// PublicAccount builds the profile other participants see for id.
func (c *Catalog) PublicAccount(ctx context.Context, id string) (*models.PublicAccount, error) {
	acc, err := c.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotRegistered, id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	trades, err := c.store.ListTradesByAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	transfers, err := c.store.ListTransfersByAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	offers, err := c.store.ListOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	owned := 0
	for _, o := range offers {
		if o.Offerer == id {
			owned++
		}
	}
	return &models.PublicAccount{
		ID:        acc.ID,
		Likes:     acc.Reputation.Likes,
		Dislikes:  acc.Reputation.Dislikes,
		BlockedBy: acc.Reputation.BlockedBy,
		Trades:    len(trades),
		Transfers: len(transfers),
		Offers:    owned,
		CreatedOn: acc.CreatedAt,
	}, nil
}
