package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chris/p2p-escrow-ledger/pkg/api"
	"github.com/chris/p2p-escrow-ledger/pkg/bridge"
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks a request body that cannot be converted.
var ErrInvalidInput = errors.New("invalid input")

// ToDomainNewOffer converts an API NewOffer to the catalog input.
func ToDomainNewOffer(in *api.NewOffer) (catalog.NewOffer, error) {
	typ, err := models.ParseOfferType(in.Type)
	if err != nil {
		return catalog.NewOffer{}, fmt.Errorf("%w: %v", catalog.ErrInvalidOffer, err)
	}
	return catalog.NewOffer{
		ID:           strings.TrimSpace(in.ID),
		Type:         typ,
		TokenID:      strings.TrimSpace(in.TokenID),
		MinAmount:    in.MinAmount,
		MaxAmount:    in.MaxAmount,
		Rate:         in.Rate,
		Payment:      in.Payment,
		Currency:     in.Currency,
		Instructions: in.Instructions,
	}, nil
}

// ToDomainFilter converts GET /offers query parameters to a catalog filter.
func ToDomainFilter(p api.ListOffersParams) (catalog.Filter, error) {
	var f catalog.Filter
	if p.Type != nil && *p.Type != "" {
		typ, err := models.ParseOfferType(*p.Type)
		if err != nil {
			return f, fmt.Errorf("%w: %v", catalog.ErrInvalidOffer, err)
		}
		f.Type = typ
	}
	if p.Asset != nil && *p.Asset != "" {
		switch asset := models.AssetKind(strings.ToLower(*p.Asset)); asset {
		case models.AssetNative, models.AssetToken:
			f.Asset = asset
		default:
			return f, fmt.Errorf("%w: unknown asset %q", catalog.ErrInvalidOffer, *p.Asset)
		}
	}
	if p.TokenID != nil {
		f.TokenID = *p.TokenID
	}
	if p.Offerer != nil {
		f.Offerer = *p.Offerer
	}
	if p.Active != nil {
		f.ActiveOnly = *p.Active
	}
	return f, nil
}

// ToDomainChatRequest converts an API NewChat to an engine request.
func ToDomainChatRequest(in *api.NewChat) (escrow.ChatRequest, error) {
	side, err := models.ParseOfferType(in.Side)
	if err != nil {
		return escrow.ChatRequest{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(in.OfferID) == "" {
		return escrow.ChatRequest{}, fmt.Errorf("%w: offer_id is required", ErrInvalidInput)
	}
	return escrow.ChatRequest{
		ID:           strings.TrimSpace(in.ID),
		OfferID:      in.OfferID,
		Side:         side,
		Amount:       in.Amount,
		PaymentMsg:   in.PaymentMsg,
		TradeCost:    in.TradeCost,
		TradeCostUSD: in.TradeCostUSD,
	}, nil
}

// ToDomainTransferResult converts a custody callback to a bridge result.
func ToDomainTransferResult(requestID string, in *api.TransferResult) bridge.TransferResult {
	return bridge.TransferResult{
		RequestID: requestID,
		Kind:      bridge.Kind(in.Kind),
		Reference: in.Reference,
		Success:   in.Success,
		Reason:    in.Reason,
	}
}

// ToDomainFeeRate parses an API fee rate.
func ToDomainFeeRate(in *api.FeeRate) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(in.FeeRate))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", catalog.ErrInvalidFeeRate, err)
	}
	return rate, nil
}

// ToApiFeeRate renders a fee rate.
func ToApiFeeRate(rate decimal.Decimal) *api.FeeRate {
	return &api.FeeRate{FeeRate: rate.String()}
}

// ToApiChatView joins a chat with its offer view.
func ToApiChatView(chat *models.Chat, offer *catalog.OfferView) *api.ChatView {
	return &api.ChatView{Chat: *chat, Offer: offer}
}
