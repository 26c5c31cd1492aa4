// Package api defines the HTTP surface of the escrow ledger: request and
// response bodies, the ServerInterface handlers implement, and the chi
// routing that binds path and query parameters onto it.
package api

import (
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// StatusResponse carries a soft status string. Soft statuses are business
// outcomes, not errors, and are served with 200.
type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type AmountRequest struct {
	Amount models.Amount `json:"amount"`
}

type TokenWithdrawalRequest struct {
	TokenID string        `json:"token_id"`
	Amount  models.Amount `json:"amount"`
}

type NewOffer struct {
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	TokenID      string        `json:"token_id,omitempty"`
	MinAmount    models.Amount `json:"min_amount"`
	MaxAmount    models.Amount `json:"max_amount"`
	Rate         float64       `json:"rate"`
	Payment      string        `json:"payment"`
	Currency     string        `json:"currency"`
	Instructions string        `json:"instructions"`
}

type OfferCreated struct {
	Status string        `json:"status"`
	Offer  *models.Offer `json:"offer,omitempty"`
}

type OfferStatusRequest struct {
	Active bool `json:"active"`
}

// ListOffersParams are the query filters of GET /offers.
type ListOffersParams struct {
	Type    *string `form:"type,omitempty" json:"type,omitempty"`
	Asset   *string `form:"asset,omitempty" json:"asset,omitempty"`
	TokenID *string `form:"token_id,omitempty" json:"token_id,omitempty"`
	Offerer *string `form:"offerer,omitempty" json:"offerer,omitempty"`
	Active  *bool   `form:"active,omitempty" json:"active,omitempty"`
}

type NewChat struct {
	ID           string         `json:"id,omitempty"`
	OfferID      string         `json:"offer_id"`
	Side         string         `json:"side"`
	Amount       models.Amount  `json:"amount"`
	PaymentMsg   string         `json:"payment_msg"`
	TradeCost    *models.Amount `json:"trade_cost,omitempty"`
	TradeCostUSD float64        `json:"trade_cost_usd,omitempty"`
}

type ChatCreated struct {
	Status string       `json:"status"`
	Chat   *models.Chat `json:"chat,omitempty"`
}

// ChatView is a chat joined with the offer it was opened against. Offer is
// nil once the offer has been cleared.
type ChatView struct {
	Chat  models.Chat        `json:"chat"`
	Offer *catalog.OfferView `json:"offer,omitempty"`
}

type RateRequest struct {
	Role string `json:"role"`
	Like bool   `json:"like"`
}

type ClearResponse struct {
	Deleted int `json:"deleted"`
}

type RevenueResponse struct {
	Totals  models.RevenueTotals `json:"totals"`
	Records []models.Revenue     `json:"records"`
}

type FeeRate struct {
	FeeRate string `json:"fee_rate"`
}

type TokenDeposit struct {
	Sender  string        `json:"sender"`
	TokenID string        `json:"token_id"`
	Amount  models.Amount `json:"amount"`
}

type TransferResult struct {
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}
