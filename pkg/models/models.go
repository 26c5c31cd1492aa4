package models

import (
	"fmt"
	"strings"
	"time"
)

// OfferType is the side an offer was published for.
type OfferType string

const (
	OfferBuy  OfferType = "buy"
	OfferSell OfferType = "sell"
)

// ParseOfferType validates an offer type string.
func ParseOfferType(s string) (OfferType, error) {
	switch OfferType(strings.ToLower(strings.TrimSpace(s))) {
	case OfferBuy:
		return OfferBuy, nil
	case OfferSell:
		return OfferSell, nil
	}
	return "", fmt.Errorf("unknown offer type %q", s)
}

// AssetKind distinguishes the native currency from fungible tokens.
type AssetKind string

const (
	AssetNative AssetKind = "native"
	AssetToken  AssetKind = "token"
)

// NativeAsset is the asset label used in revenue and history records.
const NativeAsset = "NEAR"

// Offer is a published willingness to buy or sell within an amount range.
type Offer struct {
	ID           string     `json:"id" dynamodbav:"id"`
	Type         OfferType  `json:"type" dynamodbav:"offer_type"`
	Offerer      string     `json:"offerer" dynamodbav:"offerer"`
	TokenID      string     `json:"token_id,omitempty" dynamodbav:"token_id,omitempty"`
	MinAmount    Amount     `json:"min_amount" dynamodbav:"min_amount"`
	MaxAmount    Amount     `json:"max_amount" dynamodbav:"max_amount"`
	Rate         float64    `json:"rate" dynamodbav:"rate"`
	Payment      string     `json:"payment" dynamodbav:"payment"`
	Currency     string     `json:"currency" dynamodbav:"currency"`
	Instructions string     `json:"instructions" dynamodbav:"instructions"`
	Active       bool       `json:"active" dynamodbav:"active"`
	CreatedOn    time.Time  `json:"created_on" dynamodbav:"created_on"`
	UpdatedOn    *time.Time `json:"updated_on,omitempty" dynamodbav:"updated_on,omitempty"`
	Version      int64      `json:"version" dynamodbav:"version"`
}

// Asset reports whether the offer trades the native currency or a token.
func (o *Offer) Asset() AssetKind {
	if o.TokenID == "" {
		return AssetNative
	}
	return AssetToken
}

// Chat is a single trade negotiation between an initiator and an offerer.
type Chat struct {
	ID                string     `json:"id" dynamodbav:"id"`
	OfferID           string     `json:"offer_id" dynamodbav:"offer_id"`
	OfferType         OfferType  `json:"offer_type" dynamodbav:"offer_type"`
	Asset             AssetKind  `json:"asset" dynamodbav:"asset"`
	TokenID           string     `json:"token_id,omitempty" dynamodbav:"token_id,omitempty"`
	Owner             string     `json:"owner" dynamodbav:"owner"`
	Offerer           string     `json:"offerer" dynamodbav:"offerer"`
	Payer             string     `json:"payer" dynamodbav:"payer"`
	Receiver          string     `json:"receiver" dynamodbav:"receiver"`
	Amount            Amount     `json:"amount" dynamodbav:"amount"`
	TradeCost         Amount     `json:"trade_cost" dynamodbav:"trade_cost"`
	TradeCostUSD      float64    `json:"trade_cost_usd" dynamodbav:"trade_cost_usd"`
	PaymentMsg        string     `json:"payment_msg" dynamodbav:"payment_msg"`
	Active            bool       `json:"active" dynamodbav:"active"`
	Paid              bool       `json:"paid" dynamodbav:"paid"`
	Received          bool       `json:"received" dynamodbav:"received"`
	Canceled          bool       `json:"canceled" dynamodbav:"canceled"`
	Released          bool       `json:"released" dynamodbav:"released"`
	PayerHasRated     bool       `json:"payer_has_rated" dynamodbav:"payer_has_rated"`
	ReceiverHasRated  bool       `json:"receiver_has_rated" dynamodbav:"receiver_has_rated"`
	PendingTransferID string     `json:"pending_transfer_id,omitempty" dynamodbav:"pending_transfer_id,omitempty"`
	TransferAttempts  int        `json:"transfer_attempts" dynamodbav:"transfer_attempts"`
	PendingSince      *time.Time `json:"pending_since,omitempty" dynamodbav:"pending_since,omitempty"`
	StartedAt         time.Time  `json:"started_at" dynamodbav:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty" dynamodbav:"ended_at,omitempty"`
	CreatedOn         time.Time  `json:"created_on" dynamodbav:"created_on"`
	UpdatedOn         *time.Time `json:"updated_on,omitempty" dynamodbav:"updated_on,omitempty"`
	Version           int64      `json:"version" dynamodbav:"version"`
}

// Escrower is the party whose funds are locked for the chat: the initiator
// when answering a buy offer, the offerer when answering a sell offer.
func (c *Chat) Escrower() string {
	if c.OfferType == OfferBuy {
		return c.Owner
	}
	return c.Offerer
}

// Beneficiary is the party paid out on release.
func (c *Chat) Beneficiary() string {
	if c.OfferType == OfferBuy {
		return c.Offerer
	}
	return c.Owner
}

// ReleasePending is true while a token payout is in flight.
func (c *Chat) ReleasePending() bool {
	return c.Released && c.Active && c.PendingTransferID != ""
}

// Involves reports whether account takes part in the chat.
func (c *Chat) Involves(account string) bool {
	return c.Owner == account || c.Offerer == account
}

// Revenue is one fee booking.
type Revenue struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Asset     string    `json:"asset" dynamodbav:"asset"`
	From      string    `json:"from" dynamodbav:"from_source"`
	Account   string    `json:"account" dynamodbav:"account"`
	ChatID    string    `json:"chat_id,omitempty" dynamodbav:"chat_id,omitempty"`
	Amount    Amount    `json:"amount" dynamodbav:"amount"`
	AmountUSD *USD      `json:"amount_usd,omitempty" dynamodbav:"amount_usd,omitempty"`
	Date      time.Time `json:"date" dynamodbav:"date"`
}

// RevenueTotals is the ledger-wide running fee counter.
type RevenueTotals struct {
	Total    Amount `json:"total_revenue" dynamodbav:"total_revenue"`
	TotalUSD USD    `json:"total_revenue_usd" dynamodbav:"total_revenue_usd"`
	Version  int64  `json:"version" dynamodbav:"version"`
}

// TransferKind tags history transfers.
type TransferKind string

const (
	TransferDeposit       TransferKind = "deposit"
	TransferWithdrawal    TransferKind = "withdrawal"
	TransferPayout        TransferKind = "payout"
	TransferTokenDeposit  TransferKind = "token_deposit"
	TransferTokenWithdraw TransferKind = "token_withdrawal"
	TransferTokenPayout   TransferKind = "token_payout"
)

// Transfer is a history record of value entering, leaving or moving inside the ledger.
type Transfer struct {
	ID        string       `json:"id" dynamodbav:"id"`
	Kind      TransferKind `json:"kind" dynamodbav:"kind"`
	Sender    string       `json:"sender" dynamodbav:"sender"`
	Receiver  string       `json:"receiver" dynamodbav:"receiver"`
	Asset     AssetKind    `json:"asset" dynamodbav:"asset"`
	TokenID   string       `json:"token_id,omitempty" dynamodbav:"token_id,omitempty"`
	Amount    Amount       `json:"amount" dynamodbav:"amount"`
	Timestamp time.Time    `json:"timestamp" dynamodbav:"timestamp"`
}

// Trade records a completed chat.
type Trade struct {
	ID        string    `json:"id" dynamodbav:"id"`
	ChatID    string    `json:"chat_id" dynamodbav:"chat_id"`
	OfferType OfferType `json:"offer_type" dynamodbav:"offer_type"`
	Asset     AssetKind `json:"asset" dynamodbav:"asset"`
	TokenID   string    `json:"token_id,omitempty" dynamodbav:"token_id,omitempty"`
	Seller    string    `json:"seller" dynamodbav:"seller"`
	Buyer     string    `json:"buyer" dynamodbav:"buyer"`
	Amount    Amount    `json:"amount" dynamodbav:"amount"`
	StartedAt time.Time `json:"started_at" dynamodbav:"started_at"`
	EndedAt   time.Time `json:"ended_at" dynamodbav:"ended_at"`
}

// WithdrawalStatus tracks a token withdrawal through the transfer bridge.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalCompleted WithdrawalStatus = "COMPLETED"
	WithdrawalFailed    WithdrawalStatus = "FAILED"
)

// Withdrawal moves tokens from the ledger to an external wallet.
type Withdrawal struct {
	ID         string           `json:"id" dynamodbav:"id"`
	AccountID  string           `json:"account_id" dynamodbav:"account_id"`
	TokenID    string           `json:"token_id" dynamodbav:"token_id"`
	Amount     Amount           `json:"amount" dynamodbav:"amount"`
	Status     WithdrawalStatus `json:"status" dynamodbav:"status"`
	TransferID string           `json:"transfer_id" dynamodbav:"transfer_id"`
	Reason     string           `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" dynamodbav:"updated_at"`
	Version    int64            `json:"version" dynamodbav:"version"`
}

// TokenMetadata describes a fungible token known to the catalog.
type TokenMetadata struct {
	Address  string `json:"address" dynamodbav:"address"`
	Name     string `json:"name" dynamodbav:"name"`
	Symbol   string `json:"symbol" dynamodbav:"symbol"`
	Icon     string `json:"icon,omitempty" dynamodbav:"icon,omitempty"`
	Decimals uint8  `json:"decimals" dynamodbav:"decimals"`
}

// PaymentMethod is an off-ledger payment rail offers can reference.
type PaymentMethod struct {
	Name string `json:"name" dynamodbav:"name"`
	Icon string `json:"icon,omitempty" dynamodbav:"icon,omitempty"`
}

// PublicAccount is the view of an account other participants may see.
type PublicAccount struct {
	ID        string    `json:"id"`
	Likes     int32     `json:"likes"`
	Dislikes  int32     `json:"dislikes"`
	BlockedBy int32     `json:"blocked_by"`
	Trades    int       `json:"trades"`
	Transfers int       `json:"transfers"`
	Offers    int       `json:"offers"`
	CreatedOn time.Time `json:"created_on"`
}
