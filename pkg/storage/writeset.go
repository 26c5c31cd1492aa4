package storage

import (
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// WriteSet is every mutation of one operation. A store applies all of it or
// none of it.
//
// Versioned records (accounts, chats, offers, withdrawals, totals) carry the
// version they were read at; version 0 means the record must not exist yet.
// On success the store bumps Version on the records in the set.
type WriteSet struct {
	Accounts    []*ledger.Account
	Chats       []*models.Chat
	Offers      []*models.Offer
	Withdrawals []*models.Withdrawal
	Totals      *models.RevenueTotals

	Revenues  []models.Revenue
	Transfers []models.Transfer
	Trades    []models.Trade

	Tokens               []models.TokenMetadata
	PaymentMethods       []models.PaymentMethod
	DeleteTokens         []string
	DeletePaymentMethods []string
}

// Empty reports whether the set carries no mutation.
func (ws *WriteSet) Empty() bool {
	return len(ws.Accounts) == 0 && len(ws.Chats) == 0 && len(ws.Offers) == 0 &&
		len(ws.Withdrawals) == 0 && ws.Totals == nil && len(ws.Revenues) == 0 &&
		len(ws.Transfers) == 0 && len(ws.Trades) == 0 && len(ws.Tokens) == 0 &&
		len(ws.PaymentMethods) == 0 && len(ws.DeleteTokens) == 0 && len(ws.DeletePaymentMethods) == 0
}

// BumpVersions is called by stores once a commit is durable.
func (ws *WriteSet) BumpVersions() {
	for _, a := range ws.Accounts {
		a.Version++
	}
	for _, c := range ws.Chats {
		c.Version++
	}
	for _, o := range ws.Offers {
		o.Version++
	}
	for _, w := range ws.Withdrawals {
		w.Version++
	}
	if ws.Totals != nil {
		ws.Totals.Version++
	}
}
