// Package revenue books trade fees into the append-only revenue pool.
package revenue

import (
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
	"github.com/google/uuid"
)

// SourceTrade tags fees skimmed from completed chats.
const SourceTrade = "trade"

// Entry describes one fee to book.
type Entry struct {
	Asset     string
	From      string
	Account   string
	ChatID    string
	Amount    models.Amount
	AmountUSD *models.USD
}

// Sink stages revenue records and running totals into a write set, so the
// fee lands in the same commit as the funds it was taken from.
type Sink struct {
	now func() time.Time
}

func NewSink(now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	return &Sink{now: now}
}

// Record appends the entry to ws and adds it to totals, which the caller
// loaded for this write set. Zero fees are not recorded.
func (s *Sink) Record(ws *storage.WriteSet, totals *models.RevenueTotals, e Entry) (models.Revenue, bool) {
	if e.Amount.IsZero() {
		return models.Revenue{}, false
	}
	if e.Asset == "" {
		e.Asset = models.NativeAsset
	}
	rec := models.Revenue{
		ID:        uuid.New().String(),
		Asset:     e.Asset,
		From:      e.From,
		Account:   e.Account,
		ChatID:    e.ChatID,
		Amount:    e.Amount,
		AmountUSD: e.AmountUSD,
		Date:      s.now(),
	}
	totals.Total = totals.Total.Add(e.Amount)
	if e.AmountUSD != nil {
		totals.TotalUSD = totals.TotalUSD.Add(*e.AmountUSD)
	}
	ws.Revenues = append(ws.Revenues, rec)
	ws.Totals = totals
	return rec, true
}
