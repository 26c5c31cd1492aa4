package revenue

import (
	"testing"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sink := NewSink(func() time.Time { return fixed })

	t.Run("Books Fee And Totals", func(t *testing.T) {
		ws := &storage.WriteSet{}
		totals := &models.RevenueTotals{Total: models.NewAmount(5), TotalUSD: models.MustParseUSD("1.5"), Version: 3}
		usd := models.MustParseUSD("0.25")

		rec, ok := sink.Record(ws, totals, Entry{From: SourceTrade, Account: "alice", ChatID: "c1", Amount: models.NewAmount(10), AmountUSD: &usd})
		require.True(t, ok)
		assert.Equal(t, models.NativeAsset, rec.Asset)
		assert.Equal(t, fixed, rec.Date)
		assert.Equal(t, models.NewAmount(15), totals.Total)
		assert.Equal(t, "1.75", totals.TotalUSD.String())
		assert.Equal(t, int64(3), totals.Version)
		assert.Len(t, ws.Revenues, 1)
		assert.Same(t, totals, ws.Totals)
	})

	t.Run("USD Totals Do Not Drift", func(t *testing.T) {
		totals := &models.RevenueTotals{}
		for i := 0; i < 10; i++ {
			usd := models.NewUSD(0.1)
			sink.Record(&storage.WriteSet{}, totals, Entry{From: SourceTrade, Amount: models.NewAmount(1), AmountUSD: &usd})
		}
		assert.True(t, totals.TotalUSD.Equal(models.MustParseUSD("1")), totals.TotalUSD.String())
	})

	t.Run("Zero Fee Skipped", func(t *testing.T) {
		ws := &storage.WriteSet{}
		totals := &models.RevenueTotals{}
		_, ok := sink.Record(ws, totals, Entry{From: SourceTrade})
		assert.False(t, ok)
		assert.True(t, ws.Empty())
	})
}
