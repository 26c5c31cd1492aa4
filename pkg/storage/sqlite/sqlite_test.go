package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/bridge"
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
	"github.com/chris/p2p-escrow-ledger/pkg/storage/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCommitVersions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	alice := ledger.NewAccount("alice", epoch)
	alice.Credit(models.NewAmount(10))
	require.NoError(t, store.Commit(ctx, &storage.WriteSet{Accounts: []*ledger.Account{alice}}))
	assert.Equal(t, int64(1), alice.Version)

	t.Run("Update", func(t *testing.T) {
		acc, err := store.GetAccount(ctx, "alice")
		require.NoError(t, err)
		acc.Credit(models.NewAmount(5))
		require.NoError(t, store.Commit(ctx, &storage.WriteSet{Accounts: []*ledger.Account{acc}}))

		got, err := store.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.NewAmount(15), got.Balance)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("Stale Write Rolls Back", func(t *testing.T) {
		stale := alice.Clone()
		stale.Credit(models.NewAmount(100))
		bob := ledger.NewAccount("bob", epoch)

		err := store.Commit(ctx, &storage.WriteSet{Accounts: []*ledger.Account{bob, stale}})
		assert.ErrorIs(t, err, storage.ErrConcurrentModification)

		_, err = store.GetAccount(ctx, "bob")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		got, err := store.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.NewAmount(15), got.Balance)
	})

	t.Run("Duplicate Create", func(t *testing.T) {
		dup := ledger.NewAccount("alice", epoch)
		err := store.Commit(ctx, &storage.WriteSet{Accounts: []*ledger.Account{dup}})
		assert.ErrorIs(t, err, storage.ErrConcurrentModification)
	})
}

func TestChatQueries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	old := epoch.Add(-time.Hour)
	chats := []*models.Chat{
		{ID: "c1", Owner: "alice", Offerer: "bob", Active: true, CreatedOn: epoch},
		{ID: "c2", Owner: "carol", Offerer: "alice", Active: true, Released: true, PendingTransferID: "r1", PendingSince: &old, CreatedOn: epoch.Add(time.Minute)},
		{ID: "c3", Owner: "carol", Offerer: "bob", Active: true, CreatedOn: epoch.Add(2 * time.Minute)},
	}
	require.NoError(t, store.Commit(ctx, &storage.WriteSet{Chats: chats}))

	byAlice, err := store.ListChatsByAccount(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, byAlice, 2)
	assert.Equal(t, "c1", byAlice[0].ID)
	assert.Equal(t, "c2", byAlice[1].ID)

	pending, err := store.ListPendingReleases(ctx, epoch)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c2", pending[0].ID)

	none, err := store.ListPendingReleases(ctx, old)
	require.NoError(t, err)
	assert.Empty(t, none)

	// Settling the payout takes the chat off the pending index.
	settled, err := store.GetChat(ctx, "c2")
	require.NoError(t, err)
	settled.Active = false
	settled.PendingTransferID = ""
	require.NoError(t, store.Commit(ctx, &storage.WriteSet{Chats: []*models.Chat{settled}}))
	pending, err = store.ListPendingReleases(ctx, epoch)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err := store.ClearChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	all, err := store.ListChats(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHistoryAndRegistry(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	totals, err := store.GetRevenueTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), totals.Version)

	totals.Total = models.NewAmount(3)
	require.NoError(t, store.Commit(ctx, &storage.WriteSet{
		Totals:         totals,
		Revenues:       []models.Revenue{{ID: "r1", Asset: models.NativeAsset, Amount: models.NewAmount(3), Date: epoch}},
		Transfers:      []models.Transfer{{ID: "t1", Kind: models.TransferPayout, Sender: "alice", Receiver: "bob", Amount: models.NewAmount(7), Timestamp: epoch}},
		Trades:         []models.Trade{{ID: "tr1", ChatID: "c1", Seller: "alice", Buyer: "bob", EndedAt: epoch}},
		Tokens:         []models.TokenMetadata{{Address: "usdc.near", Symbol: "USDC", Decimals: 6}},
		PaymentMethods: []models.PaymentMethod{{Name: "bank"}, {Name: "cash"}},
	}))

	totals, err = store.GetRevenueTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.NewAmount(3), totals.Total)
	assert.Equal(t, int64(1), totals.Version)

	transfers, err := store.ListTransfersByAccount(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, models.NewAmount(7), transfers[0].Amount)

	trades, err := store.ListTradesByAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	revenue, err := store.ListRevenue(ctx)
	require.NoError(t, err)
	assert.Len(t, revenue, 1)

	token, err := store.GetToken(ctx, "usdc.near")
	require.NoError(t, err)
	assert.Equal(t, "USDC", token.Symbol)

	require.NoError(t, store.Commit(ctx, &storage.WriteSet{DeletePaymentMethods: []string{"cash"}}))
	methods, err := store.ListPaymentMethods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.PaymentMethod{{Name: "bank"}}, methods)

	_, err = store.GetPaymentMethod(ctx, "cash")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConnections(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.AddConnection(ctx, "b"))
	require.NoError(t, store.AddConnection(ctx, "a"))
	require.NoError(t, store.AddConnection(ctx, "a"))
	require.NoError(t, store.RemoveConnection(ctx, "b"))

	ids, err := store.GetAllConnections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestEngineOverSQLite(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	c, err := catalog.New(store, decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	engine := escrow.New(store, c, bridge.NewLoopback(nil), escrow.Config{Owner: "admin"})

	for _, id := range []string{"alice", "bob"} {
		_, err := engine.RegisterAccount(ctx, id)
		require.NoError(t, err)
	}
	_, err = engine.Deposit(ctx, "alice", models.NewAmount(5000))
	require.NoError(t, err)

	status, _, err := c.CreateOffer(ctx, "bob", catalog.NewOffer{
		ID: "o1", Type: models.OfferBuy, MinAmount: models.NewAmount(1), MaxAmount: models.NewAmount(5000),
		Payment: "bank", Currency: "USD",
	})
	require.NoError(t, err)
	require.Equal(t, catalog.StatusOfferCreated, status)

	status, chat, err := engine.OpenChat(ctx, "alice", escrow.ChatRequest{OfferID: "o1", Side: models.OfferBuy, Amount: models.NewAmount(2000)})
	require.NoError(t, err)
	require.Equal(t, escrow.StatusChatCreated, status)

	_, err = engine.MarkReceived(ctx, "alice", chat.ID)
	require.NoError(t, err)

	alice, err := store.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.NewAmount(2900), alice.Balance)
	assert.True(t, alice.Locked.IsZero())

	bob, err := store.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.NewAmount(2000), bob.Balance)

	totals, err := store.GetRevenueTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.NewAmount(100), totals.Total)
}
