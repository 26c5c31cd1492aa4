package escrow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/bridge"
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/events"
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// near converts whole NEAR to yocto.
func near(s string) models.Amount {
	d := decimal.RequireFromString(s).Shift(24)
	return models.MustParseAmount(d.String())
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx     context.Context
	store   *memory.Store
	catalog *catalog.Catalog
	bridge  *bridge.Loopback
	events  *events.Recorder
	clock   *testClock
	engine  *escrow.Engine
}

func newFixture(t *testing.T, cfg escrow.Config) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		store:  memory.New(),
		bridge: bridge.NewLoopback(nil),
		events: &events.Recorder{},
		clock:  &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	c, err := catalog.New(f.store, decimal.RequireFromString("0.05"), catalog.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.catalog = c
	if cfg.Owner == "" {
		cfg.Owner = "admin"
	}
	f.engine = escrow.New(f.store, c, f.bridge, cfg,
		escrow.WithClock(f.clock.Now),
		escrow.WithEmitter(f.events),
	)
	return f
}

func (f *fixture) register(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		status, err := f.engine.RegisterAccount(f.ctx, id)
		require.NoError(t, err)
		require.Equal(t, escrow.StatusAccountRegistered, status)
	}
}

func (f *fixture) deposit(t *testing.T, id string, amount models.Amount) {
	t.Helper()
	_, err := f.engine.Deposit(f.ctx, id, amount)
	require.NoError(t, err)
}

func (f *fixture) offer(t *testing.T, offerer, id string, typ models.OfferType, token string, max models.Amount) {
	t.Helper()
	status, _, err := f.catalog.CreateOffer(f.ctx, offerer, catalog.NewOffer{
		ID:        id,
		Type:      typ,
		TokenID:   token,
		MinAmount: models.NewAmount(1),
		MaxAmount: max,
		Payment:   "bank",
		Currency:  "USD",
	})
	require.NoError(t, err)
	require.Equal(t, catalog.StatusOfferCreated, status)
}

func (f *fixture) account(t *testing.T, id string) *ledger.Account {
	t.Helper()
	acc, err := f.engine.GetAccount(f.ctx, id)
	require.NoError(t, err)
	return acc
}

func (f *fixture) chat(t *testing.T, id string) *models.Chat {
	t.Helper()
	c, err := f.engine.GetChat(f.ctx, id)
	require.NoError(t, err)
	return c
}

func (f *fixture) open(t *testing.T, caller string, req escrow.ChatRequest) string {
	t.Helper()
	status, _, err := f.engine.OpenChat(f.ctx, caller, req)
	require.NoError(t, err)
	return status
}

func TestRegisterAccount(t *testing.T) {
	f := newFixture(t, escrow.Config{})

	status, err := f.engine.RegisterAccount(f.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusAccountRegistered, status)

	status, err = f.engine.RegisterAccount(f.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusAccountExists, status)

	assert.Equal(t, []string{events.TypeAccountRegistered}, f.events.Types())
}

func TestDepositAndWithdraw(t *testing.T) {
	f := newFixture(t, escrow.Config{MinDeposit: near("0.1")})
	f.register(t, "alice")

	t.Run("Below Minimum", func(t *testing.T) {
		_, err := f.engine.Deposit(f.ctx, "alice", near("0.01"))
		assert.ErrorIs(t, err, ledger.ErrBelowMinimumDeposit)
	})

	t.Run("Unregistered", func(t *testing.T) {
		_, err := f.engine.Deposit(f.ctx, "nobody", near("1"))
		assert.ErrorIs(t, err, escrow.ErrAccountNotFound)
	})

	t.Run("Success", func(t *testing.T) {
		acc, err := f.engine.Deposit(f.ctx, "alice", near("3"))
		require.NoError(t, err)
		assert.Equal(t, near("3"), acc.Balance)

		acc, err = f.engine.Withdraw(f.ctx, "alice", "alice", near("1"))
		require.NoError(t, err)
		assert.Equal(t, near("2"), acc.Balance)

		transfers, err := f.store.ListTransfersByAccount(f.ctx, "alice")
		require.NoError(t, err)
		require.Len(t, transfers, 2)
		assert.Equal(t, models.TransferDeposit, transfers[0].Kind)
		assert.Equal(t, models.TransferWithdrawal, transfers[1].Kind)
	})

	t.Run("Not Owner", func(t *testing.T) {
		_, err := f.engine.Withdraw(f.ctx, "mallory", "alice", near("1"))
		assert.ErrorIs(t, err, ledger.ErrNotOwner)
		assert.Equal(t, near("2"), f.account(t, "alice").Balance)
	})

	t.Run("Overdraw", func(t *testing.T) {
		_, err := f.engine.Withdraw(f.ctx, "alice", "alice", near("5"))
		assert.True(t, ledger.IsInsufficientFunds(err))
	})

	t.Run("Overflow", func(t *testing.T) {
		f.register(t, "whale")
		maxU128 := models.MustParseAmount("340282366920938463463374607431768211455")
		f.deposit(t, "whale", maxU128)
		_, err := f.engine.Deposit(f.ctx, "whale", maxU128)
		assert.ErrorIs(t, err, models.ErrAmountOverflow)
		assert.Equal(t, maxU128, f.account(t, "whale").Balance)

		_, err = f.engine.DepositTokens(f.ctx, "whale", "usdc.near", maxU128)
		require.NoError(t, err)
		_, err = f.engine.DepositTokens(f.ctx, "whale", "usdc.near", maxU128)
		assert.ErrorIs(t, err, models.ErrAmountOverflow)
	})
}

func TestNativeBuyChatReleasesOnReceipt(t *testing.T) {
	f := newFixture(t, escrow.Config{})
	f.register(t, "alice", "bob")
	f.deposit(t, "alice", near("5"))
	f.offer(t, "bob", "o1", models.OfferBuy, "", near("10"))

	status := f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "o1", Side: models.OfferBuy, Amount: near("2")})
	require.Equal(t, escrow.StatusChatCreated, status)

	alice := f.account(t, "alice")
	assert.Equal(t, near("2.1"), alice.Locked)
	assert.Equal(t, near("2.9"), alice.Balance)

	chat := f.chat(t, "c1")
	assert.Equal(t, near("0.1"), chat.TradeCost)
	assert.Equal(t, "bob", chat.Payer)
	assert.Equal(t, "alice", chat.Receiver)

	status, err := f.engine.MarkPaid(f.ctx, "bob", "c1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSuccess, status)

	status, err = f.engine.MarkReceived(f.ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSuccess, status)

	alice = f.account(t, "alice")
	assert.True(t, alice.Locked.IsZero())
	assert.Equal(t, near("2.9"), alice.Balance)
	assert.Equal(t, near("2"), f.account(t, "bob").Balance)

	totals, err := f.store.GetRevenueTotals(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, near("0.1"), totals.Total)

	revenue, err := f.store.ListRevenue(f.ctx)
	require.NoError(t, err)
	require.Len(t, revenue, 1)
	assert.Equal(t, "alice", revenue[0].Account)
	assert.Equal(t, "c1", revenue[0].ChatID)

	chat = f.chat(t, "c1")
	assert.True(t, chat.Released)
	assert.False(t, chat.Active)
	assert.NotNil(t, chat.EndedAt)

	trades, err := f.store.ListTradesByAccount(f.ctx, "bob")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "alice", trades[0].Seller)
	assert.Equal(t, "bob", trades[0].Buyer)

	assert.Subset(t, f.events.Types(), []string{
		events.TypeChatOpened, events.TypeChatPaid, events.TypeChatReceived, events.TypeChatReleased,
	})
}

func TestNativeSellChatPaysInitiator(t *testing.T) {
	f := newFixture(t, escrow.Config{})
	f.register(t, "alice", "bob")
	f.deposit(t, "bob", near("10"))
	f.offer(t, "bob", "o1", models.OfferSell, "", near("10"))

	status := f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "o1", Side: models.OfferSell, Amount: near("4")})
	require.Equal(t, escrow.StatusChatCreated, status)
	assert.Equal(t, near("4.2"), f.account(t, "bob").Locked)

	chat := f.chat(t, "c1")
	assert.Equal(t, "alice", chat.Payer)
	assert.Equal(t, "bob", chat.Receiver)

	status, err := f.engine.MarkReceived(f.ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusFailed, status)

	status, err = f.engine.MarkReceived(f.ctx, "bob", "c1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSuccess, status)

	assert.Equal(t, near("4"), f.account(t, "alice").Balance)
	bob := f.account(t, "bob")
	assert.True(t, bob.Locked.IsZero())
	assert.Equal(t, near("5.8"), bob.Balance)
}

func TestOpenChatRejections(t *testing.T) {
	f := newFixture(t, escrow.Config{})
	f.register(t, "alice", "bob", "carol")
	f.deposit(t, "alice", near("1"))
	f.deposit(t, "bob", near("3"))
	f.offer(t, "bob", "buy", models.OfferBuy, "", near("10"))
	f.offer(t, "bob", "sell", models.OfferSell, "", near("3"))
	f.offer(t, "bob", "off", models.OfferBuy, "", near("10"))
	_, err := f.catalog.SetOfferStatus(f.ctx, "bob", "off", false)
	require.NoError(t, err)
	_, err = f.engine.Withdraw(f.ctx, "bob", "bob", near("2"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		caller string
		req    escrow.ChatRequest
		want   string
	}{
		{"Self", "bob", escrow.ChatRequest{OfferID: "buy", Side: models.OfferBuy, Amount: near("1")}, escrow.StatusSelfChat},
		{"Missing Offer", "alice", escrow.ChatRequest{OfferID: "nope", Side: models.OfferBuy, Amount: near("1")}, escrow.StatusOfferNotFound},
		{"Wrong Side Buy", "alice", escrow.ChatRequest{OfferID: "sell", Side: models.OfferBuy, Amount: near("1")}, escrow.StatusOfferNotForBuy},
		{"Wrong Side Sell", "alice", escrow.ChatRequest{OfferID: "buy", Side: models.OfferSell, Amount: near("1")}, escrow.StatusOfferNotForSell},
		{"Inactive", "alice", escrow.ChatRequest{OfferID: "off", Side: models.OfferBuy, Amount: near("1")}, escrow.StatusOfferInactive},
		{"Above Max", "alice", escrow.ChatRequest{OfferID: "buy", Side: models.OfferBuy, Amount: near("11")}, escrow.StatusAmountOutOfRange},
		{"Unregistered", "dave", escrow.ChatRequest{OfferID: "buy", Side: models.OfferBuy, Amount: near("1")}, escrow.StatusNotRegistered},
		{"Initiator Short", "alice", escrow.ChatRequest{OfferID: "buy", Side: models.OfferBuy, Amount: near("1")}, escrow.StatusInsufficientFunds},
		{"Offerer Short", "carol", escrow.ChatRequest{OfferID: "sell", Side: models.OfferSell, Amount: near("2")}, escrow.StatusOffererUnderfunded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.open(t, tt.caller, tt.req))
		})
	}

	chats, err := f.store.ListChats(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, chats)
	assert.Equal(t, near("1"), f.account(t, "alice").Balance)
	assert.True(t, f.account(t, "alice").Locked.IsZero())
	assert.True(t, f.account(t, "bob").Locked.IsZero())

	t.Run("Duplicate ID", func(t *testing.T) {
		require.Equal(t, escrow.StatusChatCreated, f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "buy", Side: models.OfferBuy, Amount: near("0.5")}))
		assert.Equal(t, escrow.StatusChatExists, f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "buy", Side: models.OfferBuy, Amount: near("0.1")}))
		assert.Equal(t, near("0.525"), f.account(t, "alice").Locked)
	})

	t.Run("Zero Amount", func(t *testing.T) {
		_, _, err := f.engine.OpenChat(f.ctx, "alice", escrow.ChatRequest{OfferID: "buy", Side: models.OfferBuy})
		assert.ErrorIs(t, err, escrow.ErrInvalidAmount)
	})
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t, escrow.Config{})
	f.register(t, "alice", "bob")
	f.deposit(t, "alice", near("5"))
	f.offer(t, "bob", "o1", models.OfferBuy, "", near("10"))
	require.Equal(t, escrow.StatusChatCreated, f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "o1", Side: models.OfferBuy, Amount: near("1")}))

	status, err := f.engine.MarkPaid(f.ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusFailed, status)
	assert.False(t, f.chat(t, "c1").Paid)

	status, err = f.engine.MarkPaid(f.ctx, "bob", "c1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSuccess, status)
	assert.True(t, f.chat(t, "c1").Paid)

	_, err = f.engine.MarkPaid(f.ctx, "bob", "missing")
	assert.ErrorIs(t, err, escrow.ErrChatNotFound)
}

func TestReleaseIsAtMostOnce(t *testing.T) {
	f := newFixture(t, escrow.Config{})
	f.register(t, "alice", "bob")
	f.deposit(t, "alice", near("5"))
	f.offer(t, "bob", "o1", models.OfferBuy, "", near("10"))
	require.Equal(t, escrow.StatusChatCreated, f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "o1", Side: models.OfferBuy, Amount: near("2")}))

	_, err := f.engine.MarkReceived(f.ctx, "alice", "c1")
	require.NoError(t, err)
	alice, bob := f.account(t, "alice"), f.account(t, "bob")

	_, err = f.engine.MarkReceived(f.ctx, "alice", "c1")
	assert.ErrorIs(t, err, escrow.ErrAlreadyReleased)

	err = f.engine.Release(f.ctx, "admin", "c1")
	assert.ErrorIs(t, err, escrow.ErrAlreadyReleased)

	assert.Equal(t, alice, f.account(t, "alice"))
	assert.Equal(t, bob, f.account(t, "bob"))

	totals, err := f.store.GetRevenueTotals(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, near("0.1"), totals.Total)
}

func TestAdminRelease(t *testing.T) {
	f := newFixture(t, escrow.Config{Guardians: []string{"guard"}})
	f.register(t, "alice", "bob")
	f.deposit(t, "alice", near("5"))
	f.offer(t, "bob", "o1", models.OfferBuy, "", near("10"))
	require.Equal(t, escrow.StatusChatCreated, f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "o1", Side: models.OfferBuy, Amount: near("1")}))

	err := f.engine.Release(f.ctx, "bob", "c1")
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	require.NoError(t, f.engine.Release(f.ctx, "guard", "c1"))
	assert.Equal(t, near("1"), f.account(t, "bob").Balance)
}

func TestCancel(t *testing.T) {
	setup := func(t *testing.T, cfg escrow.Config) *fixture {
		f := newFixture(t, cfg)
		f.register(t, "alice", "bob", "carol")
		f.deposit(t, "alice", near("5"))
		f.offer(t, "bob", "o1", models.OfferBuy, "", near("10"))
		require.Equal(t, escrow.StatusChatCreated, f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "o1", Side: models.OfferBuy, Amount: near("2")}))
		return f
	}

	t.Run("Principal Only", func(t *testing.T) {
		f := setup(t, escrow.Config{})
		status, err := f.engine.Cancel(f.ctx, "bob", "c1")
		require.NoError(t, err)
		assert.Equal(t, escrow.StatusChatCanceled, status)

		alice := f.account(t, "alice")
		assert.Equal(t, near("4.9"), alice.Balance)
		assert.Equal(t, near("0.1"), alice.Locked)

		chat := f.chat(t, "c1")
		assert.True(t, chat.Canceled)
		assert.False(t, chat.Active)
		assert.False(t, chat.Released)

		_, err = f.engine.Cancel(f.ctx, "bob", "c1")
		assert.ErrorIs(t, err, escrow.ErrChatNotCancellable)
		assert.Equal(t, alice, f.account(t, "alice"))
	})

	t.Run("Fee Refunded", func(t *testing.T) {
		f := setup(t, escrow.Config{CancelRefundsFee: true})
		_, err := f.engine.Cancel(f.ctx, "alice", "c1")
		require.NoError(t, err)
		alice := f.account(t, "alice")
		assert.Equal(t, near("5"), alice.Balance)
		assert.True(t, alice.Locked.IsZero())
	})

	t.Run("After Paid", func(t *testing.T) {
		f := setup(t, escrow.Config{})
		_, err := f.engine.MarkPaid(f.ctx, "bob", "c1")
		require.NoError(t, err)
		_, err = f.engine.Cancel(f.ctx, "alice", "c1")
		assert.ErrorIs(t, err, escrow.ErrChatNotCancellable)
		assert.Equal(t, near("2.1"), f.account(t, "alice").Locked)
	})

	t.Run("Outsider", func(t *testing.T) {
		f := setup(t, escrow.Config{})
		status, err := f.engine.Cancel(f.ctx, "carol", "c1")
		require.NoError(t, err)
		assert.Equal(t, escrow.StatusNotAllowed, status)
		assert.True(t, f.chat(t, "c1").Active)
	})
}

func TestRate(t *testing.T) {
	f := newFixture(t, escrow.Config{})
	f.register(t, "alice", "bob")
	f.deposit(t, "alice", near("5"))
	f.offer(t, "bob", "o1", models.OfferBuy, "", near("10"))
	require.Equal(t, escrow.StatusChatCreated, f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "o1", Side: models.OfferBuy, Amount: near("1")}))
	_, err := f.engine.MarkReceived(f.ctx, "alice", "c1")
	require.NoError(t, err)

	status, err := f.engine.Rate(f.ctx, "alice", "c1", escrow.RoleReceiver, true)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRated, status)

	status, err = f.engine.Rate(f.ctx, "alice", "c1", escrow.RoleReceiver, false)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusAlreadyRated, status)

	bob := f.account(t, "bob")
	assert.Equal(t, int32(1), bob.Reputation.Likes)
	assert.Equal(t, int32(0), bob.Reputation.Dislikes)

	status, err = f.engine.Rate(f.ctx, "bob", "c1", escrow.RoleReceiver, false)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusNotAllowed, status)

	status, err = f.engine.Rate(f.ctx, "bob", "c1", escrow.RolePayer, false)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRated, status)
	assert.Equal(t, int32(1), f.account(t, "alice").Reputation.Dislikes)

	_, err = f.engine.Rate(f.ctx, "bob", "c1", escrow.Role("judge"), true)
	assert.ErrorIs(t, err, escrow.ErrInvalidRole)

	chat := f.chat(t, "c1")
	assert.True(t, chat.ReceiverHasRated)
	assert.True(t, chat.PayerHasRated)
}

func TestListAndClearChats(t *testing.T) {
	f := newFixture(t, escrow.Config{})
	f.register(t, "alice", "bob", "carol")
	f.deposit(t, "alice", near("5"))
	f.offer(t, "bob", "o1", models.OfferBuy, "", near("10"))
	require.Equal(t, escrow.StatusChatCreated, f.open(t, "alice", escrow.ChatRequest{ID: "c1", OfferID: "o1", Side: models.OfferBuy, Amount: near("1")}))

	chats, err := f.engine.ListAccountChats(f.ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, chats, 1)

	chats, err = f.engine.ListAccountChats(f.ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, chats)

	_, err = f.engine.ClearChats(f.ctx, "alice")
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)

	n, err := f.engine.ClearChats(f.ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentDeposits(t *testing.T) {
	f := newFixture(t, escrow.Config{})
	f.register(t, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Deposit(f.ctx, "alice", near("1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, near("20"), f.account(t, "alice").Balance)
}
