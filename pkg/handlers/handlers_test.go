package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/api"
	"github.com/chris/p2p-escrow-ledger/pkg/bridge"
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/middleware"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage/memory"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	router http.Handler
	store  *memory.Store
	bridge *bridge.Loopback
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := memory.New()
	cat, err := catalog.New(store, decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	loop := bridge.NewLoopback(nil)
	engine := escrow.New(store, cat, loop, escrow.Config{Owner: "admin", Guardians: []string{"guard"}})

	r := chi.NewRouter()
	r.Use(middleware.Identity(nil))
	api.HandlerFromMux(NewApiHandler(engine, cat, store, 20*time.Minute), r)
	return &server{router: r, store: store, bridge: loop}
}

func (s *server) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(middleware.CallerHeader, caller)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (s *server) register(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		rr := s.do(t, http.MethodPost, "/accounts", id, nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestRegisterAccount(t *testing.T) {
	s := newServer(t)

	rr := s.do(t, http.MethodPost, "/accounts", "alice", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, escrow.StatusAccountRegistered, decode[api.StatusResponse](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/accounts", "alice", nil)
	assert.Equal(t, escrow.StatusAccountExists, decode[api.StatusResponse](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAccountAccess(t *testing.T) {
	s := newServer(t)
	s.register(t, "alice", "bob")

	tests := []struct {
		name   string
		caller string
		path   string
		want   int
	}{
		{"Holder", "alice", "/accounts/alice", http.StatusOK},
		{"Admin", "admin", "/accounts/alice", http.StatusOK},
		{"Guardian", "guard", "/accounts/alice", http.StatusOK},
		{"Stranger", "bob", "/accounts/alice", http.StatusForbidden},
		{"Anonymous", "", "/accounts/alice", http.StatusUnauthorized},
		{"Unknown", "admin", "/accounts/nobody", http.StatusNotFound},
		{"Public Profile", "", "/accounts/alice/public", http.StatusOK},
		{"Public Unknown", "", "/accounts/nobody/public", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodGet, tt.path, tt.caller, nil)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	s := newServer(t)
	s.register(t, "alice")

	rr := s.do(t, http.MethodPost, "/accounts/alice/deposits", "alice", api.AmountRequest{Amount: models.NewAmount(500)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.NewAmount(500), decode[ledger.Account](t, rr).Balance)

	rr = s.do(t, http.MethodPost, "/accounts/alice/withdrawals", "alice", api.AmountRequest{Amount: models.NewAmount(200)})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.NewAmount(300), decode[ledger.Account](t, rr).Balance)

	rr = s.do(t, http.MethodPost, "/accounts/alice/withdrawals", "alice", api.AmountRequest{Amount: models.NewAmount(1000)})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = s.do(t, http.MethodPost, "/accounts/alice/withdrawals", "bob", api.AmountRequest{Amount: models.NewAmount(1)})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodPost, "/accounts/alice/deposits", "alice", map[string]string{"amount": "-4"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/accounts/alice/deposits", "alice", api.AmountRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/accounts/alice/transfers", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	transfers := decode[[]models.Transfer](t, rr)
	require.Len(t, transfers, 2)

	t.Run("Overflow", func(t *testing.T) {
		s.register(t, "whale")
		maxU128 := api.AmountRequest{Amount: models.MustParseAmount("340282366920938463463374607431768211455")}
		rr := s.do(t, http.MethodPost, "/accounts/whale/deposits", "whale", maxU128)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		rr = s.do(t, http.MethodPost, "/accounts/whale/deposits", "whale", maxU128)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestNativeBuyLifecycle(t *testing.T) {
	s := newServer(t)
	s.register(t, "alice", "bob")
	s.do(t, http.MethodPost, "/accounts/alice/deposits", "alice", api.AmountRequest{Amount: models.NewAmount(5000)})

	rr := s.do(t, http.MethodPost, "/offers", "bob", api.NewOffer{
		ID: "o1", Type: "buy", MinAmount: models.NewAmount(1), MaxAmount: models.NewAmount(5000),
		Payment: "bank", Currency: "USD",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, catalog.StatusOfferCreated, decode[api.OfferCreated](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/chats", "alice", api.NewChat{ID: "c1", OfferID: "o1", Side: "buy", Amount: models.NewAmount(2000)})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[api.ChatCreated](t, rr)
	assert.Equal(t, escrow.StatusChatCreated, created.Status)
	assert.Equal(t, models.NewAmount(100), created.Chat.TradeCost)

	rr = s.do(t, http.MethodPost, "/chats", "alice", api.NewChat{ID: "c1", OfferID: "o1", Side: "buy", Amount: models.NewAmount(2000)})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, escrow.StatusChatExists, decode[api.ChatCreated](t, rr).Status)

	t.Run("Chat View", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/chats/c1", "bob", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		view := decode[api.ChatView](t, rr)
		assert.Equal(t, "c1", view.Chat.ID)
		require.NotNil(t, view.Offer)
		assert.Equal(t, "o1", view.Offer.Offer.ID)

		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/chats/c1", "mallory", nil).Code)
		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/chats/nope", "bob", nil).Code)
	})

	rr = s.do(t, http.MethodPost, "/chats/c1/paid", "alice", nil)
	assert.Equal(t, escrow.StatusFailed, decode[api.StatusResponse](t, rr).Status)
	rr = s.do(t, http.MethodPost, "/chats/c1/paid", "bob", nil)
	assert.Equal(t, escrow.StatusSuccess, decode[api.StatusResponse](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/chats/c1/cancel", "alice", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPost, "/chats/c1/received", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, escrow.StatusSuccess, decode[api.StatusResponse](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/chats/c1/received", "alice", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodGet, "/accounts/alice", "alice", nil)
	alice := decode[ledger.Account](t, rr)
	assert.Equal(t, models.NewAmount(2900), alice.Balance)
	assert.True(t, alice.Locked.IsZero())

	rr = s.do(t, http.MethodPost, "/chats/c1/rate", "alice", api.RateRequest{Role: "receiver", Like: true})
	assert.Equal(t, escrow.StatusRated, decode[api.StatusResponse](t, rr).Status)
	rr = s.do(t, http.MethodPost, "/chats/c1/rate", "alice", api.RateRequest{Role: "receiver", Like: true})
	assert.Equal(t, escrow.StatusAlreadyRated, decode[api.StatusResponse](t, rr).Status)
	rr = s.do(t, http.MethodPost, "/chats/c1/rate", "alice", api.RateRequest{Role: "judge"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/accounts/bob/public", "", nil)
	bob := decode[models.PublicAccount](t, rr)
	assert.Equal(t, int32(1), bob.Likes)
	assert.Equal(t, 1, bob.Trades)

	rr = s.do(t, http.MethodGet, "/revenue", "admin", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rev := decode[api.RevenueResponse](t, rr)
	assert.Equal(t, models.NewAmount(100), rev.Totals.Total)
	assert.Len(t, rev.Records, 1)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/revenue", "alice", nil).Code)

	rr = s.do(t, http.MethodGet, "/accounts/alice/trades", "", nil)
	assert.Len(t, decode[[]models.Trade](t, rr), 1)
	rr = s.do(t, http.MethodGet, "/accounts/bob/chats", "bob", nil)
	assert.Len(t, decode[[]models.Chat](t, rr), 1)
}

func TestOpenChatSoftStatuses(t *testing.T) {
	s := newServer(t)
	s.register(t, "alice", "bob")
	s.do(t, http.MethodPost, "/offers", "bob", api.NewOffer{ID: "o1", Type: "buy", MinAmount: models.NewAmount(1), MaxAmount: models.NewAmount(100)})

	rr := s.do(t, http.MethodPost, "/chats", "alice", api.NewChat{OfferID: "o1", Side: "buy", Amount: models.NewAmount(50)})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, escrow.StatusInsufficientFunds, decode[api.ChatCreated](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/chats", "bob", api.NewChat{OfferID: "o1", Side: "buy", Amount: models.NewAmount(50)})
	assert.Equal(t, escrow.StatusSelfChat, decode[api.ChatCreated](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/chats", "alice", api.NewChat{OfferID: "o1", Side: "sideways", Amount: models.NewAmount(50)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/chats", "alice", map[string]any{"offer_id": "o1", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOffers(t *testing.T) {
	s := newServer(t)
	s.register(t, "bob", "carol")
	s.do(t, http.MethodPost, "/accounts/carol/deposits", "carol", api.AmountRequest{Amount: models.NewAmount(10)})

	rr := s.do(t, http.MethodPost, "/offers", "carol", api.NewOffer{ID: "sell-big", Type: "sell", MinAmount: models.NewAmount(1), MaxAmount: models.NewAmount(100)})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, catalog.StatusOfferInsufficientBalance, decode[api.OfferCreated](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/offers", "carol", api.NewOffer{ID: "sell", Type: "sell", MinAmount: models.NewAmount(1), MaxAmount: models.NewAmount(10)})
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = s.do(t, http.MethodPost, "/offers", "bob", api.NewOffer{ID: "buy", Type: "buy", MinAmount: models.NewAmount(1), MaxAmount: models.NewAmount(10)})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodPost, "/offers", "bob", api.NewOffer{ID: "bad", Type: "barter", MaxAmount: models.NewAmount(10)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/offers?type=sell", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	views := decode[[]catalog.OfferView](t, rr)
	require.Len(t, views, 1)
	assert.Equal(t, "sell", views[0].Offer.ID)

	rr = s.do(t, http.MethodGet, "/offers?active=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPut, "/offers/sell/status", "bob", api.OfferStatusRequest{Active: false})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = s.do(t, http.MethodPut, "/offers/sell/status", "carol", api.OfferStatusRequest{Active: false})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[models.Offer](t, rr).Active)

	rr = s.do(t, http.MethodGet, "/offers?active=true", "", nil)
	assert.Len(t, decode[[]catalog.OfferView](t, rr), 1)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/offers/missing", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/offers/buy", "", nil).Code)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/offers", "bob", nil).Code)
	rr = s.do(t, http.MethodDelete, "/offers", "admin", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decode[api.ClearResponse](t, rr).Deleted)
}

func TestAdminRegistries(t *testing.T) {
	s := newServer(t)

	rr := s.do(t, http.MethodGet, "/admin/fee-rate", "", nil)
	assert.Equal(t, "0.05", decode[api.FeeRate](t, rr).FeeRate)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/admin/fee-rate", "alice", api.FeeRate{FeeRate: "0.1"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/admin/fee-rate", "admin", api.FeeRate{FeeRate: "1.5"}).Code)
	rr = s.do(t, http.MethodPut, "/admin/fee-rate", "admin", api.FeeRate{FeeRate: "0.1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0.1", decode[api.FeeRate](t, rr).FeeRate)

	rr = s.do(t, http.MethodPut, "/tokens/usdc.near", "admin", models.TokenMetadata{Name: "USD Coin", Symbol: "USDC", Decimals: 6})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = s.do(t, http.MethodGet, "/tokens/usdc.near", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "USDC", decode[models.TokenMetadata](t, rr).Symbol)
	assert.Len(t, decode[[]models.TokenMetadata](t, s.do(t, http.MethodGet, "/tokens", "", nil)), 1)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/tokens/usdc.near", "admin", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/tokens/usdc.near", "", nil).Code)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/tokens/x.near", "admin", models.TokenMetadata{}).Code)

	rr = s.do(t, http.MethodPut, "/payment-methods/bank", "guard", models.PaymentMethod{Icon: "bank.svg"})
	require.Equal(t, http.StatusOK, rr.Code)
	methods := decode[[]models.PaymentMethod](t, s.do(t, http.MethodGet, "/payment-methods", "", nil))
	assert.Equal(t, []models.PaymentMethod{{Name: "bank", Icon: "bank.svg"}}, methods)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/payment-methods/bank", "admin", nil).Code)
}

func TestTokenChatQuoteBelowFee(t *testing.T) {
	s := newServer(t)
	s.register(t, "bob")
	rr := s.do(t, http.MethodPost, "/internal/token-deposits", "admin",
		api.TokenDeposit{Sender: "alice", TokenID: "usdc.near", Amount: models.NewAmount(1000)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	s.do(t, http.MethodPost, "/accounts/alice/deposits", "alice", api.AmountRequest{Amount: models.NewAmount(500)})
	rr = s.do(t, http.MethodPost, "/offers", "bob", api.NewOffer{
		ID: "o1", Type: "buy", TokenID: "usdc.near", MinAmount: models.NewAmount(1), MaxAmount: models.NewAmount(1000),
		Payment: "bank", Currency: "USD",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/chats", "alice", map[string]any{
		"id": "c1", "offer_id": "o1", "side": "buy", "amount": "1000", "trade_cost": "0",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, escrow.StatusTradeCostTooLow, decode[api.ChatCreated](t, rr).Status)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/chats/c1", "alice", nil).Code)

	rr = s.do(t, http.MethodPost, "/chats", "alice", map[string]any{
		"id": "c1", "offer_id": "o1", "side": "buy", "amount": "1000", "trade_cost": "50",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, models.NewAmount(50), decode[api.ChatCreated](t, rr).Chat.TradeCost)
}

func TestTokenFlowOverHTTP(t *testing.T) {
	s := newServer(t)
	s.register(t, "bob")

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/internal/token-deposits", "alice",
		api.TokenDeposit{Sender: "alice", TokenID: "usdc.near", Amount: models.NewAmount(1000)}).Code)

	rr := s.do(t, http.MethodPost, "/internal/token-deposits", "admin",
		api.TokenDeposit{Sender: "alice", TokenID: "usdc.near", Amount: models.NewAmount(1000)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.NewAmount(1000), decode[ledger.Account](t, rr).Tokens["usdc.near"])

	rr = s.do(t, http.MethodPost, "/accounts/alice/token-withdrawals", "alice", api.TokenWithdrawalRequest{TokenID: "usdc.near", Amount: models.NewAmount(400)})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	wd := decode[models.Withdrawal](t, rr)
	assert.Equal(t, models.WithdrawalPending, wd.Status)

	rr = s.do(t, http.MethodGet, "/accounts/alice/token-withdrawals/"+wd.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req, ok := s.bridge.Take(wd.TransferID)
	require.True(t, ok)
	result := api.TransferResult{Kind: string(req.Kind), Reference: req.Reference, Success: true}
	rr = s.do(t, http.MethodPost, "/internal/transfers/"+req.ID+"/result", "admin", result)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	// Redelivery is accepted and ignored.
	rr = s.do(t, http.MethodPost, "/internal/transfers/"+req.ID+"/result", "admin", result)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodGet, "/accounts/alice/token-withdrawals/"+wd.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.WithdrawalCompleted, decode[models.Withdrawal](t, rr).Status)

	acc, err := s.store.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, models.NewAmount(600), acc.Tokens["usdc.near"])

	rr = s.do(t, http.MethodPost, "/internal/transfers/x/result", "admin", api.TransferResult{Kind: "mystery"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/admin/reconcile", "admin", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, escrow.ReconcileReport{}, decode[escrow.ReconcileReport](t, rr))
}
