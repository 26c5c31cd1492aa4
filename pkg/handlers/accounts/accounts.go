package accounts

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chris/p2p-escrow-ledger/pkg/api"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/respond"
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// Ledger is the slice of the escrow engine account handlers drive.
type Ledger interface {
	RegisterAccount(ctx context.Context, id string) (string, error)
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
	Deposit(ctx context.Context, accountID string, amount models.Amount) (*ledger.Account, error)
	Withdraw(ctx context.Context, caller, accountID string, amount models.Amount) (*ledger.Account, error)
	RequestTokenWithdrawal(ctx context.Context, caller, accountID, tokenID string, amount models.Amount) (*models.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	ListAccountChats(ctx context.Context, accountID string) ([]models.Chat, error)
	IsAdmin(caller string) bool
}

// Profiles builds public account views.
type Profiles interface {
	PublicAccount(ctx context.Context, id string) (*models.PublicAccount, error)
}

// History reads per-account history records.
type History interface {
	ListTransfersByAccount(ctx context.Context, accountID string) ([]models.Transfer, error)
	ListTradesByAccount(ctx context.Context, accountID string) ([]models.Trade, error)
}

// AccountsHandler holds the dependencies for account-related handlers.
type AccountsHandler struct {
	Ledger   Ledger
	Profiles Profiles
	History  History
}

// NewAccountsHandler creates a new AccountsHandler.
func NewAccountsHandler(l Ledger, p Profiles, h History) *AccountsHandler {
	return &AccountsHandler{Ledger: l, Profiles: p, History: h}
}

// RegisterAccount registers the caller.
func (h *AccountsHandler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	status, err := h.Ledger.RegisterAccount(r.Context(), caller)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.Status(w, status)
}

// GetAccount returns balances and holds. Only the holder and admins may read them.
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request, accountId string) {
	if !h.authorize(w, r, accountId) {
		return
	}
	acc, err := h.Ledger.GetAccount(r.Context(), accountId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, acc)
}

func (h *AccountsHandler) GetPublicAccount(w http.ResponseWriter, r *http.Request, accountId string) {
	info, err := h.Profiles.PublicAccount(r.Context(), accountId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, info)
}

// Deposit credits native funds to the caller's own account.
func (h *AccountsHandler) Deposit(w http.ResponseWriter, r *http.Request, accountId string) {
	if !h.authorize(w, r, accountId) {
		return
	}
	var body api.AmountRequest
	if !respond.Decode(w, r, &body) {
		return
	}
	acc, err := h.Ledger.Deposit(r.Context(), accountId, body.Amount)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, acc)
}

func (h *AccountsHandler) Withdraw(w http.ResponseWriter, r *http.Request, accountId string) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.AmountRequest
	if !respond.Decode(w, r, &body) {
		return
	}
	acc, err := h.Ledger.Withdraw(r.Context(), caller, accountId, body.Amount)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, acc)
}

// RequestTokenWithdrawal holds the tokens and hands the payout to the bridge.
// The withdrawal settles asynchronously, so 202 is returned.
func (h *AccountsHandler) RequestTokenWithdrawal(w http.ResponseWriter, r *http.Request, accountId string) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.TokenWithdrawalRequest
	if !respond.Decode(w, r, &body) {
		return
	}
	wd, err := h.Ledger.RequestTokenWithdrawal(r.Context(), caller, accountId, body.TokenID, body.Amount)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, wd)
}

func (h *AccountsHandler) GetTokenWithdrawal(w http.ResponseWriter, r *http.Request, accountId string, withdrawalId string) {
	if !h.authorize(w, r, accountId) {
		return
	}
	wd, err := h.Ledger.GetWithdrawal(r.Context(), withdrawalId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if wd.AccountID != accountId {
		respond.Error(w, r, fmt.Errorf("%w: %s", escrow.ErrWithdrawalNotFound, withdrawalId))
		return
	}
	respond.JSON(w, http.StatusOK, wd)
}

func (h *AccountsHandler) ListAccountChats(w http.ResponseWriter, r *http.Request, accountId string) {
	if !h.authorize(w, r, accountId) {
		return
	}
	chats, err := h.Ledger.ListAccountChats(r.Context(), accountId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	respond.JSON(w, http.StatusOK, chats)
}

func (h *AccountsHandler) ListAccountTransfers(w http.ResponseWriter, r *http.Request, accountId string) {
	transfers, err := h.History.ListTransfersByAccount(r.Context(), accountId)
	if err != nil {
		respond.Error(w, r, fmt.Errorf("failed to list transfers: %w", err))
		return
	}
	if transfers == nil {
		transfers = []models.Transfer{}
	}
	respond.JSON(w, http.StatusOK, transfers)
}

func (h *AccountsHandler) ListAccountTrades(w http.ResponseWriter, r *http.Request, accountId string) {
	trades, err := h.History.ListTradesByAccount(r.Context(), accountId)
	if err != nil {
		respond.Error(w, r, fmt.Errorf("failed to list trades: %w", err))
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	respond.JSON(w, http.StatusOK, trades)
}

// authorize admits the account holder and admins.
func (h *AccountsHandler) authorize(w http.ResponseWriter, r *http.Request, accountId string) bool {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return false
	}
	if caller != accountId && !h.Ledger.IsAdmin(caller) {
		respond.Error(w, r, fmt.Errorf("%w: %s", ledger.ErrNotOwner, caller))
		return false
	}
	return true
}
