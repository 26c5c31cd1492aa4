package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/api"
	"github.com/chris/p2p-escrow-ledger/pkg/bridge"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/respond"
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/mapping"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Engine is the operator side of the escrow engine.
type Engine interface {
	IsAdmin(caller string) bool
	DepositTokens(ctx context.Context, sender, tokenID string, amount models.Amount) (*ledger.Account, error)
	HandleTransferResult(ctx context.Context, res bridge.TransferResult) error
	ResendPending(ctx context.Context, before time.Time) (escrow.ReconcileReport, error)
}

// Registry is the catalog's fee rate and registries.
type Registry interface {
	FeeRate() decimal.Decimal
	SetFeeRate(rate decimal.Decimal) error
	PutToken(ctx context.Context, meta models.TokenMetadata) error
	RemoveToken(ctx context.Context, address string) error
	GetToken(ctx context.Context, address string) (*models.TokenMetadata, error)
	ListTokens(ctx context.Context) ([]models.TokenMetadata, error)
	PutPaymentMethod(ctx context.Context, pm models.PaymentMethod) error
	RemovePaymentMethod(ctx context.Context, name string) error
	ListPaymentMethods(ctx context.Context) ([]models.PaymentMethod, error)
}

// Revenue reads the fee pool.
type Revenue interface {
	ListRevenue(ctx context.Context) ([]models.Revenue, error)
	GetRevenueTotals(ctx context.Context) (*models.RevenueTotals, error)
}

// AdminHandler serves operator endpoints and the internal custody callbacks.
// Everything that changes state requires the owner or a guardian.
type AdminHandler struct {
	Engine             Engine
	Registry           Registry
	Revenue            Revenue
	ReconcileThreshold time.Duration
	Now                func() time.Time
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(e Engine, reg Registry, rev Revenue, threshold time.Duration) *AdminHandler {
	return &AdminHandler{Engine: e, Registry: reg, Revenue: rev, ReconcileThreshold: threshold, Now: time.Now}
}

func (h *AdminHandler) GetRevenue(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	totals, err := h.Revenue.GetRevenueTotals(r.Context())
	if err != nil {
		respond.Error(w, r, fmt.Errorf("failed to get revenue totals: %w", err))
		return
	}
	records, err := h.Revenue.ListRevenue(r.Context())
	if err != nil {
		respond.Error(w, r, fmt.Errorf("failed to list revenue: %w", err))
		return
	}
	if records == nil {
		records = []models.Revenue{}
	}
	respond.JSON(w, http.StatusOK, api.RevenueResponse{Totals: *totals, Records: records})
}

func (h *AdminHandler) GetFeeRate(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, mapping.ToApiFeeRate(h.Registry.FeeRate()))
}

func (h *AdminHandler) SetFeeRate(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	var body api.FeeRate
	if !respond.Decode(w, r, &body) {
		return
	}
	rate, err := mapping.ToDomainFeeRate(&body)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.Registry.SetFeeRate(rate); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiFeeRate(h.Registry.FeeRate()))
}

// Reconcile re-sends bridge requests parked longer than the threshold.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	report, err := h.Engine.ResendPending(r.Context(), h.Now().Add(-h.ReconcileThreshold))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}

func (h *AdminHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.Registry.ListTokens(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []models.TokenMetadata{}
	}
	respond.JSON(w, http.StatusOK, tokens)
}

func (h *AdminHandler) GetToken(w http.ResponseWriter, r *http.Request, tokenId string) {
	token, err := h.Registry.GetToken(r.Context(), tokenId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, token)
}

func (h *AdminHandler) PutToken(w http.ResponseWriter, r *http.Request, tokenId string) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	var body models.TokenMetadata
	if !respond.Decode(w, r, &body) {
		return
	}
	body.Address = tokenId
	if err := h.Registry.PutToken(r.Context(), body); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, body)
}

func (h *AdminHandler) DeleteToken(w http.ResponseWriter, r *http.Request, tokenId string) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	if err := h.Registry.RemoveToken(r.Context(), tokenId); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.Registry.ListPaymentMethods(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if methods == nil {
		methods = []models.PaymentMethod{}
	}
	respond.JSON(w, http.StatusOK, methods)
}

func (h *AdminHandler) PutPaymentMethod(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	var body models.PaymentMethod
	if !respond.Decode(w, r, &body) {
		return
	}
	body.Name = name
	if err := h.Registry.PutPaymentMethod(r.Context(), body); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, body)
}

func (h *AdminHandler) DeletePaymentMethod(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	if err := h.Registry.RemovePaymentMethod(r.Context(), name); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TokenDeposit credits tokens the custody service received for sender.
func (h *AdminHandler) TokenDeposit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	var body api.TokenDeposit
	if !respond.Decode(w, r, &body) {
		return
	}
	acc, err := h.Engine.DepositTokens(r.Context(), body.Sender, body.TokenID, body.Amount)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, acc)
}

// TransferResult feeds a custody outcome back into the engine. Redelivered
// results are accepted and ignored.
func (h *AdminHandler) TransferResult(w http.ResponseWriter, r *http.Request, requestId string) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	var body api.TransferResult
	if !respond.Decode(w, r, &body) {
		return
	}
	if err := h.Engine.HandleTransferResult(r.Context(), mapping.ToDomainTransferResult(requestId, &body)); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.Status(w, escrow.StatusSuccess)
}

func (h *AdminHandler) admin(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return "", false
	}
	if !h.Engine.IsAdmin(caller) {
		respond.Error(w, r, fmt.Errorf("%w: %s", escrow.ErrUnauthorized, caller))
		return "", false
	}
	return caller, true
}
