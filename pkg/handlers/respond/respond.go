// Package respond writes JSON responses and maps domain errors to HTTP
// status codes for every handler package.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chris/p2p-escrow-ledger/pkg/api"
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/mapping"
	"github.com/chris/p2p-escrow-ledger/pkg/middleware"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
)

// ErrNoCaller is returned when an operation needs an identified caller.
var ErrNoCaller = errors.New("caller identity required")

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Status writes a soft status outcome.
func Status(w http.ResponseWriter, status string) {
	JSON(w, http.StatusOK, api.StatusResponse{Status: status})
}

// Decode reads a JSON body into dst and rejects unknown fields.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		JSON(w, http.StatusBadRequest, api.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return false
	}
	return true
}

// Caller returns the identified caller or answers 401.
func Caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := middleware.Caller(r.Context())
	if caller == "" {
		Error(w, r, ErrNoCaller)
		return "", false
	}
	return caller, true
}

// Error maps err to a status code and writes it. Unexpected errors are logged
// and their text is not echoed back.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	JSON(w, code, api.ErrorResponse{Error: msg})
}

// StatusCode classifies err.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNoCaller):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, escrow.ErrAccountNotFound),
		errors.Is(err, escrow.ErrChatNotFound),
		errors.Is(err, escrow.ErrWithdrawalNotFound),
		errors.Is(err, catalog.ErrOfferNotFound),
		errors.Is(err, catalog.ErrAccountNotRegistered),
		errors.Is(err, ledger.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, ledger.ErrNotOwner),
		errors.Is(err, catalog.ErrNotOfferer):
		return http.StatusForbidden
	case ledger.IsInsufficientFunds(err),
		errors.Is(err, models.ErrAmountOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrChatInactive),
		errors.Is(err, escrow.ErrAlreadyReleased),
		errors.Is(err, escrow.ErrChatNotCancellable),
		errors.Is(err, escrow.ErrReleasePending),
		errors.Is(err, catalog.ErrOfferExists),
		errors.Is(err, storage.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidRole),
		errors.Is(err, escrow.ErrUnknownTransfer),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, ledger.ErrBelowMinimumDeposit),
		errors.Is(err, catalog.ErrInvalidOffer),
		errors.Is(err, catalog.ErrInvalidFeeRate),
		errors.Is(err, catalog.ErrInvalidRegistryEntry),
		errors.Is(err, mapping.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrBridgeUnavailable):
		return http.StatusServiceUnavailable
	}
	var paramErr *api.InvalidParamFormatError
	if errors.As(err, &paramErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
