package ledger

import (
	"errors"
	"fmt"

	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

var (
	ErrBelowMinimumDeposit      = errors.New("deposit below minimum")
	ErrNotOwner                 = errors.New("caller does not own the account")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrInsufficientLocked       = errors.New("insufficient locked balance")
	ErrTokenNotFound            = errors.New("token not found")
	ErrInsufficientTokenBalance = errors.New("insufficient token balance")
	ErrInsufficientLockedTokens = errors.New("insufficient locked tokens")
)

// BalanceError carries the figures behind a rejected balance movement.
type BalanceError struct {
	AccountID string
	Asset     string
	Op        string
	Available models.Amount
	Requested models.Amount
	Err       error
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("%s %s on %s: available %s, requested %s: %v",
		e.Op, e.Asset, e.AccountID, e.Available, e.Requested, e.Err)
}

func (e *BalanceError) Unwrap() error { return e.Err }

// IsInsufficientFunds reports whether err stems from any balance shortfall.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientLocked) ||
		errors.Is(err, ErrInsufficientTokenBalance) ||
		errors.Is(err, ErrInsufficientLockedTokens)
}
