// Package ledger holds per-account balances and the primitive moves between
// the available and locked sides of each asset.
package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// Reputation counts ratings received from trade counterparties.
type Reputation struct {
	Likes     int32 `json:"likes" dynamodbav:"likes"`
	Dislikes  int32 `json:"dislikes" dynamodbav:"dislikes"`
	BlockedBy int32 `json:"blocked_by" dynamodbav:"blocked_by"`
}

// Account is the ledger entry of one participant.
type Account struct {
	ID           string                   `json:"id" dynamodbav:"id"`
	Balance      models.Amount            `json:"balance" dynamodbav:"balance"`
	Locked       models.Amount            `json:"locked" dynamodbav:"locked"`
	Tokens       map[string]models.Amount `json:"tokens" dynamodbav:"tokens"`
	LockedTokens map[string]models.Amount `json:"locked_tokens" dynamodbav:"locked_tokens"`
	Reputation   Reputation               `json:"reputation" dynamodbav:"reputation"`
	CreatedAt    time.Time                `json:"created_at" dynamodbav:"created_at"`
	Version      int64                    `json:"version" dynamodbav:"version"`
}

// Payout is value released out of an account for another party.
type Payout struct {
	To     string
	Amount models.Amount
}

// NewAccount returns an empty registered account.
func NewAccount(id string, now time.Time) *Account {
	return &Account{
		ID:           id,
		Tokens:       map[string]models.Amount{},
		LockedTokens: map[string]models.Amount{},
		CreatedAt:    now,
	}
}

// Clone returns a deep copy that can be mutated without touching a.
func (a *Account) Clone() *Account {
	c := *a
	c.Tokens = make(map[string]models.Amount, len(a.Tokens))
	for k, v := range a.Tokens {
		c.Tokens[k] = v
	}
	c.LockedTokens = make(map[string]models.Amount, len(a.LockedTokens))
	for k, v := range a.LockedTokens {
		c.LockedTokens[k] = v
	}
	return &c
}

func (a *Account) shortfall(op, asset string, available, requested models.Amount, err error) error {
	return &BalanceError{AccountID: a.ID, Asset: asset, Op: op, Available: available, Requested: requested, Err: err}
}

// Deposit credits native funds entering the ledger.
func (a *Account) Deposit(amount, minimum models.Amount) error {
	if amount.Lt(minimum) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinimumDeposit, amount, minimum)
	}
	return a.Credit(amount)
}

// Credit adds native funds paid out from another account's escrow. Available
// plus locked must stay within 128 bits so later unlocks cannot overflow.
func (a *Account) Credit(amount models.Amount) error {
	if _, err := a.Balance.Add(a.Locked).AddChecked(amount); err != nil {
		return fmt.Errorf("credit %s: %w", a.ID, err)
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

// Withdraw debits available native funds. Only the account itself may withdraw.
func (a *Account) Withdraw(caller string, amount models.Amount) error {
	if caller != a.ID {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	return a.debit("withdraw", amount)
}

func (a *Account) debit(op string, amount models.Amount) error {
	next, ok := a.Balance.Sub(amount)
	if !ok {
		return a.shortfall(op, models.NativeAsset, a.Balance, amount, ErrInsufficientBalance)
	}
	a.Balance = next
	return nil
}

// Lock moves native funds from available to locked.
func (a *Account) Lock(amount models.Amount) error {
	locked, err := a.Locked.AddChecked(amount)
	if err != nil {
		return fmt.Errorf("lock %s: %w", a.ID, err)
	}
	if err := a.debit("lock", amount); err != nil {
		return err
	}
	a.Locked = locked
	return nil
}

// Unlock moves native funds from locked back to available.
func (a *Account) Unlock(amount models.Amount) error {
	next, ok := a.Locked.Sub(amount)
	if !ok {
		return a.shortfall("unlock", models.NativeAsset, a.Locked, amount, ErrInsufficientLocked)
	}
	balance, err := a.Balance.AddChecked(amount)
	if err != nil {
		return fmt.Errorf("unlock %s: %w", a.ID, err)
	}
	a.Locked = next
	a.Balance = balance
	return nil
}

// Release takes amount out of the locked side for payment to another party.
// Unlike Withdraw no caller check applies; the escrow engine is the only caller.
func (a *Account) Release(amount models.Amount, to string) (Payout, error) {
	if a.Locked.Lt(amount) {
		return Payout{}, a.shortfall("release", models.NativeAsset, a.Locked, amount, ErrInsufficientLocked)
	}
	if err := a.Unlock(amount); err != nil {
		return Payout{}, err
	}
	if err := a.debit("release", amount); err != nil {
		return Payout{}, err
	}
	return Payout{To: to, Amount: amount}, nil
}

// Burn removes locked native funds from the ledger, e.g. a fee booked to revenue.
func (a *Account) Burn(amount models.Amount) error {
	_, err := a.Release(amount, "")
	return err
}

// DepositTokens credits tokens entering the ledger. It fails only when the
// available plus locked balance of token would exceed 128 bits.
func (a *Account) DepositTokens(token string, amount models.Amount) error {
	if _, err := a.Tokens[token].Add(a.LockedTokens[token]).AddChecked(amount); err != nil {
		return fmt.Errorf("deposit %s on %s: %w", token, a.ID, err)
	}
	if a.Tokens == nil {
		a.Tokens = map[string]models.Amount{}
	}
	a.Tokens[token] = a.Tokens[token].Add(amount)
	return nil
}

// WithdrawTokens debits available tokens. A missing token or a short balance
// is logged and ignored; it reports whether the debit happened.
func (a *Account) WithdrawTokens(token string, amount models.Amount) bool {
	current, ok := a.Tokens[token]
	if !ok {
		slog.Warn("token withdrawal skipped: token not held", "account", a.ID, "token", token, "amount", amount.String())
		return false
	}
	next, ok := current.Sub(amount)
	if !ok {
		slog.Warn("token withdrawal skipped: insufficient balance", "account", a.ID, "token", token,
			"available", current.String(), "amount", amount.String())
		return false
	}
	a.Tokens[token] = next
	return true
}

// TokenBalance returns the available balance of token. Tokens the account
// never touched are an error, not zero.
func (a *Account) TokenBalance(token string) (models.Amount, error) {
	v, ok := a.Tokens[token]
	if !ok {
		return models.Amount{}, fmt.Errorf("%w: %s on %s", ErrTokenNotFound, token, a.ID)
	}
	return v, nil
}

// LockedTokenBalance returns the locked balance of token, zero if never locked.
func (a *Account) LockedTokenBalance(token string) models.Amount {
	return a.LockedTokens[token]
}

// LockTokens moves tokens from available to locked.
func (a *Account) LockTokens(token string, amount models.Amount) error {
	current, err := a.TokenBalance(token)
	if err != nil {
		return err
	}
	next, ok := current.Sub(amount)
	if !ok {
		return a.shortfall("lock", token, current, amount, ErrInsufficientTokenBalance)
	}
	locked, err := a.LockedTokens[token].AddChecked(amount)
	if err != nil {
		return fmt.Errorf("lock %s on %s: %w", token, a.ID, err)
	}
	a.Tokens[token] = next
	if a.LockedTokens == nil {
		a.LockedTokens = map[string]models.Amount{}
	}
	a.LockedTokens[token] = locked
	return nil
}

// UnlockTokens moves tokens from locked back to available.
func (a *Account) UnlockTokens(token string, amount models.Amount) error {
	locked, ok := a.LockedTokens[token]
	if !ok {
		return fmt.Errorf("%w: %s locked on %s", ErrTokenNotFound, token, a.ID)
	}
	next, ok := locked.Sub(amount)
	if !ok {
		return a.shortfall("unlock", token, locked, amount, ErrInsufficientLockedTokens)
	}
	available, err := a.Tokens[token].AddChecked(amount)
	if err != nil {
		return fmt.Errorf("unlock %s on %s: %w", token, a.ID, err)
	}
	a.LockedTokens[token] = next
	if a.Tokens == nil {
		a.Tokens = map[string]models.Amount{}
	}
	a.Tokens[token] = available
	return nil
}

// TokenRelease takes locked tokens out of the ledger after they were paid out.
func (a *Account) TokenRelease(token string, amount models.Amount) error {
	locked, ok := a.LockedTokens[token]
	if !ok {
		return fmt.Errorf("%w: %s locked on %s", ErrTokenNotFound, token, a.ID)
	}
	if locked.Lt(amount) {
		return a.shortfall("release", token, locked, amount, ErrInsufficientLockedTokens)
	}
	if err := a.UnlockTokens(token, amount); err != nil {
		return err
	}
	a.WithdrawTokens(token, amount)
	return nil
}

func (a *Account) AddLike()    { a.Reputation.Likes++ }
func (a *Account) AddDislike() { a.Reputation.Dislikes++ }

func (a *Account) RemoveLike() {
	if a.Reputation.Likes > 0 {
		a.Reputation.Likes--
	}
}

func (a *Account) RemoveDislike() {
	if a.Reputation.Dislikes > 0 {
		a.Reputation.Dislikes--
	}
}
