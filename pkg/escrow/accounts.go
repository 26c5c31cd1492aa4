package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/bridge"
	"github.com/chris/p2p-escrow-ledger/pkg/events"
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
	"github.com/google/uuid"
)

// RegisterAccount creates the caller's ledger entry. Registering twice is not
// an error.
func (e *Engine) RegisterAccount(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty account id", ErrUnauthorized)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	acc, created, err := u.accountOrNew(id, e.now())
	if err != nil {
		return "", err
	}
	if !created {
		return StatusAccountExists, nil
	}
	u.write(acc)
	u.emit(e.accountEvent(events.TypeAccountRegistered, id, id, nil))
	if err := e.commit(u); err != nil {
		return "", err
	}
	e.logger.Info("account registered", "account", id)
	return StatusAccountRegistered, nil
}

func (e *Engine) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	acc, err := e.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// Deposit credits native funds that arrived for a registered account.
func (e *Engine) Deposit(ctx context.Context, accountID string, amount models.Amount) (*ledger.Account, error) {
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	acc, err := u.account(accountID)
	if err != nil {
		return nil, err
	}
	if err := acc.Deposit(amount, e.cfg.MinDeposit); err != nil {
		return nil, err
	}
	u.write(acc)
	tr := models.Transfer{
		ID:        uuid.New().String(),
		Kind:      models.TransferDeposit,
		Sender:    accountID,
		Receiver:  accountID,
		Asset:     models.AssetNative,
		Amount:    amount,
		Timestamp: e.now(),
	}
	u.ws.Transfers = append(u.ws.Transfers, tr)
	u.emit(e.accountEvent(events.TypeFundsDeposited, tr.ID, accountID, map[string]string{"amount": amount.String()}))
	if err := e.commit(u); err != nil {
		return nil, err
	}
	return acc, nil
}

// Withdraw debits available native funds. Only the holder may withdraw.
func (e *Engine) Withdraw(ctx context.Context, caller, accountID string, amount models.Amount) (*ledger.Account, error) {
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	acc, err := u.account(accountID)
	if err != nil {
		return nil, err
	}
	if err := acc.Withdraw(caller, amount); err != nil {
		return nil, err
	}
	u.write(acc)
	tr := models.Transfer{
		ID:        uuid.New().String(),
		Kind:      models.TransferWithdrawal,
		Sender:    accountID,
		Receiver:  accountID,
		Asset:     models.AssetNative,
		Amount:    amount,
		Timestamp: e.now(),
	}
	u.ws.Transfers = append(u.ws.Transfers, tr)
	u.emit(e.accountEvent(events.TypeFundsWithdrawn, tr.ID, accountID, map[string]string{"amount": amount.String()}))
	if err := e.commit(u); err != nil {
		return nil, err
	}
	return acc, nil
}

// DepositTokens credits tokens received on behalf of sender. Unknown senders
// are registered on the way.
func (e *Engine) DepositTokens(ctx context.Context, sender, tokenID string, amount models.Amount) (*ledger.Account, error) {
	if sender == "" || tokenID == "" {
		return nil, fmt.Errorf("%w: sender and token required", ErrInvalidAmount)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	acc, created, err := u.accountOrNew(sender, e.now())
	if err != nil {
		return nil, err
	}
	if err := acc.DepositTokens(tokenID, amount); err != nil {
		return nil, err
	}
	u.write(acc)
	tr := models.Transfer{
		ID:        uuid.New().String(),
		Kind:      models.TransferTokenDeposit,
		Sender:    sender,
		Receiver:  sender,
		Asset:     models.AssetToken,
		TokenID:   tokenID,
		Amount:    amount,
		Timestamp: e.now(),
	}
	u.ws.Transfers = append(u.ws.Transfers, tr)
	if created {
		u.emit(e.accountEvent(events.TypeAccountRegistered, sender, sender, nil))
	}
	u.emit(e.accountEvent(events.TypeTokensDeposited, tr.ID, sender, map[string]string{"token": tokenID, "amount": amount.String()}))
	if err := e.commit(u); err != nil {
		return nil, err
	}
	return acc, nil
}

// RequestTokenWithdrawal holds the tokens and asks the bridge to pay them out
// to the holder's external wallet. The hold is settled by
// HandleTransferResult.
func (e *Engine) RequestTokenWithdrawal(ctx context.Context, caller, accountID, tokenID string, amount models.Amount) (*models.Withdrawal, error) {
	if caller != accountID {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotOwner, caller)
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if e.bridge == nil {
		return nil, ErrBridgeUnavailable
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	acc, err := u.account(accountID)
	if err != nil {
		return nil, err
	}
	if err := acc.LockTokens(tokenID, amount); err != nil {
		return nil, err
	}
	u.write(acc)

	now := e.now()
	w := &models.Withdrawal{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		TokenID:    tokenID,
		Amount:     amount,
		Status:     models.WithdrawalPending,
		TransferID: uuid.New().String(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	u.ws.Withdrawals = append(u.ws.Withdrawals, w)
	u.emit(e.accountEvent(events.TypeWithdrawalRequested, w.ID, accountID, map[string]string{"token": tokenID, "amount": amount.String()}))
	if err := e.commit(u); err != nil {
		return nil, err
	}

	if err := e.bridge.Send(ctx, withdrawalRequest(w, 1, now)); err != nil {
		e.logger.Error("failed to enqueue token withdrawal, releasing hold", "withdrawal", w.ID, "error", err)
		if rbErr := e.failWithdrawal(ctx, w.ID, w.TransferID, "enqueue failed: "+err.Error()); rbErr != nil {
			e.logger.Error("CRITICAL: withdrawal rollback failed", "withdrawal", w.ID, "error", rbErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}
	return w, nil
}

func (e *Engine) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	w, err := e.store.GetWithdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWithdrawalNotFound, id)
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

func withdrawalRequest(w *models.Withdrawal, attempt int, at time.Time) bridge.TransferRequest {
	return bridge.TransferRequest{
		ID:          w.TransferID,
		Kind:        bridge.KindWithdrawal,
		Reference:   w.ID,
		From:        w.AccountID,
		To:          w.AccountID,
		TokenID:     w.TokenID,
		Amount:      w.Amount,
		Attempt:     attempt,
		RequestedAt: at,
	}
}

// settleWithdrawal applies a bridge result to a pending withdrawal. Results
// for other transfer IDs or finished withdrawals are ignored.
func (e *Engine) settleWithdrawal(ctx context.Context, res bridge.TransferResult) error {
	if !res.Success {
		return e.failWithdrawal(ctx, res.Reference, res.RequestID, res.Reason)
	}

	u := e.begin(ctx)
	w, err := u.store.GetWithdrawal(ctx, res.Reference)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrWithdrawalNotFound, res.Reference)
		}
		return fmt.Errorf("failed to get withdrawal: %w", err)
	}
	if w.Status != models.WithdrawalPending || w.TransferID != res.RequestID {
		e.logger.Info("ignoring stale withdrawal result", "withdrawal", w.ID, "request_id", res.RequestID, "status", w.Status)
		return nil
	}
	acc, err := u.account(w.AccountID)
	if err != nil {
		return err
	}
	if err := acc.TokenRelease(w.TokenID, w.Amount); err != nil {
		return err
	}
	u.write(acc)

	now := e.now()
	w.Status = models.WithdrawalCompleted
	w.UpdatedAt = now
	u.ws.Withdrawals = append(u.ws.Withdrawals, w)
	u.ws.Transfers = append(u.ws.Transfers, models.Transfer{
		ID:        uuid.New().String(),
		Kind:      models.TransferTokenWithdraw,
		Sender:    w.AccountID,
		Receiver:  w.AccountID,
		Asset:     models.AssetToken,
		TokenID:   w.TokenID,
		Amount:    w.Amount,
		Timestamp: now,
	})
	u.emit(e.accountEvent(events.TypeWithdrawalCompleted, w.ID, w.AccountID, map[string]string{"token": w.TokenID, "amount": w.Amount.String()}))
	if err := e.commit(u); err != nil {
		return err
	}
	e.metrics.BridgeResult(string(bridge.KindWithdrawal), "completed")
	return nil
}

// failWithdrawal returns the held tokens and marks the withdrawal failed.
func (e *Engine) failWithdrawal(ctx context.Context, id, requestID, reason string) error {
	u := e.begin(ctx)
	w, err := u.store.GetWithdrawal(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrWithdrawalNotFound, id)
		}
		return fmt.Errorf("failed to get withdrawal: %w", err)
	}
	if w.Status != models.WithdrawalPending || w.TransferID != requestID {
		e.logger.Info("ignoring stale withdrawal result", "withdrawal", w.ID, "request_id", requestID, "status", w.Status)
		return nil
	}
	acc, err := u.account(w.AccountID)
	if err != nil {
		return err
	}
	if err := acc.UnlockTokens(w.TokenID, w.Amount); err != nil {
		return err
	}
	u.write(acc)

	w.Status = models.WithdrawalFailed
	w.Reason = reason
	w.UpdatedAt = e.now()
	u.ws.Withdrawals = append(u.ws.Withdrawals, w)
	u.emit(e.accountEvent(events.TypeWithdrawalFailed, w.ID, w.AccountID, map[string]string{"reason": reason}))
	if err := e.commit(u); err != nil {
		return err
	}
	e.metrics.BridgeResult(string(bridge.KindWithdrawal), "failed")
	return nil
}
