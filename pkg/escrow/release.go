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
	"github.com/chris/p2p-escrow-ledger/pkg/revenue"
	"github.com/google/uuid"
)

// Release pays an active chat out to its beneficiary without waiting for the
// receiver. Admin only; participants go through MarkReceived.
func (e *Engine) Release(ctx context.Context, caller, chatID string) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	chat, err := u.chat(chatID)
	if err != nil {
		return err
	}
	if chat.Released {
		return fmt.Errorf("%w: chat %s", ErrAlreadyReleased, chat.ID)
	}
	if !chat.Active {
		return fmt.Errorf("%w: chat %s", ErrChatInactive, chat.ID)
	}
	return e.release(ctx, u, chat)
}

// release settles a native chat in the current unit of work, or starts the
// two-phase payout of a token chat.
func (e *Engine) release(ctx context.Context, u *unit, chat *models.Chat) error {
	if chat.Released {
		return fmt.Errorf("%w: chat %s", ErrAlreadyReleased, chat.ID)
	}
	if legFor(chat).async() {
		return e.requestTokenRelease(ctx, u, chat)
	}

	now := e.now()
	escrower, err := u.account(chat.Escrower())
	if err != nil {
		return err
	}
	beneficiary, _, err := u.accountOrNew(chat.Beneficiary(), now)
	if err != nil {
		return err
	}
	if err := e.bookFee(u, escrower, chat); err != nil {
		return err
	}
	payout, err := escrower.Release(chat.Amount, beneficiary.ID)
	if err != nil {
		return fmt.Errorf("failed to release chat %s: %w", chat.ID, err)
	}
	if err := beneficiary.Credit(payout.Amount); err != nil {
		return fmt.Errorf("failed to release chat %s: %w", chat.ID, err)
	}
	u.write(escrower, beneficiary)

	u.ws.Transfers = append(u.ws.Transfers, models.Transfer{
		ID:        uuid.New().String(),
		Kind:      models.TransferPayout,
		Sender:    escrower.ID,
		Receiver:  payout.To,
		Asset:     models.AssetNative,
		Amount:    payout.Amount,
		Timestamp: now,
	})
	e.finalize(u, chat, now)
	if err := e.commit(u); err != nil {
		return err
	}
	e.metrics.Transition(string(chat.Asset), "released")
	e.logger.Info("chat released", "chat", chat.ID, "to", payout.To, "amount", payout.Amount.String(), "fee", chat.TradeCost.String())
	return nil
}

// bookFee burns the fee hold of the escrower into the revenue pool.
func (e *Engine) bookFee(u *unit, escrower *ledger.Account, chat *models.Chat) error {
	if chat.TradeCost.IsZero() {
		return nil
	}
	if err := escrower.Burn(chat.TradeCost); err != nil {
		return fmt.Errorf("failed to collect fee of chat %s: %w", chat.ID, err)
	}
	totals, err := u.revenueTotals()
	if err != nil {
		return err
	}
	var usd *models.USD
	if chat.TradeCostUSD > 0 {
		v := models.NewUSD(chat.TradeCostUSD)
		usd = &v
	}
	e.sink.Record(&u.ws, totals, revenue.Entry{
		Asset:     models.NativeAsset,
		From:      revenue.SourceTrade,
		Account:   escrower.ID,
		ChatID:    chat.ID,
		Amount:    chat.TradeCost,
		AmountUSD: usd,
	})
	e.metrics.RevenueRecorded(models.NativeAsset)
	return nil
}

// finalize closes a released chat and appends its trade record.
func (e *Engine) finalize(u *unit, chat *models.Chat, now time.Time) {
	chat.Released = true
	chat.Active = false
	chat.PendingTransferID = ""
	chat.PendingSince = nil
	chat.EndedAt = &now
	chat.UpdatedOn = &now
	u.ws.Chats = append(u.ws.Chats, chat)

	u.ws.Trades = append(u.ws.Trades, models.Trade{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		OfferType: chat.OfferType,
		Asset:     chat.Asset,
		TokenID:   chat.TokenID,
		Seller:    chat.Escrower(),
		Buyer:     chat.Beneficiary(),
		Amount:    chat.Amount,
		StartedAt: chat.StartedAt,
		EndedAt:   now,
	})
	u.emit(e.chatEvent(events.TypeChatReleased, chat, map[string]string{
		"asset":  assetLabel(chat),
		"amount": chat.Amount.String(),
		"to":     chat.Beneficiary(),
	}))
}

// requestTokenRelease is phase one of a token payout: the chat is marked
// released and parked until the bridge reports back. If the request cannot be
// enqueued the marks are undone.
func (e *Engine) requestTokenRelease(ctx context.Context, u *unit, chat *models.Chat) error {
	if e.bridge == nil {
		return ErrBridgeUnavailable
	}
	now := e.now()
	chat.Released = true
	chat.PendingTransferID = uuid.New().String()
	chat.TransferAttempts++
	chat.PendingSince = &now
	chat.UpdatedOn = &now
	u.ws.Chats = append(u.ws.Chats, chat)
	u.emit(e.chatEvent(events.TypeChatReleasePending, chat, map[string]string{"request_id": chat.PendingTransferID}))
	if err := e.commit(u); err != nil {
		return err
	}

	req := releaseRequest(chat, now)
	if err := e.bridge.Send(ctx, req); err != nil {
		e.logger.Error("failed to enqueue token release, rolling back", "chat", chat.ID, "request_id", req.ID, "error", err)
		if rbErr := e.revertRelease(ctx, chat.ID, req.ID, "enqueue failed"); rbErr != nil {
			e.logger.Error("CRITICAL: token release rollback failed", "chat", chat.ID, "request_id", req.ID, "error", rbErr)
		}
		return fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}
	e.logger.Info("token release requested", "chat", chat.ID, "request_id", req.ID, "attempt", chat.TransferAttempts)
	return nil
}

func releaseRequest(chat *models.Chat, at time.Time) bridge.TransferRequest {
	return bridge.TransferRequest{
		ID:          chat.PendingTransferID,
		Kind:        bridge.KindChatRelease,
		Reference:   chat.ID,
		From:        chat.Escrower(),
		To:          chat.Beneficiary(),
		TokenID:     chat.TokenID,
		Amount:      chat.Amount,
		Attempt:     chat.TransferAttempts,
		RequestedAt: at,
	}
}

// HandleTransferResult is phase two of a bridge payout. Each request ID is
// applied at most once; results for superseded or settled requests are
// ignored.
func (e *Engine) HandleTransferResult(ctx context.Context, res bridge.TransferResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch res.Kind {
	case bridge.KindChatRelease:
		return e.settleChatRelease(ctx, res)
	case bridge.KindWithdrawal:
		return e.settleWithdrawal(ctx, res)
	}
	return fmt.Errorf("%w: %q", ErrUnknownTransfer, res.Kind)
}

func (e *Engine) settleChatRelease(ctx context.Context, res bridge.TransferResult) error {
	if !res.Success {
		return e.revertRelease(ctx, res.Reference, res.RequestID, res.Reason)
	}

	u := e.begin(ctx)
	chat, err := u.chat(res.Reference)
	if err != nil {
		return err
	}
	if !chat.ReleasePending() || chat.PendingTransferID != res.RequestID {
		e.logger.Info("ignoring stale transfer result", "chat", chat.ID, "request_id", res.RequestID, "pending", chat.PendingTransferID)
		return nil
	}

	now := e.now()
	escrower, err := u.account(chat.Escrower())
	if err != nil {
		return err
	}
	if err := e.bookFee(u, escrower, chat); err != nil {
		return err
	}
	if err := escrower.TokenRelease(chat.TokenID, chat.Amount); err != nil {
		return fmt.Errorf("failed to release tokens of chat %s: %w", chat.ID, err)
	}
	u.write(escrower)

	u.ws.Transfers = append(u.ws.Transfers, models.Transfer{
		ID:        uuid.New().String(),
		Kind:      models.TransferTokenPayout,
		Sender:    escrower.ID,
		Receiver:  chat.Beneficiary(),
		Asset:     models.AssetToken,
		TokenID:   chat.TokenID,
		Amount:    chat.Amount,
		Timestamp: now,
	})
	e.finalize(u, chat, now)
	if err := e.commit(u); err != nil {
		return err
	}
	e.metrics.BridgeResult(string(bridge.KindChatRelease), "completed")
	e.metrics.Transition(string(chat.Asset), "released")
	e.logger.Info("token release settled", "chat", chat.ID, "request_id", res.RequestID)
	return nil
}

// revertRelease undoes phase one for requestID. The holds stay in place so
// the receiver can confirm again.
func (e *Engine) revertRelease(ctx context.Context, chatID, requestID, reason string) error {
	u := e.begin(ctx)
	chat, err := u.chat(chatID)
	if err != nil {
		return err
	}
	if !chat.ReleasePending() || chat.PendingTransferID != requestID {
		e.logger.Info("ignoring stale transfer result", "chat", chat.ID, "request_id", requestID, "pending", chat.PendingTransferID)
		return nil
	}
	now := e.now()
	chat.Released = false
	chat.Received = false
	chat.PendingTransferID = ""
	chat.PendingSince = nil
	chat.UpdatedOn = &now
	u.ws.Chats = append(u.ws.Chats, chat)
	u.emit(e.chatEvent(events.TypeChatReleaseFailed, chat, map[string]string{"request_id": requestID, "reason": reason}))
	if err := e.commit(u); err != nil {
		return err
	}
	e.metrics.BridgeResult(string(bridge.KindChatRelease), "failed")
	e.logger.Warn("token release failed", "chat", chat.ID, "request_id", requestID, "reason", reason)
	return nil
}

// ReconcileReport counts what ResendPending re-sent.
type ReconcileReport struct {
	Releases    int `json:"releases"`
	Withdrawals int `json:"withdrawals"`
	Failed      int `json:"failed"`
}

// ResendPending re-sends every bridge request parked since before the cutoff.
// Requests keep their IDs so a result that is already on its way is not
// applied twice.
func (e *Engine) ResendPending(ctx context.Context, before time.Time) (ReconcileReport, error) {
	var report ReconcileReport
	if e.bridge == nil {
		return report, ErrBridgeUnavailable
	}

	chats, err := e.store.ListPendingReleases(ctx, before)
	if err != nil {
		return report, fmt.Errorf("failed to list pending releases: %w", err)
	}
	now := e.now()
	var errs []error
	for i := range chats {
		req := releaseRequest(&chats[i], now)
		if err := e.bridge.Send(ctx, req); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("chat %s: %w", chats[i].ID, err))
			continue
		}
		report.Releases++
	}

	withdrawals, err := e.store.ListPendingWithdrawals(ctx, before)
	if err != nil {
		return report, fmt.Errorf("failed to list pending withdrawals: %w", err)
	}
	for i := range withdrawals {
		if err := e.bridge.Send(ctx, withdrawalRequest(&withdrawals[i], 1, now)); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("withdrawal %s: %w", withdrawals[i].ID, err))
			continue
		}
		report.Withdrawals++
	}
	return report, errors.Join(errs...)
}
