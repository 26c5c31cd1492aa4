package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/events"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/google/uuid"
)

// ChatRequest is the input of OpenChat. ID is optional; a fresh one is
// generated when empty. TradeCost is honored for token chats only, where the
// native fee is priced by the caller; it may not undercut the fee rate.
type ChatRequest struct {
	ID           string
	OfferID      string
	Side         models.OfferType
	Amount       models.Amount
	PaymentMsg   string
	TradeCost    *models.Amount
	TradeCostUSD float64
}

// Role names the side of a chat a participant rates from.
type Role string

const (
	RolePayer    Role = "payer"
	RoleReceiver Role = "receiver"
)

// ParseRole validates a rating role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePayer, RoleReceiver:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// OpenChat matches the caller against an offer and escrows the funds. The
// chat record and the hold are committed together.
func (e *Engine) OpenChat(ctx context.Context, caller string, in ChatRequest) (string, *models.Chat, error) {
	if in.Amount.IsZero() {
		return "", nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	status, chat, err := e.openChat(ctx, caller, in)
	asset := string(models.AssetNative)
	if chat != nil {
		asset = string(chat.Asset)
	}
	if err == nil {
		e.metrics.ChatOpened(asset, string(in.Side), status)
	}
	return status, chat, err
}

func (e *Engine) openChat(ctx context.Context, caller string, in ChatRequest) (string, *models.Chat, error) {
	offer, err := e.offers.Lookup(ctx, in.OfferID)
	if err != nil {
		if errors.Is(err, catalog.ErrOfferNotFound) {
			return StatusOfferNotFound, nil, nil
		}
		return "", nil, err
	}
	if caller == offer.Offerer {
		return StatusSelfChat, nil, nil
	}
	if offer.Type != in.Side {
		if in.Side == models.OfferSell {
			return StatusOfferNotForSell, nil, nil
		}
		return StatusOfferNotForBuy, nil, nil
	}
	if !offer.Active {
		return StatusOfferInactive, nil, nil
	}
	if in.Amount.Lt(offer.MinAmount) || (!offer.MaxAmount.IsZero() && offer.MaxAmount.Lt(in.Amount)) {
		return StatusAmountOutOfRange, nil, nil
	}

	u := e.begin(ctx)
	if in.ID != "" {
		if _, err := u.chat(in.ID); err == nil {
			return StatusChatExists, nil, nil
		} else if !errors.Is(err, ErrChatNotFound) {
			return "", nil, err
		}
	} else {
		in.ID = uuid.New().String()
	}

	initiator, err := u.account(caller)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return StatusNotRegistered, nil, nil
		}
		return "", nil, err
	}

	now := e.now()
	chat := &models.Chat{
		ID:         in.ID,
		OfferID:    offer.ID,
		OfferType:  offer.Type,
		Asset:      offer.Asset(),
		TokenID:    offer.TokenID,
		Owner:      caller,
		Offerer:    offer.Offerer,
		Amount:     in.Amount,
		TradeCost:  in.Amount.MulRate(e.offers.FeeRate()),
		PaymentMsg: in.PaymentMsg,
		Active:     true,
		StartedAt:  now,
		CreatedOn:  now,
		UpdatedOn:  &now,
	}
	if chat.Asset == models.AssetToken && in.TradeCost != nil {
		if in.TradeCost.Lt(chat.TradeCost) {
			return StatusTradeCostTooLow, nil, nil
		}
		chat.TradeCost = *in.TradeCost
		chat.TradeCostUSD = in.TradeCostUSD
	}
	// The escrower confirms the off-ledger payment it receives; the
	// beneficiary pays it.
	chat.Payer = chat.Beneficiary()
	chat.Receiver = chat.Escrower()

	escrower := initiator
	shortStatus := StatusInsufficientFunds
	if offer.Type == models.OfferSell {
		shortStatus = StatusOffererUnderfunded
		escrower, err = u.account(offer.Offerer)
		if errors.Is(err, ErrAccountNotFound) {
			return StatusOffererUnderfunded, nil, nil
		}
		if err != nil {
			return "", nil, err
		}
	}

	leg := legFor(chat)
	ok, err := leg.covers(escrower, chat)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return shortStatus, nil, nil
	}
	if err := leg.hold(escrower, chat); err != nil {
		return "", nil, fmt.Errorf("failed to hold funds for chat %s: %w", chat.ID, err)
	}

	u.write(escrower)
	u.ws.Chats = append(u.ws.Chats, chat)
	u.emit(e.chatEvent(events.TypeChatOpened, chat, map[string]string{
		"asset":      assetLabel(chat),
		"amount":     chat.Amount.String(),
		"trade_cost": chat.TradeCost.String(),
	}))
	if err := e.commit(u); err != nil {
		return "", nil, err
	}
	e.logger.Info("chat opened", "chat", chat.ID, "offer", offer.ID, "asset", assetLabel(chat),
		"escrower", chat.Escrower(), "amount", chat.Amount.String(), "trade_cost", chat.TradeCost.String())
	return StatusChatCreated, chat, nil
}

// MarkPaid records that the payer sent the off-ledger payment.
func (e *Engine) MarkPaid(ctx context.Context, caller, chatID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	chat, err := u.chat(chatID)
	if err != nil {
		return "", err
	}
	if !chat.Active {
		return StatusChatInactive, nil
	}
	if caller != chat.Payer {
		return StatusFailed, nil
	}
	if chat.Paid {
		return StatusSuccess, nil
	}
	chat.Paid = true
	e.touch(chat)
	u.ws.Chats = append(u.ws.Chats, chat)
	u.emit(e.chatEvent(events.TypeChatPaid, chat, nil))
	if err := e.commit(u); err != nil {
		return "", err
	}
	e.metrics.Transition(string(chat.Asset), "paid")
	return StatusSuccess, nil
}

// MarkReceived records that the receiver got the off-ledger payment and
// releases the escrow in the same call.
func (e *Engine) MarkReceived(ctx context.Context, caller, chatID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	chat, err := u.chat(chatID)
	if err != nil {
		return "", err
	}
	if chat.Released {
		return "", fmt.Errorf("%w: chat %s", ErrAlreadyReleased, chat.ID)
	}
	if !chat.Active {
		return StatusChatInactive, nil
	}
	if caller != chat.Receiver {
		return StatusFailed, nil
	}
	chat.Received = true
	e.touch(chat)
	u.emit(e.chatEvent(events.TypeChatReceived, chat, nil))
	if err := e.release(ctx, u, chat); err != nil {
		return "", err
	}
	e.metrics.Transition(string(chat.Asset), "received")
	return StatusSuccess, nil
}

// Cancel returns the escrow to the escrower. Only an untouched chat can be
// canceled.
func (e *Engine) Cancel(ctx context.Context, caller, chatID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	chat, err := u.chat(chatID)
	if err != nil {
		return "", err
	}
	if !chat.Involves(caller) && !e.IsAdmin(caller) {
		return StatusNotAllowed, nil
	}
	if chat.ReleasePending() {
		return "", fmt.Errorf("%w: chat %s", ErrReleasePending, chat.ID)
	}
	if !chat.Active || chat.Paid || chat.Received || chat.Released {
		return "", fmt.Errorf("%w: chat %s", ErrChatNotCancellable, chat.ID)
	}

	escrower, err := u.account(chat.Escrower())
	if err != nil {
		return "", err
	}
	if err := legFor(chat).refund(escrower, chat, e.cfg.CancelRefundsFee); err != nil {
		return "", fmt.Errorf("failed to refund chat %s: %w", chat.ID, err)
	}
	u.write(escrower)

	now := e.now()
	chat.Canceled = true
	chat.Active = false
	chat.EndedAt = &now
	e.touch(chat)
	u.ws.Chats = append(u.ws.Chats, chat)
	u.emit(e.chatEvent(events.TypeChatCanceled, chat, nil))
	if err := e.commit(u); err != nil {
		return "", err
	}
	e.metrics.Transition(string(chat.Asset), "canceled")
	e.logger.Info("chat canceled", "chat", chat.ID, "by", caller, "fee_refunded", e.cfg.CancelRefundsFee)
	return StatusChatCanceled, nil
}

// Rate lets each side rate its counterparty once. The receiver rates the
// payer and the payer rates the receiver.
func (e *Engine) Rate(ctx context.Context, caller, chatID string, role Role, like bool) (string, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	chat, err := u.chat(chatID)
	if err != nil {
		return "", err
	}
	if chat.ReleasePending() {
		return "", fmt.Errorf("%w: chat %s", ErrReleasePending, chat.ID)
	}

	var rated *bool
	var target string
	switch role {
	case RoleReceiver:
		if caller != chat.Receiver {
			return StatusNotAllowed, nil
		}
		rated, target = &chat.ReceiverHasRated, chat.Payer
	case RolePayer:
		if caller != chat.Payer {
			return StatusNotAllowed, nil
		}
		rated, target = &chat.PayerHasRated, chat.Receiver
	}
	if *rated {
		return StatusAlreadyRated, nil
	}

	acc, err := u.account(target)
	if err != nil {
		return "", err
	}
	if like {
		acc.AddLike()
	} else {
		acc.AddDislike()
	}
	*rated = true
	e.touch(chat)
	u.write(acc)
	u.ws.Chats = append(u.ws.Chats, chat)
	u.emit(e.chatEvent(events.TypeChatRated, chat, map[string]string{"role": string(role), "like": fmt.Sprint(like)}))
	if err := e.commit(u); err != nil {
		return "", err
	}
	return StatusRated, nil
}

func (e *Engine) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	return e.begin(ctx).chat(id)
}

// ListAccountChats returns the chats the account opened or was matched into.
func (e *Engine) ListAccountChats(ctx context.Context, accountID string) ([]models.Chat, error) {
	chats, err := e.store.ListChatsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// ClearChats drops every chat record. Holds are not touched.
func (e *Engine) ClearChats(ctx context.Context, caller string) (int, error) {
	if err := e.requireAdmin(caller); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.store.ClearChats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear chats: %w", err)
	}
	e.logger.Warn("chats cleared", "by", caller, "count", n)
	return n, nil
}

func (e *Engine) touch(c *models.Chat) {
	now := e.now()
	c.UpdatedOn = &now
}
