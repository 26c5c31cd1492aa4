// Package events fans ledger and chat state changes out to subscribers.
// Emission is best effort and never fails the operation that produced it.
package events

import (
	"context"
	"time"
)

const (
	TypeAccountRegistered   = "account.registered"
	TypeFundsDeposited      = "account.deposited"
	TypeFundsWithdrawn      = "account.withdrawn"
	TypeTokensDeposited     = "account.tokens_deposited"
	TypeWithdrawalRequested = "withdrawal.requested"
	TypeWithdrawalCompleted = "withdrawal.completed"
	TypeWithdrawalFailed    = "withdrawal.failed"
	TypeChatOpened          = "chat.opened"
	TypeChatPaid            = "chat.paid"
	TypeChatReceived        = "chat.received"
	TypeChatReleasePending  = "chat.release_pending"
	TypeChatReleased        = "chat.released"
	TypeChatReleaseFailed   = "chat.release_failed"
	TypeChatCanceled        = "chat.canceled"
	TypeChatRated           = "chat.rated"
)

// Event is one state change. Key is the chat, account or withdrawal ID and is
// used as the partition key downstream.
type Event struct {
	Type     string            `json:"type"`
	Key      string            `json:"key"`
	Accounts []string          `json:"accounts,omitempty"`
	At       time.Time         `json:"at"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Payload  any               `json:"payload,omitempty"`
}

// Emitter publishes events.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, Event) {}

// Multi emits to every emitter in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, evt)
		}
	}
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	events []Event
}

func (r *Recorder) Emit(_ context.Context, evt Event) {
	r.events = append(r.events, evt)
}

// Types lists the recorded event types in emission order.
func (r *Recorder) Types() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *Recorder) Events() []Event { return append([]Event{}, r.events...) }
