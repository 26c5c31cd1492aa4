package websockets

import (
	"context"
	"log/slog"
	"strings"

	"github.com/chris/p2p-escrow-ledger/pkg/events"
)

// Emitter turns ledger events into websocket messages.
type Emitter struct {
	publisher Publisher
}

func NewEmitter(p Publisher) *Emitter {
	return &Emitter{publisher: p}
}

var _ events.Emitter = (*Emitter)(nil)

func (e *Emitter) Emit(ctx context.Context, evt events.Event) {
	if err := e.publisher.Publish(ctx, ToMessage(evt)); err != nil {
		slog.Error("failed to publish websocket update", "type", evt.Type, "key", evt.Key, "error", err)
	}
}

// ToMessage maps chat.* events to chat updates and the rest to account updates.
func ToMessage(evt events.Event) Message {
	if strings.HasPrefix(evt.Type, "chat.") {
		return Message{
			Type: MessageTypeChatUpdate,
			Payload: ChatUpdatePayload{
				ChatID:       evt.Key,
				Event:        evt.Type,
				Participants: evt.Accounts,
				Attrs:        evt.Attrs,
			},
		}
	}
	account := ""
	if len(evt.Accounts) > 0 {
		account = evt.Accounts[0]
	}
	return Message{
		Type: MessageTypeAccountUpdate,
		Payload: AccountUpdatePayload{
			AccountID: account,
			Event:     evt.Type,
			Reference: evt.Key,
			Attrs:     evt.Attrs,
		},
	}
}
