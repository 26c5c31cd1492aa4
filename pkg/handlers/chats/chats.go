package chats

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/chris/p2p-escrow-ledger/pkg/api"
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/respond"
	"github.com/chris/p2p-escrow-ledger/pkg/mapping"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// Engine is the chat side of the escrow engine.
type Engine interface {
	OpenChat(ctx context.Context, caller string, in escrow.ChatRequest) (string, *models.Chat, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	MarkPaid(ctx context.Context, caller, chatID string) (string, error)
	MarkReceived(ctx context.Context, caller, chatID string) (string, error)
	Release(ctx context.Context, caller, chatID string) error
	Cancel(ctx context.Context, caller, chatID string) (string, error)
	Rate(ctx context.Context, caller, chatID string, role escrow.Role, like bool) (string, error)
	ClearChats(ctx context.Context, caller string) (int, error)
	IsAdmin(caller string) bool
}

// Offers resolves the offer a chat was opened against.
type Offers interface {
	Lookup(ctx context.Context, offerID string) (*models.Offer, error)
	CompleteOffer(ctx context.Context, offer *models.Offer) (*catalog.OfferView, error)
}

// ChatsHandler holds the dependencies for chat-related handlers.
type ChatsHandler struct {
	Engine Engine
	Offers Offers
}

// NewChatsHandler creates a new ChatsHandler.
func NewChatsHandler(e Engine, o Offers) *ChatsHandler {
	return &ChatsHandler{Engine: e, Offers: o}
}

// OpenChat matches the caller against an offer. Refusals such as an
// underfunded offerer come back as soft statuses with 200.
func (h *ChatsHandler) OpenChat(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.NewChat
	if !respond.Decode(w, r, &body) {
		return
	}
	req, err := mapping.ToDomainChatRequest(&body)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	status, chat, err := h.Engine.OpenChat(r.Context(), caller, req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	code := http.StatusOK
	if status == escrow.StatusChatCreated {
		code = http.StatusCreated
	}
	respond.JSON(w, code, api.ChatCreated{Status: status, Chat: chat})
}

// GetChat returns the chat with its offer. Only participants and admins may read it.
func (h *ChatsHandler) GetChat(w http.ResponseWriter, r *http.Request, chatId string) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	chat, err := h.Engine.GetChat(r.Context(), chatId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if !chat.Involves(caller) && !h.Engine.IsAdmin(caller) {
		respond.Error(w, r, fmt.Errorf("%w: %s", escrow.ErrUnauthorized, caller))
		return
	}

	var view *catalog.OfferView
	offer, err := h.Offers.Lookup(r.Context(), chat.OfferID)
	switch {
	case err == nil:
		if view, err = h.Offers.CompleteOffer(r.Context(), offer); err != nil {
			respond.Error(w, r, err)
			return
		}
	case !errors.Is(err, catalog.ErrOfferNotFound):
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiChatView(chat, view))
}

func (h *ChatsHandler) MarkPaid(w http.ResponseWriter, r *http.Request, chatId string) {
	h.transition(w, r, chatId, h.Engine.MarkPaid)
}

func (h *ChatsHandler) MarkReceived(w http.ResponseWriter, r *http.Request, chatId string) {
	h.transition(w, r, chatId, h.Engine.MarkReceived)
}

func (h *ChatsHandler) CancelChat(w http.ResponseWriter, r *http.Request, chatId string) {
	h.transition(w, r, chatId, h.Engine.Cancel)
}

// ReleaseChat pays the chat out without waiting for the receiver. Admin only.
func (h *ChatsHandler) ReleaseChat(w http.ResponseWriter, r *http.Request, chatId string) {
	h.transition(w, r, chatId, func(ctx context.Context, caller, chatID string) (string, error) {
		if err := h.Engine.Release(ctx, caller, chatID); err != nil {
			return "", err
		}
		return escrow.StatusSuccess, nil
	})
}

func (h *ChatsHandler) RateChat(w http.ResponseWriter, r *http.Request, chatId string) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.RateRequest
	if !respond.Decode(w, r, &body) {
		return
	}
	role, err := escrow.ParseRole(body.Role)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	status, err := h.Engine.Rate(r.Context(), caller, chatId, role, body.Like)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.Status(w, status)
}

// ClearChats drops every chat record. Admin only.
func (h *ChatsHandler) ClearChats(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	n, err := h.Engine.ClearChats(r.Context(), caller)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, api.ClearResponse{Deleted: n})
}

func (h *ChatsHandler) transition(w http.ResponseWriter, r *http.Request, chatId string, step func(ctx context.Context, caller, chatID string) (string, error)) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	status, err := step(r.Context(), caller, chatId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.Status(w, status)
}
