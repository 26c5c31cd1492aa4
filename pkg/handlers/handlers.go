package handlers

import (
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/api"
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/accounts"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/admin"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/chats"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/offers"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
)

// ApiHandler implements api.ServerInterface by composing the per-resource
// handlers.
type ApiHandler struct {
	*accounts.AccountsHandler
	*offers.OffersHandler
	*chats.ChatsHandler
	*admin.AdminHandler
}

// Make sure we conform to the interface
var _ api.ServerInterface = (*ApiHandler)(nil)

// NewApiHandler wires every resource handler to the engine, catalog and store.
func NewApiHandler(engine *escrow.Engine, cat *catalog.Catalog, store storage.HistoryReader, reconcileThreshold time.Duration) *ApiHandler {
	return &ApiHandler{
		AccountsHandler: accounts.NewAccountsHandler(engine, cat, store),
		OffersHandler:   offers.NewOffersHandler(cat, engine.IsAdmin),
		ChatsHandler:    chats.NewChatsHandler(engine, cat),
		AdminHandler:    admin.NewAdminHandler(engine, cat, store, reconcileThreshold),
	}
}
