package storage

import (
	"context"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// AccountReader reads ledger entries.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
}

// ChatReader reads trade chats.
type ChatReader interface {
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	ListChats(ctx context.Context) ([]models.Chat, error)

	// ListChatsByAccount returns chats the account opened or was matched into.
	ListChatsByAccount(ctx context.Context, accountID string) ([]models.Chat, error)

	// ListPendingReleases returns chats whose token payout was requested
	// before the cutoff and has not been settled yet.
	ListPendingReleases(ctx context.Context, before time.Time) ([]models.Chat, error)
}

// OfferReader reads offers.
type OfferReader interface {
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	ListOffers(ctx context.Context) ([]models.Offer, error)
}

// WithdrawalReader reads token withdrawals.
type WithdrawalReader interface {
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	ListPendingWithdrawals(ctx context.Context, before time.Time) ([]models.Withdrawal, error)
}

// HistoryReader reads the append-only history and revenue records.
type HistoryReader interface {
	ListTransfersByAccount(ctx context.Context, accountID string) ([]models.Transfer, error)
	ListTradesByAccount(ctx context.Context, accountID string) ([]models.Trade, error)
	ListRevenue(ctx context.Context) ([]models.Revenue, error)

	// GetRevenueTotals returns zero totals at version 0 before the first fee.
	GetRevenueTotals(ctx context.Context) (*models.RevenueTotals, error)
}

// RegistryReader reads the token and payment method registries.
type RegistryReader interface {
	GetToken(ctx context.Context, address string) (*models.TokenMetadata, error)
	ListTokens(ctx context.Context) ([]models.TokenMetadata, error)
	GetPaymentMethod(ctx context.Context, name string) (*models.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context) ([]models.PaymentMethod, error)
}

// Committer applies a WriteSet atomically.
type Committer interface {
	Commit(ctx context.Context, ws *WriteSet) error
}

// Clearer drops whole collections. Admin only.
type Clearer interface {
	ClearChats(ctx context.Context) (int, error)
	ClearOffers(ctx context.Context) (int, error)
}

// EngineStore is the slice of storage the escrow engine drives.
type EngineStore interface {
	AccountReader
	ChatReader
	OfferReader
	WithdrawalReader
	HistoryReader
	Committer
}

// Storage defines the root interface for the entire data layer.
// Components should depend on the narrower interfaces above.
type Storage interface {
	EngineStore
	RegistryReader
	Clearer
}
