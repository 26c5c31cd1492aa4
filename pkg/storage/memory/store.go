// Package memory is an in-process Storage used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
)

// Store keeps every record in maps guarded by one lock.
type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*ledger.Account
	chats       map[string]models.Chat
	offers      map[string]models.Offer
	withdrawals map[string]models.Withdrawal
	totals      models.RevenueTotals
	revenues    []models.Revenue
	transfers   []models.Transfer
	trades      []models.Trade
	tokens      map[string]models.TokenMetadata
	payments    map[string]models.PaymentMethod
	connections map[string]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts:    map[string]*ledger.Account{},
		chats:       map[string]models.Chat{},
		offers:      map[string]models.Offer{},
		withdrawals: map[string]models.Withdrawal{},
		tokens:      map[string]models.TokenMetadata{},
		payments:    map[string]models.PaymentMethod{},
		connections: map[string]struct{}{},
	}
}

var (
	_ storage.Storage          = (*Store)(nil)
	_ storage.WebSocketManager = (*Store)(nil)
)

func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return acc.Clone(), nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, *acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", id, storage.ErrNotFound)
	}
	return &chat, nil
}

func (s *Store) ListChats(ctx context.Context) ([]models.Chat, error) {
	return s.filterChats(func(models.Chat) bool { return true }), nil
}

func (s *Store) ListChatsByAccount(ctx context.Context, accountID string) ([]models.Chat, error) {
	return s.filterChats(func(c models.Chat) bool { return c.Involves(accountID) }), nil
}

func (s *Store) ListPendingReleases(ctx context.Context, before time.Time) ([]models.Chat, error) {
	return s.filterChats(func(c models.Chat) bool {
		return c.ReleasePending() && c.PendingSince != nil && c.PendingSince.Before(before)
	}), nil
}

func (s *Store) filterChats(keep func(models.Chat) bool) []models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Chat{}
	for _, c := range s.chats {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedOn.Before(out[j].CreatedOn)
	})
	return out
}

func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, storage.ErrNotFound)
	}
	return &offer, nil
}

func (s *Store) ListOffers(ctx context.Context) ([]models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedOn.Before(out[j].CreatedOn)
	})
	return out, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id, storage.ErrNotFound)
	}
	return &w, nil
}

func (s *Store) ListPendingWithdrawals(ctx context.Context, before time.Time) ([]models.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Withdrawal{}
	for _, w := range s.withdrawals {
		if w.Status == models.WithdrawalPending && w.UpdatedAt.Before(before) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListTransfersByAccount(ctx context.Context, accountID string) ([]models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Transfer{}
	for _, t := range s.transfers {
		if t.Sender == accountID || t.Receiver == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListTradesByAccount(ctx context.Context, accountID string) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Trade{}
	for _, t := range s.trades {
		if t.Seller == accountID || t.Buyer == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListRevenue(ctx context.Context) ([]models.Revenue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Revenue{}, s.revenues...), nil
}

func (s *Store) GetRevenueTotals(ctx context.Context) (*models.RevenueTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := s.totals
	return &totals, nil
}

func (s *Store) GetToken(ctx context.Context, address string) (*models.TokenMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[address]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", address, storage.ErrNotFound)
	}
	return &t, nil
}

func (s *Store) ListTokens(ctx context.Context) ([]models.TokenMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TokenMetadata, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) GetPaymentMethod(ctx context.Context, name string) (*models.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[name]
	if !ok {
		return nil, fmt.Errorf("payment method %s: %w", name, storage.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]models.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PaymentMethod, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ClearChats(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.chats)
	s.chats = map[string]models.Chat{}
	return n, nil
}

func (s *Store) ClearOffers(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.offers)
	s.offers = map[string]models.Offer{}
	return n, nil
}

func (s *Store) AddConnection(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connectionID] = struct{}{}
	return nil
}

func (s *Store) RemoveConnection(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, connectionID)
	return nil
}

func (s *Store) GetAllConnections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.connections))
	for id := range s.connections {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
