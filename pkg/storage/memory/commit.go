package memory

import (
	"context"
	"fmt"

	"github.com/chris/p2p-escrow-ledger/pkg/storage"
)

// Commit checks every version first and only then applies the set, so a
// conflict leaves the store untouched.
func (s *Store) Commit(ctx context.Context, ws *storage.WriteSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range ws.Accounts {
		var current int64 = -1
		if existing, ok := s.accounts[a.ID]; ok {
			current = existing.Version
		}
		if err := checkVersion("account", a.ID, current, a.Version); err != nil {
			return err
		}
	}
	for _, c := range ws.Chats {
		var current int64 = -1
		if existing, ok := s.chats[c.ID]; ok {
			current = existing.Version
		}
		if err := checkVersion("chat", c.ID, current, c.Version); err != nil {
			return err
		}
	}
	for _, o := range ws.Offers {
		var current int64 = -1
		if existing, ok := s.offers[o.ID]; ok {
			current = existing.Version
		}
		if err := checkVersion("offer", o.ID, current, o.Version); err != nil {
			return err
		}
	}
	for _, w := range ws.Withdrawals {
		var current int64 = -1
		if existing, ok := s.withdrawals[w.ID]; ok {
			current = existing.Version
		}
		if err := checkVersion("withdrawal", w.ID, current, w.Version); err != nil {
			return err
		}
	}
	if ws.Totals != nil && ws.Totals.Version != s.totals.Version {
		return fmt.Errorf("revenue totals at version %d, expected %d: %w",
			s.totals.Version, ws.Totals.Version, storage.ErrConcurrentModification)
	}

	ws.BumpVersions()

	for _, a := range ws.Accounts {
		s.accounts[a.ID] = a.Clone()
	}
	for _, c := range ws.Chats {
		s.chats[c.ID] = *c
	}
	for _, o := range ws.Offers {
		s.offers[o.ID] = *o
	}
	for _, w := range ws.Withdrawals {
		s.withdrawals[w.ID] = *w
	}
	if ws.Totals != nil {
		s.totals = *ws.Totals
	}
	s.revenues = append(s.revenues, ws.Revenues...)
	s.transfers = append(s.transfers, ws.Transfers...)
	s.trades = append(s.trades, ws.Trades...)
	for _, t := range ws.Tokens {
		s.tokens[t.Address] = t
	}
	for _, p := range ws.PaymentMethods {
		s.payments[p.Name] = p
	}
	for _, addr := range ws.DeleteTokens {
		delete(s.tokens, addr)
	}
	for _, name := range ws.DeletePaymentMethods {
		delete(s.payments, name)
	}
	return nil
}

// checkVersion compares the stored version (-1 when absent) with the version
// the writer read (0 when creating).
func checkVersion(kind, id string, current, expected int64) error {
	switch {
	case expected == 0 && current >= 0:
		return fmt.Errorf("%s %s already exists: %w", kind, id, storage.ErrConcurrentModification)
	case expected > 0 && current != expected:
		return fmt.Errorf("%s %s at version %d, expected %d: %w", kind, id, current, expected, storage.ErrConcurrentModification)
	}
	return nil
}
