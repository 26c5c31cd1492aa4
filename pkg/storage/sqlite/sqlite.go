// Package sqlite is a single-file Storage for local runs. Each record is kept
// as a JSON body next to the columns that are queried or version-checked.
//
// Schema is auto-migrated on New. Commit runs inside one SQL transaction and
// conditions every versioned row on the version it was read at.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// sortTime is fixed width so text columns order by time.
const sortTime = "2006-01-02T15:04:05.000000000Z"

// Store implements storage.Storage on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ storage.Storage          = (*Store)(nil)
	_ storage.WebSocketManager = (*Store)(nil)
)

// New opens the database at path. Use ":memory:" for a throwaway database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		offerer TEXT NOT NULL,
		release_pending INTEGER NOT NULL DEFAULT 0,
		created_on TEXT NOT NULL,
		version INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_owner ON chats(owner);
	CREATE INDEX IF NOT EXISTS idx_chats_offerer ON chats(offerer);
	CREATE INDEX IF NOT EXISTS idx_chats_pending ON chats(release_pending) WHERE release_pending = 1;

	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		created_on TEXT NOT NULL,
		version INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);

	-- History is append-only.
	CREATE TABLE IF NOT EXISTS transfers (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		data_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transfers_sender ON transfers(sender);
	CREATE INDEX IF NOT EXISTS idx_transfers_receiver ON transfers(receiver);

	CREATE TABLE IF NOT EXISTS trades (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		seller TEXT NOT NULL,
		buyer TEXT NOT NULL,
		data_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades(seller);
	CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades(buyer);

	CREATE TABLE IF NOT EXISTS revenues (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS revenue_totals (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tokens (
		address TEXT PRIMARY KEY,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payment_methods (
		name TEXT PRIMARY KEY,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS connections (
		connection_id TEXT PRIMARY KEY
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Commit applies the write set in one transaction.
func (s *Store) Commit(ctx context.Context, ws *storage.WriteSet) error {
	if ws.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.applyVersioned(ctx, tx, ws); err != nil {
		return err
	}
	if err := s.appendHistory(ctx, tx, ws); err != nil {
		return err
	}
	if err := s.applyRegistry(ctx, tx, ws); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	ws.BumpVersions()
	return nil
}

func (s *Store) applyVersioned(ctx context.Context, tx execer, ws *storage.WriteSet) error {
	for _, a := range ws.Accounts {
		next := a.Clone()
		next.Version++
		if err := upsert(ctx, tx, "account", a.ID, a.Version, next,
			`INSERT INTO accounts (id, version, data_json) VALUES (?, ?, ?)`,
			`UPDATE accounts SET version = ?, data_json = ? WHERE id = ? AND version = ?`,
			nil, nil); err != nil {
			return err
		}
	}
	for _, c := range ws.Chats {
		next := *c
		next.Version++
		pending := 0
		if next.ReleasePending() {
			pending = 1
		}
		if err := upsert(ctx, tx, "chat", c.ID, c.Version, next,
			`INSERT INTO chats (id, version, data_json, owner, offerer, release_pending, created_on) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			`UPDATE chats SET version = ?, data_json = ?, release_pending = ? WHERE id = ? AND version = ?`,
			[]any{c.Owner, c.Offerer, pending, c.CreatedOn.UTC().Format(sortTime)},
			[]any{pending}); err != nil {
			return err
		}
	}
	for _, o := range ws.Offers {
		next := *o
		next.Version++
		if err := upsert(ctx, tx, "offer", o.ID, o.Version, next,
			`INSERT INTO offers (id, version, data_json, created_on) VALUES (?, ?, ?, ?)`,
			`UPDATE offers SET version = ?, data_json = ? WHERE id = ? AND version = ?`,
			[]any{o.CreatedOn.UTC().Format(sortTime)}, nil); err != nil {
			return err
		}
	}
	for _, w := range ws.Withdrawals {
		next := *w
		next.Version++
		if err := upsert(ctx, tx, "withdrawal", w.ID, w.Version, next,
			`INSERT INTO withdrawals (id, version, data_json, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			`UPDATE withdrawals SET version = ?, data_json = ?, status = ? WHERE id = ? AND version = ?`,
			[]any{string(w.Status), w.CreatedAt.UTC().Format(sortTime)},
			[]any{string(w.Status)}); err != nil {
			return err
		}
	}
	if ws.Totals != nil {
		next := *ws.Totals
		next.Version++
		if err := upsert(ctx, tx, "revenue totals", 1, ws.Totals.Version, next,
			`INSERT INTO revenue_totals (id, version, data_json) VALUES (?, ?, ?)`,
			`UPDATE revenue_totals SET version = ?, data_json = ? WHERE id = ? AND version = ?`,
			nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// upsert inserts when expected is 0 and otherwise updates the row only if it
// is still at version expected. The insert takes (id, version, data, extra...)
// and the update takes (version, data, extraUpdate..., id, expected).
func upsert(ctx context.Context, tx execer, kind string, id any, expected int64, record any,
	insert, update string, extraInsert, extraUpdate []any) error {

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %v: %w", kind, id, err)
	}
	if expected == 0 {
		args := append([]any{id, expected + 1, string(data)}, extraInsert...)
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%s %v already exists: %w", kind, id, storage.ErrConcurrentModification)
			}
			return fmt.Errorf("failed to insert %s %v: %w", kind, id, err)
		}
		return nil
	}

	args := append([]any{expected + 1, string(data)}, extraUpdate...)
	args = append(args, id, expected)
	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %v: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s %v: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %v not at version %d: %w", kind, id, expected, storage.ErrConcurrentModification)
	}
	return nil
}

func (s *Store) appendHistory(ctx context.Context, tx execer, ws *storage.WriteSet) error {
	for _, t := range ws.Transfers {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal transfer %s: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO transfers (id, sender, receiver, data_json) VALUES (?, ?, ?, ?)`,
			t.ID, t.Sender, t.Receiver, string(data)); err != nil {
			return fmt.Errorf("failed to append transfer %s: %w", t.ID, err)
		}
	}
	for _, t := range ws.Trades {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal trade %s: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO trades (id, seller, buyer, data_json) VALUES (?, ?, ?, ?)`,
			t.ID, t.Seller, t.Buyer, string(data)); err != nil {
			return fmt.Errorf("failed to append trade %s: %w", t.ID, err)
		}
	}
	for _, r := range ws.Revenues {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal revenue %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO revenues (id, data_json) VALUES (?, ?)`, r.ID, string(data)); err != nil {
			return fmt.Errorf("failed to append revenue %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *Store) applyRegistry(ctx context.Context, tx execer, ws *storage.WriteSet) error {
	for _, t := range ws.Tokens {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal token %s: %w", t.Address, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO tokens (address, data_json) VALUES (?, ?)`, t.Address, string(data)); err != nil {
			return fmt.Errorf("failed to put token %s: %w", t.Address, err)
		}
	}
	for _, p := range ws.PaymentMethods {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal payment method %s: %w", p.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO payment_methods (name, data_json) VALUES (?, ?)`, p.Name, string(data)); err != nil {
			return fmt.Errorf("failed to put payment method %s: %w", p.Name, err)
		}
	}
	for _, addr := range ws.DeleteTokens {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE address = ?`, addr); err != nil {
			return fmt.Errorf("failed to delete token %s: %w", addr, err)
		}
	}
	for _, name := range ws.DeletePaymentMethods {
		if _, err := tx.ExecContext(ctx, `DELETE FROM payment_methods WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to delete payment method %s: %w", name, err)
		}
	}
	return nil
}

// getJSON loads one JSON body into out.
func (s *Store) getJSON(ctx context.Context, kind, query string, id any, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %v: %w", kind, id, storage.ErrNotFound)
		}
		return fmt.Errorf("failed to get %s %v: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s %v: %w", kind, id, err)
	}
	return nil
}

// listJSON decodes the first column of every row into a T.
func listJSON[T any](ctx context.Context, s *Store, kind, query string, args ...any) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", kind, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	var acc ledger.Account
	if err := s.getJSON(ctx, "account", `SELECT data_json FROM accounts WHERE id = ?`, id, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return listJSON[ledger.Account](ctx, s, "accounts", `SELECT data_json FROM accounts ORDER BY id`)
}

func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	if err := s.getJSON(ctx, "chat", `SELECT data_json FROM chats WHERE id = ?`, id, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *Store) ListChats(ctx context.Context) ([]models.Chat, error) {
	return listJSON[models.Chat](ctx, s, "chats", `SELECT data_json FROM chats ORDER BY created_on, id`)
}

func (s *Store) ListChatsByAccount(ctx context.Context, accountID string) ([]models.Chat, error) {
	return listJSON[models.Chat](ctx, s, "chats",
		`SELECT data_json FROM chats WHERE owner = ? OR offerer = ? ORDER BY created_on, id`, accountID, accountID)
}

func (s *Store) ListPendingReleases(ctx context.Context, before time.Time) ([]models.Chat, error) {
	candidates, err := listJSON[models.Chat](ctx, s, "chats",
		`SELECT data_json FROM chats WHERE release_pending = 1 ORDER BY created_on, id`)
	if err != nil {
		return nil, err
	}
	out := []models.Chat{}
	for _, c := range candidates {
		if c.PendingSince != nil && c.PendingSince.Before(before) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	var offer models.Offer
	if err := s.getJSON(ctx, "offer", `SELECT data_json FROM offers WHERE id = ?`, id, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (s *Store) ListOffers(ctx context.Context) ([]models.Offer, error) {
	return listJSON[models.Offer](ctx, s, "offers", `SELECT data_json FROM offers ORDER BY created_on, id`)
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := s.getJSON(ctx, "withdrawal", `SELECT data_json FROM withdrawals WHERE id = ?`, id, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) ListPendingWithdrawals(ctx context.Context, before time.Time) ([]models.Withdrawal, error) {
	candidates, err := listJSON[models.Withdrawal](ctx, s, "withdrawals",
		`SELECT data_json FROM withdrawals WHERE status = ? ORDER BY created_at`, string(models.WithdrawalPending))
	if err != nil {
		return nil, err
	}
	out := []models.Withdrawal{}
	for _, w := range candidates {
		if w.UpdatedAt.Before(before) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Store) ListTransfersByAccount(ctx context.Context, accountID string) ([]models.Transfer, error) {
	return listJSON[models.Transfer](ctx, s, "transfers",
		`SELECT data_json FROM transfers WHERE sender = ? OR receiver = ? ORDER BY seq`, accountID, accountID)
}

func (s *Store) ListTradesByAccount(ctx context.Context, accountID string) ([]models.Trade, error) {
	return listJSON[models.Trade](ctx, s, "trades",
		`SELECT data_json FROM trades WHERE seller = ? OR buyer = ? ORDER BY seq`, accountID, accountID)
}

func (s *Store) ListRevenue(ctx context.Context) ([]models.Revenue, error) {
	return listJSON[models.Revenue](ctx, s, "revenue", `SELECT data_json FROM revenues ORDER BY seq`)
}

func (s *Store) GetRevenueTotals(ctx context.Context) (*models.RevenueTotals, error) {
	var totals models.RevenueTotals
	err := s.getJSON(ctx, "revenue totals", `SELECT data_json FROM revenue_totals WHERE id = ?`, 1, &totals)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return &totals, nil
}

func (s *Store) GetToken(ctx context.Context, address string) (*models.TokenMetadata, error) {
	var t models.TokenMetadata
	if err := s.getJSON(ctx, "token", `SELECT data_json FROM tokens WHERE address = ?`, address, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTokens(ctx context.Context) ([]models.TokenMetadata, error) {
	return listJSON[models.TokenMetadata](ctx, s, "tokens", `SELECT data_json FROM tokens ORDER BY address`)
}

func (s *Store) GetPaymentMethod(ctx context.Context, name string) (*models.PaymentMethod, error) {
	var p models.PaymentMethod
	if err := s.getJSON(ctx, "payment method", `SELECT data_json FROM payment_methods WHERE name = ?`, name, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]models.PaymentMethod, error) {
	return listJSON[models.PaymentMethod](ctx, s, "payment methods", `SELECT data_json FROM payment_methods ORDER BY name`)
}

func (s *Store) ClearChats(ctx context.Context) (int, error) {
	return s.clear(ctx, "chats")
}

func (s *Store) ClearOffers(ctx context.Context) (int, error) {
	return s.clear(ctx, "offers")
}

func (s *Store) clear(ctx context.Context, table string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", table, err)
	}
	return int(n), nil
}

func (s *Store) AddConnection(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO connections (connection_id) VALUES (?)`, connectionID); err != nil {
		return fmt.Errorf("failed to add connection %s: %w", connectionID, err)
	}
	return nil
}

func (s *Store) RemoveConnection(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("failed to remove connection %s: %w", connectionID, err)
	}
	return nil
}

func (s *Store) GetAllConnections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT connection_id FROM connections ORDER BY connection_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
