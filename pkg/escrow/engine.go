// Package escrow is the trade-chat state machine. It is the only component
// that moves funds between the available and locked sides of an account and
// out of the ledger.
//
// Every public operation runs as one unit of work: entities are loaded as
// copies, mutated, and written back in a single storage commit. An operation
// that fails leaves nothing behind.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/bridge"
	"github.com/chris/p2p-escrow-ledger/pkg/events"
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/metrics"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/revenue"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
	"github.com/shopspring/decimal"
)

// OfferSource resolves offers and the fee rate at chat open.
type OfferSource interface {
	Lookup(ctx context.Context, offerID string) (*models.Offer, error)
	FeeRate() decimal.Decimal
}

// Store is the storage the engine drives.
type Store interface {
	storage.EngineStore
	ClearChats(ctx context.Context) (int, error)
}

// Config holds the ledger rules.
type Config struct {
	MinDeposit models.Amount
	// CancelRefundsFee unlocks the fee hold together with the principal when a
	// chat is canceled. Off by default: only the principal is returned.
	CancelRefundsFee bool
	Owner            string
	Guardians        []string
}

// Engine runs every ledger and chat operation. A single mutex serializes them
// and each operation commits one write set.
type Engine struct {
	mu sync.Mutex

	store   Store
	offers  OfferSource
	bridge  bridge.Bridge
	sink    *revenue.Sink
	emitter events.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	cfg     Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Nil keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEmitter sets where lifecycle events are published.
func WithEmitter(em events.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithMetrics enables Prometheus instrumentation. Nil disables it.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New wires an engine. b may be nil when token chats and withdrawals are not
// served; those operations then fail with ErrBridgeUnavailable.
func New(store Store, offers OfferSource, b bridge.Bridge, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		offers:  offers,
		bridge:  b,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		now:     time.Now,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sink = revenue.NewSink(e.now)
	return e
}

var _ bridge.ResultHandler = (*Engine)(nil)

// IsAdmin reports whether caller is the configured owner or a guardian.
func (e *Engine) IsAdmin(caller string) bool {
	if caller == "" {
		return false
	}
	return caller == e.cfg.Owner || slices.Contains(e.cfg.Guardians, caller)
}

func (e *Engine) requireAdmin(caller string) error {
	if !e.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// unit is the in-flight state of one operation.
type unit struct {
	ctx      context.Context
	store    Store
	accounts map[string]*ledger.Account
	written  map[string]bool
	totals   *models.RevenueTotals
	ws       storage.WriteSet
	events   []events.Event
}

func (e *Engine) begin(ctx context.Context) *unit {
	return &unit{
		ctx:      ctx,
		store:    e.store,
		accounts: map[string]*ledger.Account{},
		written:  map[string]bool{},
	}
}

// account returns a private copy of the account, ErrAccountNotFound if absent.
func (u *unit) account(id string) (*ledger.Account, error) {
	if a, ok := u.accounts[id]; ok {
		return a, nil
	}
	a, err := u.store.GetAccount(u.ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		return nil, fmt.Errorf("failed to get account %s: %w", id, err)
	}
	a = a.Clone()
	u.accounts[id] = a
	return a, nil
}

// accountOrNew loads the account or stages a fresh one.
func (u *unit) accountOrNew(id string, now time.Time) (*ledger.Account, bool, error) {
	a, err := u.account(id)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}
	a = ledger.NewAccount(id, now)
	u.accounts[id] = a
	return a, true, nil
}

// write marks accounts for the commit.
func (u *unit) write(accs ...*ledger.Account) {
	for _, a := range accs {
		if u.written[a.ID] {
			continue
		}
		u.written[a.ID] = true
		u.ws.Accounts = append(u.ws.Accounts, a)
	}
}

func (u *unit) chat(id string) (*models.Chat, error) {
	c, err := u.store.GetChat(u.ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChatNotFound, id)
		}
		return nil, fmt.Errorf("failed to get chat %s: %w", id, err)
	}
	return c, nil
}

func (u *unit) revenueTotals() (*models.RevenueTotals, error) {
	if u.totals != nil {
		return u.totals, nil
	}
	t, err := u.store.GetRevenueTotals(u.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get revenue totals: %w", err)
	}
	cp := *t
	u.totals = &cp
	return u.totals, nil
}

func (u *unit) emit(evt events.Event) {
	u.events = append(u.events, evt)
}

func (e *Engine) commit(u *unit) error {
	if u.ws.Empty() {
		return nil
	}
	if err := u.store.Commit(u.ctx, &u.ws); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	for _, evt := range u.events {
		e.emitter.Emit(u.ctx, evt)
	}
	return nil
}

func (e *Engine) chatEvent(typ string, c *models.Chat, attrs map[string]string) events.Event {
	return events.Event{
		Type:     typ,
		Key:      c.ID,
		Accounts: []string{c.Owner, c.Offerer},
		At:       e.now(),
		Attrs:    attrs,
	}
}

func (e *Engine) accountEvent(typ, key, account string, attrs map[string]string) events.Event {
	return events.Event{
		Type:     typ,
		Key:      key,
		Accounts: []string{account},
		At:       e.now(),
		Attrs:    attrs,
	}
}

func assetLabel(c *models.Chat) string {
	if c.Asset == models.AssetToken {
		return c.TokenID
	}
	return models.NativeAsset
}
