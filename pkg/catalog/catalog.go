// Package catalog owns offers, the token and payment method registries and
// the global fee rate the escrow engine charges on every trade.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrOfferNotFound        = errors.New("offer not found")
	ErrOfferExists          = errors.New("offer already exists")
	ErrNotOfferer           = errors.New("caller is not the offerer")
	ErrInvalidOffer         = errors.New("invalid offer")
	ErrInvalidFeeRate       = errors.New("fee rate must be in [0, 1)")
	ErrAccountNotRegistered = errors.New("account not registered")
	ErrInvalidRegistryEntry = errors.New("invalid registry entry")
)

const (
	StatusOfferCreated             = "Offer created successfully"
	StatusOfferInsufficientBalance = "You do not have enough balance to add offer"
)

// Store is the storage the catalog needs.
type Store interface {
	storage.OfferReader
	storage.AccountReader
	storage.HistoryReader
	storage.RegistryReader
	storage.Committer
	ClearOffers(ctx context.Context) (int, error)
}

// Catalog is safe for concurrent use.
type Catalog struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	feeRate decimal.Decimal
}

// Option configures a Catalog.
type Option func(*Catalog)

func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Catalog charging feeRate on trades.
func New(store Store, feeRate decimal.Decimal, opts ...Option) (*Catalog, error) {
	if err := validateFeeRate(feeRate); err != nil {
		return nil, err
	}
	c := &Catalog{
		store:   store,
		logger:  slog.Default(),
		now:     time.Now,
		feeRate: feeRate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func validateFeeRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: %s", ErrInvalidFeeRate, rate)
	}
	return nil
}

// FeeRate is the fraction of a trade amount booked as revenue.
func (c *Catalog) FeeRate() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeRate
}

// SetFeeRate changes the rate applied to chats opened from now on.
func (c *Catalog) SetFeeRate(rate decimal.Decimal) error {
	if err := validateFeeRate(rate); err != nil {
		return err
	}
	c.mu.Lock()
	old := c.feeRate
	c.feeRate = rate
	c.mu.Unlock()
	c.logger.Info("fee rate updated", "from", old.String(), "to", rate.String())
	return nil
}

// Lookup returns the offer or ErrOfferNotFound.
func (c *Catalog) Lookup(ctx context.Context, offerID string) (*models.Offer, error) {
	offer, err := c.store.GetOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return offer, nil
}

// NewOffer is the input to CreateOffer.
type NewOffer struct {
	ID           string
	Type         models.OfferType
	TokenID      string
	MinAmount    models.Amount
	MaxAmount    models.Amount
	Rate         float64
	Payment      string
	Currency     string
	Instructions string
}

func (n *NewOffer) validate() error {
	if n.Type != models.OfferBuy && n.Type != models.OfferSell {
		return fmt.Errorf("%w: type %q", ErrInvalidOffer, n.Type)
	}
	if n.MaxAmount.IsZero() {
		return fmt.Errorf("%w: max amount must be positive", ErrInvalidOffer)
	}
	if n.MaxAmount.Lt(n.MinAmount) {
		return fmt.Errorf("%w: min amount %s above max amount %s", ErrInvalidOffer, n.MinAmount, n.MaxAmount)
	}
	if n.Rate < 0 {
		return fmt.Errorf("%w: negative rate", ErrInvalidOffer)
	}
	return nil
}

// CreateOffer publishes an offer for caller. Buy offers are always accepted;
// sell offers need the offerer to hold at least MaxAmount of the asset.
func (c *Catalog) CreateOffer(ctx context.Context, caller string, in NewOffer) (string, *models.Offer, error) {
	if err := in.validate(); err != nil {
		return "", nil, err
	}
	acc, err := c.store.GetAccount(ctx, caller)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, fmt.Errorf("%w: %s", ErrAccountNotRegistered, caller)
		}
		return "", nil, fmt.Errorf("failed to get offerer account: %w", err)
	}

	if in.Type == models.OfferSell && !holds(acc, in.TokenID, in.MaxAmount) {
		return StatusOfferInsufficientBalance, nil, nil
	}

	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	offer := &models.Offer{
		ID:           in.ID,
		Type:         in.Type,
		Offerer:      caller,
		TokenID:      in.TokenID,
		MinAmount:    in.MinAmount,
		MaxAmount:    in.MaxAmount,
		Rate:         in.Rate,
		Payment:      in.Payment,
		Currency:     in.Currency,
		Instructions: in.Instructions,
		Active:       true,
		CreatedOn:    c.now(),
	}
	if err := c.store.Commit(ctx, &storage.WriteSet{Offers: []*models.Offer{offer}}); err != nil {
		if errors.Is(err, storage.ErrConcurrentModification) {
			return "", nil, fmt.Errorf("%w: %s", ErrOfferExists, in.ID)
		}
		return "", nil, fmt.Errorf("failed to save offer: %w", err)
	}
	c.logger.Info("offer created", "offer_id", offer.ID, "type", offer.Type, "offerer", caller, "token", offer.TokenID)
	return StatusOfferCreated, offer, nil
}

func holds(acc *ledger.Account, token string, amount models.Amount) bool {
	if token == "" {
		return !acc.Balance.Lt(amount)
	}
	bal, err := acc.TokenBalance(token)
	if err != nil {
		return false
	}
	return !bal.Lt(amount)
}

// SetOfferStatus activates or deactivates one of caller's offers.
func (c *Catalog) SetOfferStatus(ctx context.Context, caller, offerID string, active bool) (*models.Offer, error) {
	return c.updateOffer(ctx, caller, offerID, func(o *models.Offer) { o.Active = active })
}

// SetOfferRate changes the quoted rate of one of caller's offers.
func (c *Catalog) SetOfferRate(ctx context.Context, caller, offerID string, rate float64) (*models.Offer, error) {
	if rate < 0 {
		return nil, fmt.Errorf("%w: negative rate", ErrInvalidOffer)
	}
	return c.updateOffer(ctx, caller, offerID, func(o *models.Offer) { o.Rate = rate })
}

func (c *Catalog) updateOffer(ctx context.Context, caller, offerID string, mutate func(*models.Offer)) (*models.Offer, error) {
	offer, err := c.Lookup(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Offerer != caller {
		return nil, fmt.Errorf("%w: %s", ErrNotOfferer, caller)
	}
	mutate(offer)
	now := c.now()
	offer.UpdatedOn = &now
	if err := c.store.Commit(ctx, &storage.WriteSet{Offers: []*models.Offer{offer}}); err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}
	return offer, nil
}

// Filter narrows ListOffers. Zero fields match everything.
type Filter struct {
	Type       models.OfferType
	Asset      models.AssetKind
	TokenID    string
	Offerer    string
	ActiveOnly bool
}

func (f Filter) match(o *models.Offer) bool {
	switch {
	case f.Type != "" && o.Type != f.Type:
		return false
	case f.Asset != "" && o.Asset() != f.Asset:
		return false
	case f.TokenID != "" && o.TokenID != f.TokenID:
		return false
	case f.Offerer != "" && o.Offerer != f.Offerer:
		return false
	case f.ActiveOnly && !o.Active:
		return false
	}
	return true
}

// ListOffers returns the matching offers enriched for display.
func (c *Catalog) ListOffers(ctx context.Context, f Filter) ([]OfferView, error) {
	offers, err := c.store.ListOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	views := []OfferView{}
	for i := range offers {
		if !f.match(&offers[i]) {
			continue
		}
		view, err := c.CompleteOffer(ctx, &offers[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// ClearOffers removes every offer. Existing chats keep their snapshot.
func (c *Catalog) ClearOffers(ctx context.Context) (int, error) {
	n, err := c.store.ClearOffers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear offers: %w", err)
	}
	c.logger.Warn("offers cleared", "count", n)
	return n, nil
}

func normalizeKey(s string) string { return strings.TrimSpace(s) }
