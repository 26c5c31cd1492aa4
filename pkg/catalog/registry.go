package catalog

import (
	"context"
	"fmt"

	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
)

// maxTokenDecimals bounds metadata to what a u128 amount can meaningfully carry.
const maxTokenDecimals = 38

func (c *Catalog) PutToken(ctx context.Context, meta models.TokenMetadata) error {
	meta.Address = normalizeKey(meta.Address)
	if meta.Address == "" || meta.Symbol == "" {
		return fmt.Errorf("%w: token address and symbol are required", ErrInvalidRegistryEntry)
	}
	if meta.Decimals > maxTokenDecimals {
		return fmt.Errorf("%w: %d decimals", ErrInvalidRegistryEntry, meta.Decimals)
	}
	if err := c.store.Commit(ctx, &storage.WriteSet{Tokens: []models.TokenMetadata{meta}}); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (c *Catalog) RemoveToken(ctx context.Context, address string) error {
	if err := c.store.Commit(ctx, &storage.WriteSet{DeleteTokens: []string{normalizeKey(address)}}); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

func (c *Catalog) GetToken(ctx context.Context, address string) (*models.TokenMetadata, error) {
	return c.store.GetToken(ctx, normalizeKey(address))
}

func (c *Catalog) ListTokens(ctx context.Context) ([]models.TokenMetadata, error) {
	return c.store.ListTokens(ctx)
}

func (c *Catalog) PutPaymentMethod(ctx context.Context, pm models.PaymentMethod) error {
	pm.Name = normalizeKey(pm.Name)
	if pm.Name == "" {
		return fmt.Errorf("%w: payment method name is required", ErrInvalidRegistryEntry)
	}
	if err := c.store.Commit(ctx, &storage.WriteSet{PaymentMethods: []models.PaymentMethod{pm}}); err != nil {
		return fmt.Errorf("failed to save payment method: %w", err)
	}
	return nil
}

func (c *Catalog) RemovePaymentMethod(ctx context.Context, name string) error {
	if err := c.store.Commit(ctx, &storage.WriteSet{DeletePaymentMethods: []string{normalizeKey(name)}}); err != nil {
		return fmt.Errorf("failed to delete payment method: %w", err)
	}
	return nil
}

func (c *Catalog) ListPaymentMethods(ctx context.Context) ([]models.PaymentMethod, error) {
	return c.store.ListPaymentMethods(ctx)
}
