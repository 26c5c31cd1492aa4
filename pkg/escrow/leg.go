package escrow

import (
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// assetLeg is the asset-specific half of a chat. The state machine is shared;
// only the balance moves differ between native and token chats.
type assetLeg interface {
	// covers reports whether the escrower can fund the chat. A token the
	// escrower never held is a hard error.
	covers(escrower *ledger.Account, c *models.Chat) (bool, error)
	hold(escrower *ledger.Account, c *models.Chat) error
	// refund returns the principal, and the fee when withFee is set.
	refund(escrower *ledger.Account, c *models.Chat, withFee bool) error
	// async legs pay out through the transfer bridge.
	async() bool
}

func legFor(c *models.Chat) assetLeg {
	if c.Asset == models.AssetToken {
		return tokenLeg{token: c.TokenID}
	}
	return nativeLeg{}
}

// nativeLeg locks principal and fee together on the native balance.
type nativeLeg struct{}

func (nativeLeg) covers(a *ledger.Account, c *models.Chat) (bool, error) {
	return !a.Balance.Lt(c.Amount.Add(c.TradeCost)), nil
}

func (nativeLeg) hold(a *ledger.Account, c *models.Chat) error {
	return a.Lock(c.Amount.Add(c.TradeCost))
}

func (nativeLeg) refund(a *ledger.Account, c *models.Chat, withFee bool) error {
	amount := c.Amount
	if withFee {
		amount = amount.Add(c.TradeCost)
	}
	return a.Unlock(amount)
}

func (nativeLeg) async() bool { return false }

// tokenLeg locks the principal in tokens and the fee in native currency.
type tokenLeg struct {
	token string
}

func (l tokenLeg) covers(a *ledger.Account, c *models.Chat) (bool, error) {
	if a.Balance.Lt(c.TradeCost) {
		return false, nil
	}
	held, err := a.TokenBalance(l.token)
	if err != nil {
		return false, err
	}
	return !held.Lt(c.Amount), nil
}

func (l tokenLeg) hold(a *ledger.Account, c *models.Chat) error {
	if err := a.LockTokens(l.token, c.Amount); err != nil {
		return err
	}
	return a.Lock(c.TradeCost)
}

func (l tokenLeg) refund(a *ledger.Account, c *models.Chat, withFee bool) error {
	if err := a.UnlockTokens(l.token, c.Amount); err != nil {
		return err
	}
	if withFee {
		return a.Unlock(c.TradeCost)
	}
	return nil
}

func (tokenLeg) async() bool { return true }
