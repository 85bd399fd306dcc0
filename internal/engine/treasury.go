package engine

import (
	"sync"

	"predcore/crypto"
	"predcore/internal/fixedpoint"
	"predcore/internal/vault"
)

// treasury implements liquidation.Treasury over the shared vault. The vault
// itself has no notion of per-address balances (it is a single pooled
// ledger), so a keeper bounty is withdrawn from the pool and credited to an
// in-memory per-keeper balance here rather than actually paid out — the
// same boundary internal/custody draws for settlement payouts: moving funds
// to an external wallet is outside this module, this just accounts for what
// is owed until whatever consumes Balances pays it out.
type treasury struct {
	mu       sync.Mutex
	vault    *vault.Vault
	balances map[string]fixedpoint.Fixed
}

func newTreasury(v *vault.Vault) *treasury {
	return &treasury{vault: v, balances: make(map[string]fixedpoint.Fixed)}
}

// PayKeeperBounty withdraws amount from the vault and credits it to
// keeper's accounted balance.
func (t *treasury) PayKeeperBounty(keeper crypto.Address, amount fixedpoint.Fixed) error {
	if err := t.vault.Withdraw(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	credited, err := t.balances[keeper.String()].Add(amount)
	if err != nil {
		return err
	}
	t.balances[keeper.String()] = credited
	return nil
}

// SweepRounding delegates directly to the vault's own rounding bucket.
func (t *treasury) SweepRounding(amount fixedpoint.Fixed) error {
	return t.vault.SweepRounding(amount)
}

// KeeperBalance reports what a keeper has accrued in bounties, pending an
// external payout.
func (t *treasury) KeeperBalance(keeper crypto.Address) fixedpoint.Fixed {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[keeper.String()]
}
