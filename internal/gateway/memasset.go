package gateway

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// MemAsset is an in-memory investment asset bound to a single vault account.
// Deposits move funds from the vault account to the asset's own account;
// withdrawals move them back. A signed valuation delta models market moves on
// top of the deposited principal.
type MemAsset struct {
	mu sync.Mutex

	account uuid.UUID // the asset's own ledger account
	vault   uuid.UUID // the vault account it serves

	sweep *MemLedger
	usdx  *MemLedger

	valuationDelta *big.Int // reference units, signed
	rewards        *big.Int // reference units, accrued but unclaimed
}

func NewMemAsset(vault uuid.UUID, sweep, usdx *MemLedger) *MemAsset {
	return &MemAsset{
		account:        uuid.New(),
		vault:          vault,
		sweep:          sweep,
		usdx:           usdx,
		valuationDelta: new(big.Int),
		rewards:        new(big.Int),
	}
}

// Account exposes the asset's ledger account for test funding.
func (a *MemAsset) Account() uuid.UUID { return a.account }

// CurrentValue is the asset's holdings valued in reference units plus the
// valuation delta.
func (a *MemAsset) CurrentValue() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentValue()
}

func (a *MemAsset) currentValue() *big.Int {
	v := a.usdx.BalanceOf(a.account)
	v.Add(v, a.sweep.ConvertToReference(a.sweep.BalanceOf(a.account)))
	v.Add(v, a.valuationDelta)
	if v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}

func (a *MemAsset) Deposit(refAmount, peggedAmount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if refAmount.Sign() > 0 {
		if err := a.usdx.Transfer(a.vault, a.account, refAmount); err != nil {
			return fmt.Errorf("asset deposit: %w", err)
		}
	}
	if peggedAmount.Sign() > 0 {
		if err := a.sweep.Transfer(a.vault, a.account, peggedAmount); err != nil {
			return fmt.Errorf("asset deposit: %w", err)
		}
	}
	return nil
}

// Withdraw returns up to amount (reference units) of the asset's reference
// holdings to the vault. A request beyond the liquid balance is clamped, the
// way a position unwind returns what the venue can settle.
func (a *MemAsset) Withdraw(amount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	avail := a.usdx.BalanceOf(a.account)
	take := amount
	if take.Cmp(avail) > 0 {
		take = avail
	}
	if take.Sign() <= 0 {
		return nil
	}
	if err := a.usdx.Transfer(a.account, a.vault, take); err != nil {
		return fmt.Errorf("asset withdraw: %w", err)
	}
	return nil
}

func (a *MemAsset) WithdrawRewards(to uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rewards.Sign() <= 0 {
		return nil
	}
	if err := a.usdx.Transfer(a.account, to, a.rewards); err != nil {
		return fmt.Errorf("asset rewards: %w", err)
	}
	a.rewards.SetInt64(0)
	return nil
}

// Liquidate transfers amount of reference-currency value to the recipient,
// drawing reference holdings first, then pegged holdings at the target price.
func (a *MemAsset) Liquidate(to uuid.UUID, amount *big.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	remaining := new(big.Int).Set(amount)

	refAvail := a.usdx.BalanceOf(a.account)
	if refAvail.Sign() > 0 {
		take := refAvail
		if take.Cmp(remaining) > 0 {
			take = remaining
		}
		if err := a.usdx.Transfer(a.account, to, take); err != nil {
			return fmt.Errorf("asset liquidate: %w", err)
		}
		remaining = new(big.Int).Sub(remaining, take)
	}

	if remaining.Sign() > 0 {
		peggedNeeded := a.sweep.ConvertToPegged(remaining)
		peggedAvail := a.sweep.BalanceOf(a.account)
		if peggedAvail.Cmp(peggedNeeded) < 0 {
			return fmt.Errorf("%w: asset short %s reference units", ErrInsufficientLiquidity, remaining)
		}
		if err := a.sweep.Transfer(a.account, to, peggedNeeded); err != nil {
			return fmt.Errorf("asset liquidate: %w", err)
		}
	}
	return nil
}

// SetValuationDelta overrides the mark-to-market adjustment (reference units).
func (a *MemAsset) SetValuationDelta(delta *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.valuationDelta = new(big.Int).Set(delta)
}

// AccrueRewards adds claimable rewards backed by the asset's reference balance.
func (a *MemAsset) AccrueRewards(amount *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rewards.Add(a.rewards, amount)
}
