package vault

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"stabilizer/internal/fixed"
)

// Guard helpers. Each operation validates every precondition before touching
// state or collaborators, so a failed call leaves the vault untouched.

func (v *Vault) requireBorrower(caller uuid.UUID) error {
	if caller != v.borrower {
		return fmt.Errorf("%w: %s", ErrNotBorrower, caller)
	}
	return nil
}

func (v *Vault) requireNotFrozen() error {
	if v.frozen {
		return ErrFrozen
	}
	return nil
}

func requirePositive(amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrZeroAmount
	}
	return nil
}

// === Configuration ===

// Configure applies the full parameter block atomically. Only the borrower
// may configure, and only while settings are borrower-controlled.
func (v *Vault) Configure(caller uuid.UUID, cfg Config) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return err
	}
	if !v.settingsEnabled {
		return ErrSettingsDisabled
	}
	if cfg.Asset == nil {
		return ErrNilAsset
	}

	v.asset = cfg.Asset
	v.minEquityRatio = cfg.MinEquityRatio
	v.spreadFee = cfg.SpreadFee
	v.loanLimit = fixed.Clone(cfg.LoanLimit)
	v.liquidatorDiscount = cfg.LiquidatorDiscount
	v.callDelay = cfg.CallDelay
	v.liquidatable = cfg.Liquidatable
	v.link = cfg.Link
	return nil
}

// Propose hands settings control to governance. Borrower only.
func (v *Vault) Propose(caller uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return err
	}
	if !v.settingsEnabled {
		return ErrSettingsDisabled
	}
	v.settingsEnabled = false
	return nil
}

// Reject returns settings control to the borrower. Admin only.
func (v *Vault) Reject(caller uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.roles.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", ErrNotAdmin, caller)
	}
	if v.settingsEnabled {
		return ErrSettingsEnabled
	}
	v.settingsEnabled = true
	return nil
}

// SetFrozen toggles the freeze flag blocking borrower value actions. Admin only.
func (v *Vault) SetFrozen(caller uuid.UUID, frozen bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.roles.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", ErrNotAdmin, caller)
	}
	v.frozen = frozen
	return nil
}

// SetBorrower reassigns the borrower identity. Admin only.
func (v *Vault) SetBorrower(caller, borrower uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.roles.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", ErrNotAdmin, caller)
	}
	if borrower == uuid.Nil {
		return ErrZeroAddress
	}
	v.borrower = borrower
	return nil
}

// === Debt ===

// Borrow mints amount of the pegged asset into the vault and grows the senior
// tranche, provided the projected equity ratio stays at or above the floor.
// Pending spread is settled first so the principal taking on the new rate
// basis starts from a clean fee clock.
func (v *Vault) Borrow(caller uuid.UUID, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return err
	}
	if err := v.requireNotFrozen(); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	if !v.sweep.IsValidMinter(v.id) {
		return ErrInvalidMinter
	}
	if ratio := v.calculateEquityRatio(amount, new(big.Int)); ratio < v.minEquityRatio {
		return fmt.Errorf("%w: projected=%d min=%d", ErrEquityRatioExceeded, ratio, v.minEquityRatio)
	}

	if _, err := v.payFee(); err != nil {
		return err
	}
	if err := v.sweep.Mint(v.id, amount); err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	v.sweepBorrowed.Add(v.sweepBorrowed, amount)
	return nil
}

// RepayResult reports how a repayment split between spread and principal.
type RepayResult struct {
	FeePaid         *big.Int
	PrincipalRepaid *big.Int
}

// Repay applies up to amount of the vault's own pegged holdings against the
// debt: accrued spread is settled to the treasury first, the remainder burns
// principal, and any in-flight margin call shrinks by the gross amount.
func (v *Vault) Repay(caller uuid.UUID, amount *big.Int) (RepayResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return RepayResult{}, err
	}
	if err := requirePositive(amount); err != nil {
		return RepayResult{}, err
	}
	return v.repay(amount)
}

// repay is the caller-agnostic settlement also used by marginCall and
// liquidate. The requested amount is clamped to the vault's pegged balance;
// when it does not even cover the accrued spread, the spread is still settled
// in full (or the whole call fails) and principal stays untouched — the
// subtraction is clamped at zero, never allowed to underflow.
func (v *Vault) repay(amount *big.Int) (RepayResult, error) {
	balance := v.sweep.BalanceOf(v.id)
	gross := fixed.Min(amount, balance)

	spread := v.accruedFee()
	if spread.Sign() > 0 {
		if balance.Cmp(spread) < 0 {
			return RepayResult{}, fmt.Errorf("%w: balance=%s spread=%s", ErrSpreadNotEnough, balance, spread)
		}
		if err := v.sweep.Transfer(v.id, v.sweep.Treasury(), spread); err != nil {
			return RepayResult{}, fmt.Errorf("spread transfer: %w", err)
		}
	}

	net := fixed.ClampNonNegative(new(big.Int).Sub(gross, spread))
	principal := fixed.Min(net, v.sweepBorrowed)
	if principal.Sign() > 0 {
		if err := v.sweep.BurnFrom(v.id, principal); err != nil {
			return RepayResult{}, fmt.Errorf("burn: %w", err)
		}
	}

	v.sweepBorrowed.Sub(v.sweepBorrowed, principal)
	v.callAmount = fixed.ClampNonNegative(new(big.Int).Sub(v.callAmount, gross))
	if v.callAmount.Sign() == 0 {
		v.callTime = 0
	}
	v.spreadDate = v.now().Unix()

	return RepayResult{FeePaid: spread, PrincipalRepaid: principal}, nil
}

// PayFee settles the accrued spread to the treasury and restarts the fee clock.
func (v *Vault) PayFee(caller uuid.UUID) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return nil, err
	}
	return v.payFee()
}

func (v *Vault) payFee() (*big.Int, error) {
	spread := v.accruedFee()
	if spread.Sign() > 0 {
		if v.sweep.BalanceOf(v.id).Cmp(spread) < 0 {
			return nil, fmt.Errorf("%w: spread=%s", ErrSpreadNotEnough, spread)
		}
		if err := v.sweep.Transfer(v.id, v.sweep.Treasury(), spread); err != nil {
			return nil, fmt.Errorf("spread transfer: %w", err)
		}
	}
	v.spreadDate = v.now().Unix()
	return spread, nil
}

// === Investment ===

// Invest forwards vault holdings into the asset. Amounts are clamped to what
// the vault actually holds.
func (v *Vault) Invest(caller uuid.UUID, usdxAmount, sweepAmount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return err
	}
	if err := v.requireNotFrozen(); err != nil {
		return err
	}
	if v.asset == nil {
		return ErrNilAsset
	}

	ref := fixed.Min(usdxAmount, v.usdx.BalanceOf(v.id))
	pegged := fixed.Min(sweepAmount, v.sweep.BalanceOf(v.id))
	if err := v.asset.Deposit(ref, pegged); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// Divest asks the asset to return amount of reference value to the vault.
func (v *Vault) Divest(caller uuid.UUID, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	if v.asset == nil {
		return ErrNilAsset
	}
	if err := v.asset.Withdraw(amount); err != nil {
		return fmt.Errorf("asset withdraw: %w", err)
	}
	return nil
}

// Collect claims the asset's accumulated rewards for the borrower.
func (v *Vault) Collect(caller uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return err
	}
	if v.asset == nil {
		return ErrNilAsset
	}
	if err := v.asset.WithdrawRewards(v.borrower); err != nil {
		return fmt.Errorf("rewards: %w", err)
	}
	return nil
}

// === Market ===

// Buy swaps usdxAmount of the vault's reference holdings for the pegged asset
// through the external market, honoring minOut.
func (v *Vault) Buy(caller uuid.UUID, usdxAmount, minOut *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return nil, err
	}
	if err := v.requireNotFrozen(); err != nil {
		return nil, err
	}
	if err := requirePositive(usdxAmount); err != nil {
		return nil, err
	}

	received, err := v.amm.BuyPegged(v.id, usdxAmount, minOut)
	if err != nil {
		return nil, fmt.Errorf("buy: %w", err)
	}
	return received, nil
}

// Sell swaps sweepAmount of the vault's pegged holdings for reference
// currency, clamped to the balance, honoring minOut.
func (v *Vault) Sell(caller uuid.UUID, sweepAmount, minOut *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return nil, err
	}
	if err := v.requireNotFrozen(); err != nil {
		return nil, err
	}
	if err := requirePositive(sweepAmount); err != nil {
		return nil, err
	}

	amount := fixed.Min(sweepAmount, v.sweep.BalanceOf(v.id))
	received, err := v.amm.SellPegged(v.id, amount, minOut)
	if err != nil {
		return nil, fmt.Errorf("sell: %w", err)
	}
	return received, nil
}

// BuySweep exchanges the borrower's reference currency for the vault's own
// pegged holdings at the target price, no market in between.
func (v *Vault) BuySweep(caller uuid.UUID, usdxAmount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return nil, err
	}
	if err := v.requireNotFrozen(); err != nil {
		return nil, err
	}
	if err := requirePositive(usdxAmount); err != nil {
		return nil, err
	}

	sweepOut := v.sweep.ConvertToPegged(usdxAmount)
	if v.sweep.BalanceOf(v.id).Cmp(sweepOut) < 0 {
		return nil, fmt.Errorf("%w: vault pegged holdings", ErrNotEnoughBalance)
	}
	if err := v.usdx.Transfer(caller, v.id, usdxAmount); err != nil {
		return nil, fmt.Errorf("buysweep: %w", err)
	}
	if err := v.sweep.Transfer(v.id, caller, sweepOut); err != nil {
		return nil, fmt.Errorf("buysweep: %w", err)
	}
	return sweepOut, nil
}

// SellSweep is the inverse peer-to-peer exchange against the vault's
// reference holdings.
func (v *Vault) SellSweep(caller uuid.UUID, sweepAmount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return nil, err
	}
	if err := v.requireNotFrozen(); err != nil {
		return nil, err
	}
	if err := requirePositive(sweepAmount); err != nil {
		return nil, err
	}

	usdxOut := v.sweep.ConvertToReference(sweepAmount)
	if v.usdx.BalanceOf(v.id).Cmp(usdxOut) < 0 {
		return nil, fmt.Errorf("%w: vault reference holdings", ErrNotEnoughBalance)
	}
	if err := v.sweep.Transfer(caller, v.id, sweepAmount); err != nil {
		return nil, fmt.Errorf("sellsweep: %w", err)
	}
	if err := v.usdx.Transfer(v.id, caller, usdxOut); err != nil {
		return nil, fmt.Errorf("sellsweep: %w", err)
	}
	return usdxOut, nil
}

// Withdraw moves vault holdings to the borrower. While debt is outstanding
// the withdrawal is treated as a junior-tranche reduction and must keep the
// equity ratio at or above the floor.
func (v *Vault) Withdraw(caller uuid.UUID, token TokenKind, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireBorrower(caller); err != nil {
		return err
	}
	if err := v.requireNotFrozen(); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	if token != TokenPegged && token != TokenReference {
		return ErrInvalidToken
	}

	if v.sweepBorrowed.Sign() != 0 {
		usdxDelta := amount
		if token == TokenPegged {
			usdxDelta = v.sweep.ConvertToReference(amount)
		}
		if ratio := v.calculateEquityRatio(new(big.Int), usdxDelta); ratio < v.minEquityRatio {
			return fmt.Errorf("%w: projected=%d min=%d", ErrEquityRatioExceeded, ratio, v.minEquityRatio)
		}
	}

	var err error
	if token == TokenPegged {
		err = v.sweep.Transfer(v.id, v.borrower, amount)
	} else {
		err = v.usdx.Transfer(v.id, v.borrower, amount)
	}
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	return nil
}
