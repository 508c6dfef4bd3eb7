package vault

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"stabilizer/internal/fixed"
)

// MarginCallResult reports what a best-effort margin call actually settled.
type MarginCallResult struct {
	CallAmount *big.Int // pegged units demanded
	Deadline   int64    // unix seconds
	FeePaid    *big.Int
	Repaid     *big.Int // principal actually cleared
}

// MarginCall demands that the vault settle usdxCallAmount of reference value
// worth of debt within the call delay. The settlement is best effort in three
// steps: withdraw the shortfall from the asset when the vault is liquidatable,
// buy the remaining pegged shortfall on the market, then repay whatever the
// resulting balance covers. Partial settlement is expected; the call state
// stays armed until repaid in full or the deadline passes. Balancer only.
func (v *Vault) MarginCall(caller uuid.UUID, usdxCallAmount *big.Int) (MarginCallResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.roles.IsBalancer(caller) {
		return MarginCallResult{}, fmt.Errorf("%w: %s", ErrNotBalancer, caller)
	}
	if err := requirePositive(usdxCallAmount); err != nil {
		return MarginCallResult{}, err
	}

	sweepToBuy := v.sweep.ConvertToPegged(usdxCallAmount)
	v.callAmount = fixed.Min(sweepToBuy, v.sweepBorrowed)
	v.callTime = v.now().Add(v.callDelay).Unix()

	res := MarginCallResult{
		CallAmount: fixed.Clone(v.callAmount),
		Deadline:   v.callTime,
		FeePaid:    new(big.Int),
		Repaid:     new(big.Int),
	}

	missing := new(big.Int).Sub(v.callAmount, v.sweep.BalanceOf(v.id))
	if missing.Sign() > 0 {
		usdxMissing := v.sweep.ConvertToReference(missing)

		if v.liquidatable && v.asset != nil {
			// Shortfall funding from the asset is opportunistic; a venue
			// that cannot unwind right now does not abort the call.
			_ = v.asset.Withdraw(usdxMissing)
		}

		spend := fixed.Min(usdxMissing, v.usdx.BalanceOf(v.id))
		if spend.Sign() > 0 {
			_, _ = v.amm.BuyPegged(v.id, spend, new(big.Int))
		}
	}

	toRepay := fixed.Min(v.callAmount, v.sweep.BalanceOf(v.id))
	if toRepay.Sign() > 0 {
		if r, err := v.repay(toRepay); err == nil {
			res.FeePaid = r.FeePaid
			res.Repaid = r.PrincipalRepaid
		}
	}
	return res, nil
}

// LiquidateResult reports a completed liquidation.
type LiquidateResult struct {
	Liquidator   uuid.UUID
	Debt         *big.Int // pegged units paid by the liquidator
	Payout       *big.Int // reference units of collateral handed over
	PeggedLeg    *big.Int // pegged units taken from vault holdings
	ReferenceLeg *big.Int // reference units taken from vault holdings
	AssetLeg     *big.Int // reference units drawn from the asset
}

// Liquidate lets anyone clear a defaulted, liquidatable vault: the caller
// pays the full debt in the pegged asset and receives collateral worth
// debt / (1 - liquidator discount), drawn from the vault's pegged holdings,
// then its reference holdings, then the asset. If the three sources cannot
// assemble the payout the call fails before the caller pays anything.
func (v *Vault) Liquidate(caller uuid.UUID) (LiquidateResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.liquidatable {
		return LiquidateResult{}, ErrNotLiquidatable
	}
	if !v.isDefaulted() {
		return LiquidateResult{}, ErrNotDefaulted
	}

	debt := v.getDebt()
	payout := v.liquidationValue()

	// The payout must be assembled in full or not at all.
	available := v.sweep.ConvertToReference(v.sweep.BalanceOf(v.id))
	available.Add(available, v.usdx.BalanceOf(v.id))
	if v.asset != nil {
		available.Add(available, v.asset.CurrentValue())
	}
	if available.Cmp(payout) < 0 {
		return LiquidateResult{}, fmt.Errorf("%w: available=%s payout=%s", ErrNotEnoughAssets, available, payout)
	}

	if err := v.sweep.Transfer(caller, v.id, debt); err != nil {
		return LiquidateResult{}, fmt.Errorf("liquidator debt payment: %w", err)
	}
	if _, err := v.repay(debt); err != nil {
		return LiquidateResult{}, fmt.Errorf("liquidation repay: %w", err)
	}

	res := LiquidateResult{
		Liquidator:   caller,
		Debt:         debt,
		Payout:       payout,
		PeggedLeg:    new(big.Int),
		ReferenceLeg: new(big.Int),
		AssetLeg:     new(big.Int),
	}
	remaining := new(big.Int).Set(payout)

	// Priority order: pegged holdings, reference holdings, then the asset.
	peggedTake := fixed.Min(v.sweep.BalanceOf(v.id), v.sweep.ConvertToPegged(remaining))
	if peggedTake.Sign() > 0 {
		if err := v.sweep.Transfer(v.id, caller, peggedTake); err != nil {
			return LiquidateResult{}, fmt.Errorf("liquidation pegged leg: %w", err)
		}
		res.PeggedLeg = peggedTake
		remaining.Sub(remaining, v.sweep.ConvertToReference(peggedTake))
	}

	refTake := fixed.Min(v.usdx.BalanceOf(v.id), remaining)
	if refTake.Sign() > 0 {
		if err := v.usdx.Transfer(v.id, caller, refTake); err != nil {
			return LiquidateResult{}, fmt.Errorf("liquidation reference leg: %w", err)
		}
		res.ReferenceLeg = refTake
		remaining.Sub(remaining, refTake)
	}

	if remaining.Sign() > 0 {
		if v.asset == nil {
			return LiquidateResult{}, fmt.Errorf("%w: no asset to draw %s from", ErrNotEnoughAssets, remaining)
		}
		if err := v.asset.Liquidate(caller, remaining); err != nil {
			return LiquidateResult{}, fmt.Errorf("liquidation asset leg: %w", err)
		}
		res.AssetLeg = remaining
	}
	return res, nil
}
