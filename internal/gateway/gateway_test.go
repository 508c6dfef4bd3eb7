package gateway_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"stabilizer/internal/gateway"
)

// One reference unit per whole pegged token keeps conversions easy to read:
// 1e18 pegged wei == 1_000_000 reference units.
func newPegged(owner, balancer, treasury uuid.UUID) *gateway.MemLedger {
	return gateway.NewPeggedLedger("SWEEP", big.NewInt(1_000_000), owner, balancer, treasury)
}

func peggedWhole(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), gateway.PeggedUnit)
}

// ============================================================================
// Test: MemLedger
// ============================================================================

func TestLedger_TransferMovesBalance(t *testing.T) {
	l := gateway.NewReferenceLedger("USDX")
	a, b := uuid.New(), uuid.New()
	l.Deposit(a, big.NewInt(1000))

	if err := l.Transfer(a, b, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.BalanceOf(a); got.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("sender: got %s, want 600", got)
	}
	if got := l.BalanceOf(b); got.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("recipient: got %s, want 400", got)
	}
}

func TestLedger_TransferInsufficient(t *testing.T) {
	l := gateway.NewReferenceLedger("USDX")
	a, b := uuid.New(), uuid.New()
	l.Deposit(a, big.NewInt(10))

	err := l.Transfer(a, b, big.NewInt(11))
	if !errors.Is(err, gateway.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf(a); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("failed transfer must not move funds: got %s", got)
	}
}

func TestLedger_MintRequiresAllowlist(t *testing.T) {
	l := newPegged(uuid.New(), uuid.New(), uuid.New())
	holder := uuid.New()

	if err := l.Mint(holder, big.NewInt(100)); !errors.Is(err, gateway.ErrNotMinter) {
		t.Errorf("got %v, want ErrNotMinter", err)
	}

	l.SetMinter(holder, true)
	if err := l.Mint(holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint after allowlist: %v", err)
	}
	if got := l.BalanceOf(holder); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("got %s, want 100", got)
	}
}

func TestLedger_ConvertRoundTrip(t *testing.T) {
	l := newPegged(uuid.New(), uuid.New(), uuid.New())

	// 3 whole tokens at a 1.0 target price == 3 whole reference units.
	ref := l.ConvertToReference(peggedWhole(3))
	want := new(big.Int).Mul(big.NewInt(3), gateway.ReferenceUnit)
	if ref.Cmp(want) != 0 {
		t.Errorf("to reference: got %s, want %s", ref, want)
	}
	back := l.ConvertToPegged(ref)
	if back.Cmp(peggedWhole(3)) != 0 {
		t.Errorf("round trip: got %s, want %s", back, peggedWhole(3))
	}
}

func TestLedger_ConvertTracksTargetPrice(t *testing.T) {
	l := newPegged(uuid.New(), uuid.New(), uuid.New())
	l.SetTargetPrice(big.NewInt(2_000_000)) // 2.0 reference per token

	ref := l.ConvertToReference(peggedWhole(1))
	want := new(big.Int).Mul(big.NewInt(2), gateway.ReferenceUnit)
	if ref.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", ref, want)
	}
}

// ============================================================================
// Test: MemSwap
// ============================================================================

func TestSwap_BuyPeggedAppliesSpread(t *testing.T) {
	sweep := newPegged(uuid.New(), uuid.New(), uuid.New())
	usdx := gateway.NewReferenceLedger("USDX")
	swap := gateway.NewMemSwap(sweep, usdx, 10_000) // 1%

	buyer := uuid.New()
	usdx.Deposit(buyer, gateway.ReferenceUnit)  // 1.0 reference
	sweep.Deposit(swap.Pool(), peggedWhole(10)) // pool inventory

	// 1 whole token minus the 1% spread.
	want := new(big.Int).Mul(peggedWhole(1), big.NewInt(99))
	want.Quo(want, big.NewInt(100))

	out, err := swap.BuyPegged(buyer, gateway.ReferenceUnit, new(big.Int))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if out.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", out, want)
	}
	if got := sweep.BalanceOf(buyer); got.Cmp(out) != 0 {
		t.Errorf("buyer credited %s, want %s", got, out)
	}
}

func TestSwap_BuyPeggedSlippage(t *testing.T) {
	sweep := newPegged(uuid.New(), uuid.New(), uuid.New())
	usdx := gateway.NewReferenceLedger("USDX")
	swap := gateway.NewMemSwap(sweep, usdx, 10_000)

	buyer := uuid.New()
	usdx.Deposit(buyer, gateway.ReferenceUnit)
	sweep.Deposit(swap.Pool(), peggedWhole(10))

	// Demanding the full un-spread output must trip the floor.
	_, err := swap.BuyPegged(buyer, gateway.ReferenceUnit, peggedWhole(1))
	if !errors.Is(err, gateway.ErrSlippage) {
		t.Errorf("got %v, want ErrSlippage", err)
	}
	if got := usdx.BalanceOf(buyer); got.Cmp(gateway.ReferenceUnit) != 0 {
		t.Errorf("failed swap must not take funds: got %s", got)
	}
}

func TestSwap_SellPeggedNeedsPoolInventory(t *testing.T) {
	sweep := newPegged(uuid.New(), uuid.New(), uuid.New())
	usdx := gateway.NewReferenceLedger("USDX")
	swap := gateway.NewMemSwap(sweep, usdx, 0)

	seller := uuid.New()
	sweep.Deposit(seller, peggedWhole(1))

	_, err := swap.SellPegged(seller, peggedWhole(1), new(big.Int))
	if !errors.Is(err, gateway.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

// ============================================================================
// Test: MemAsset
// ============================================================================

func TestAsset_DepositAndValue(t *testing.T) {
	sweep := newPegged(uuid.New(), uuid.New(), uuid.New())
	usdx := gateway.NewReferenceLedger("USDX")
	vaultID := uuid.New()
	asset := gateway.NewMemAsset(vaultID, sweep, usdx)

	usdx.Deposit(vaultID, big.NewInt(500_000))
	if err := asset.Deposit(big.NewInt(500_000), new(big.Int)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := asset.CurrentValue(); got.Cmp(big.NewInt(500_000)) != 0 {
		t.Errorf("got %s, want 500000", got)
	}
}

func TestAsset_ValuationDeltaFloorsAtZero(t *testing.T) {
	sweep := newPegged(uuid.New(), uuid.New(), uuid.New())
	usdx := gateway.NewReferenceLedger("USDX")
	asset := gateway.NewMemAsset(uuid.New(), sweep, usdx)

	asset.SetValuationDelta(big.NewInt(-1_000_000))
	if got := asset.CurrentValue(); got.Sign() != 0 {
		t.Errorf("value must floor at zero, got %s", got)
	}
}

func TestAsset_WithdrawClampsToLiquid(t *testing.T) {
	sweep := newPegged(uuid.New(), uuid.New(), uuid.New())
	usdx := gateway.NewReferenceLedger("USDX")
	vaultID := uuid.New()
	asset := gateway.NewMemAsset(vaultID, sweep, usdx)

	usdx.Deposit(asset.Account(), big.NewInt(300))
	if err := asset.Withdraw(big.NewInt(1000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := usdx.BalanceOf(vaultID); got.Cmp(big.NewInt(300)) != 0 {
		t.Errorf("vault received %s, want the clamped 300", got)
	}
}

func TestAsset_LiquidateReferenceFirst(t *testing.T) {
	sweep := newPegged(uuid.New(), uuid.New(), uuid.New())
	usdx := gateway.NewReferenceLedger("USDX")
	asset := gateway.NewMemAsset(uuid.New(), sweep, usdx)
	recipient := uuid.New()

	usdx.Deposit(asset.Account(), big.NewInt(400_000))
	sweep.Deposit(asset.Account(), peggedWhole(1))

	// 0.6 reference units: 0.4 from reference holdings, 0.2 from pegged.
	if err := asset.Liquidate(recipient, big.NewInt(600_000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if got := usdx.BalanceOf(recipient); got.Cmp(big.NewInt(400_000)) != 0 {
		t.Errorf("reference leg: got %s, want 400000", got)
	}
	wantPegged := sweep.ConvertToPegged(big.NewInt(200_000))
	if got := sweep.BalanceOf(recipient); got.Cmp(wantPegged) != 0 {
		t.Errorf("pegged leg: got %s, want %s", got, wantPegged)
	}
}

func TestAsset_LiquidateShortfall(t *testing.T) {
	sweep := newPegged(uuid.New(), uuid.New(), uuid.New())
	usdx := gateway.NewReferenceLedger("USDX")
	asset := gateway.NewMemAsset(uuid.New(), sweep, usdx)

	usdx.Deposit(asset.Account(), big.NewInt(100))
	err := asset.Liquidate(uuid.New(), big.NewInt(500))
	if !errors.Is(err, gateway.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestAsset_RewardsClaim(t *testing.T) {
	sweep := newPegged(uuid.New(), uuid.New(), uuid.New())
	usdx := gateway.NewReferenceLedger("USDX")
	asset := gateway.NewMemAsset(uuid.New(), sweep, usdx)
	borrower := uuid.New()

	usdx.Deposit(asset.Account(), big.NewInt(1000))
	asset.AccrueRewards(big.NewInt(250))

	if err := asset.WithdrawRewards(borrower); err != nil {
		t.Fatalf("rewards: %v", err)
	}
	if got := usdx.BalanceOf(borrower); got.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("got %s, want 250", got)
	}
	// Second claim is a no-op.
	if err := asset.WithdrawRewards(borrower); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if got := usdx.BalanceOf(borrower); got.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("second claim paid again: got %s", got)
	}
}
