package vault_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"stabilizer/internal/gateway"
	"stabilizer/internal/vault"
)

// --- Test helpers ---

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// testEnv wires a vault against in-memory ledgers at a 1.0 target price,
// so n reference micro-units convert to exactly n*1e12 pegged wei.
type testEnv struct {
	sweep *gateway.MemLedger
	usdx  *gateway.MemLedger
	amm   *gateway.MemSwap
	asset *gateway.MemAsset
	v     *vault.Vault
	clock *fakeClock

	admin    uuid.UUID
	balancer uuid.UUID
	treasury uuid.UUID
	borrower uuid.UUID
	vaultID  uuid.UUID
}

// ref converts reference micro-units to a big.Int.
func ref(n int64) *big.Int { return big.NewInt(n) }

// peg converts a reference-unit amount into its pegged-wei equivalent at the
// 1.0 target price.
func peg(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000))
}

type envOpts struct {
	minEquityRatio     int64
	spreadFee          int64
	liquidatorDiscount int64
	callDelay          time.Duration
	liquidatable       bool
	swapSpread         int64
	assetValue         int64 // reference micro-units held liquid by the asset
}

func newTestEnv(t *testing.T, opts envOpts) *testEnv {
	t.Helper()

	env := &testEnv{
		admin:    uuid.New(),
		balancer: uuid.New(),
		treasury: uuid.New(),
		borrower: uuid.New(),
		vaultID:  uuid.New(),
		clock:    newFakeClock(),
	}

	env.sweep = gateway.NewPeggedLedger("SWEEP", big.NewInt(1_000_000), env.admin, env.balancer, env.treasury)
	env.usdx = gateway.NewReferenceLedger("USDX")
	env.amm = gateway.NewMemSwap(env.sweep, env.usdx, opts.swapSpread)
	env.asset = gateway.NewMemAsset(env.vaultID, env.sweep, env.usdx)

	env.sweep.SetMinter(env.vaultID, true)
	if opts.assetValue > 0 {
		env.usdx.Deposit(env.asset.Account(), ref(opts.assetValue))
	}

	roles := vault.LedgerRoles{Sweep: env.sweep}
	env.v = vault.New(env.vaultID, env.borrower, env.sweep, env.usdx, env.amm, roles, opts.minEquityRatio, opts.spreadFee)
	env.v.SetClock(env.clock.Now)

	cfg := vault.Config{
		Asset:              env.asset,
		MinEquityRatio:     opts.minEquityRatio,
		SpreadFee:          opts.spreadFee,
		LiquidatorDiscount: opts.liquidatorDiscount,
		CallDelay:          opts.callDelay,
		Liquidatable:       opts.liquidatable,
	}
	if err := env.v.Configure(env.borrower, cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}
	return env
}

// defaultEnv is the standard fixture: 20% equity floor, no fee, 5% liquidator
// discount, 1h call delay, liquidatable, frictionless swap, 1.0 reference
// units of asset value.
func defaultEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, envOpts{
		minEquityRatio:     200_000,
		liquidatorDiscount: 50_000,
		callDelay:          time.Hour,
		liquidatable:       true,
		assetValue:         1_000_000,
	})
}

func mustBorrow(t *testing.T, env *testEnv, amount *big.Int) {
	t.Helper()
	if err := env.v.Borrow(env.borrower, amount); err != nil {
		t.Fatalf("borrow %s: %v", amount, err)
	}
}

func mustWithdraw(t *testing.T, env *testEnv, token vault.TokenKind, amount *big.Int) {
	t.Helper()
	if err := env.v.Withdraw(env.borrower, token, amount); err != nil {
		t.Fatalf("withdraw %s: %v", amount, err)
	}
}

// ============================================================================
// Test: configuration and roles
// ============================================================================

func TestConfigure_NonBorrowerRejected(t *testing.T) {
	env := defaultEnv(t)
	err := env.v.Configure(uuid.New(), vault.Config{Asset: env.asset})
	if !errors.Is(err, vault.ErrNotBorrower) {
		t.Errorf("got %v, want ErrNotBorrower", err)
	}
}

func TestConfigure_NilAssetRejected(t *testing.T) {
	env := defaultEnv(t)
	err := env.v.Configure(env.borrower, vault.Config{})
	if !errors.Is(err, vault.ErrNilAsset) {
		t.Errorf("got %v, want ErrNilAsset", err)
	}
}

func TestPropose_LocksSettingsUntilRejected(t *testing.T) {
	env := defaultEnv(t)

	if err := env.v.Propose(env.borrower); err != nil {
		t.Fatalf("propose: %v", err)
	}

	err := env.v.Configure(env.borrower, vault.Config{Asset: env.asset})
	if !errors.Is(err, vault.ErrSettingsDisabled) {
		t.Errorf("configure while proposed: got %v, want ErrSettingsDisabled", err)
	}
	if err := env.v.Propose(env.borrower); !errors.Is(err, vault.ErrSettingsDisabled) {
		t.Errorf("double propose: got %v, want ErrSettingsDisabled", err)
	}

	if err := env.v.Reject(env.borrower); !errors.Is(err, vault.ErrNotAdmin) {
		t.Errorf("reject by borrower: got %v, want ErrNotAdmin", err)
	}
	if err := env.v.Reject(env.admin); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := env.v.Configure(env.borrower, vault.Config{Asset: env.asset, MinEquityRatio: 100_000}); err != nil {
		t.Fatalf("configure after reject: %v", err)
	}
}

func TestReject_WhileEnabled(t *testing.T) {
	env := defaultEnv(t)
	if err := env.v.Reject(env.admin); !errors.Is(err, vault.ErrSettingsEnabled) {
		t.Errorf("got %v, want ErrSettingsEnabled", err)
	}
}

func TestSetFrozen_AdminOnly(t *testing.T) {
	env := defaultEnv(t)
	if err := env.v.SetFrozen(env.borrower, true); !errors.Is(err, vault.ErrNotAdmin) {
		t.Errorf("got %v, want ErrNotAdmin", err)
	}
	if err := env.v.SetFrozen(env.admin, true); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if got := env.v.Status(); got != vault.StatusFrozen {
		t.Errorf("status: got %v, want Frozen", got)
	}

	if err := env.v.Borrow(env.borrower, peg(100)); !errors.Is(err, vault.ErrFrozen) {
		t.Errorf("borrow while frozen: got %v, want ErrFrozen", err)
	}
}

func TestSetBorrower(t *testing.T) {
	env := defaultEnv(t)
	if err := env.v.SetBorrower(env.admin, uuid.Nil); !errors.Is(err, vault.ErrZeroAddress) {
		t.Errorf("zero borrower: got %v, want ErrZeroAddress", err)
	}

	next := uuid.New()
	if err := env.v.SetBorrower(env.admin, next); err != nil {
		t.Fatalf("set borrower: %v", err)
	}
	if got := env.v.Borrower(); got != next {
		t.Errorf("got %s, want %s", got, next)
	}
	if err := env.v.Borrow(env.borrower, peg(100)); !errors.Is(err, vault.ErrNotBorrower) {
		t.Errorf("old borrower: got %v, want ErrNotBorrower", err)
	}
}

// ============================================================================
// Test: borrow
// ============================================================================

func TestBorrow_MintsIntoVault(t *testing.T) {
	env := defaultEnv(t)

	mustBorrow(t, env, peg(700_000))

	if got := env.sweep.BalanceOf(env.vaultID); got.Cmp(peg(700_000)) != 0 {
		t.Errorf("vault balance: got %s, want %s", got, peg(700_000))
	}
	view := env.v.Snapshot()
	if view.SweepBorrowed.Cmp(peg(700_000)) != 0 {
		t.Errorf("borrowed: got %s, want %s", view.SweepBorrowed, peg(700_000))
	}
	// Minted funds stay in the vault, so junior value is untouched:
	// 1,000,000 / 1,700,000 ≈ 58.8%.
	if view.EquityRatio != 588_235 {
		t.Errorf("equity ratio: got %d, want 588235", view.EquityRatio)
	}
}

func TestBorrow_EquityFloorBlocks(t *testing.T) {
	// 50% floor, 1.0 asset value: ratio after borrowing d is
	// 1,000,000 / (1,000,000 + d), so anything above 1,000,000 fails.
	env := newTestEnv(t, envOpts{minEquityRatio: 500_000, assetValue: 1_000_000})

	err := env.v.Borrow(env.borrower, peg(1_500_000))
	if !errors.Is(err, vault.ErrEquityRatioExceeded) {
		t.Fatalf("got %v, want ErrEquityRatioExceeded", err)
	}
	// Failed borrow leaves no trace.
	if got := env.sweep.BalanceOf(env.vaultID); got.Sign() != 0 {
		t.Errorf("balance after failed borrow: got %s, want 0", got)
	}
	if got := env.v.GetDebt(); got.Sign() != 0 {
		t.Errorf("debt after failed borrow: got %s, want 0", got)
	}

	mustBorrow(t, env, peg(1_000_000))
}

func TestBorrow_DebtGrowsMonotonically(t *testing.T) {
	env := defaultEnv(t)

	prev := new(big.Int)
	for i := 0; i < 5; i++ {
		mustBorrow(t, env, peg(10_000))
		debt := env.v.GetDebt()
		if debt.Cmp(prev) <= 0 {
			t.Fatalf("debt did not grow: %s -> %s", prev, debt)
		}
		prev = debt
	}
}

func TestBorrow_RequiresMinter(t *testing.T) {
	env := defaultEnv(t)
	env.sweep.SetMinter(env.vaultID, false)

	if err := env.v.Borrow(env.borrower, peg(100)); !errors.Is(err, vault.ErrInvalidMinter) {
		t.Errorf("got %v, want ErrInvalidMinter", err)
	}
}

func TestBorrow_ZeroAmount(t *testing.T) {
	env := defaultEnv(t)
	if err := env.v.Borrow(env.borrower, new(big.Int)); !errors.Is(err, vault.ErrZeroAmount) {
		t.Errorf("got %v, want ErrZeroAmount", err)
	}
}

// ============================================================================
// Test: fee accrual
// ============================================================================

func TestAccruedFee_LinearAndMonotonic(t *testing.T) {
	// 1% per annum on 700,000 units of principal.
	env := newTestEnv(t, envOpts{
		minEquityRatio: 200_000,
		spreadFee:      10_000,
		assetValue:     1_000_000,
	})
	mustBorrow(t, env, peg(700_000))

	prev := new(big.Int)
	for i := 0; i < 4; i++ {
		env.clock.Advance(91 * 24 * time.Hour)
		fee := env.v.AccruedFee()
		if fee.Cmp(prev) <= 0 {
			t.Fatalf("fee did not grow: %s -> %s", prev, fee)
		}
		prev = fee
	}

	// A full year from the borrow is exactly 1% of principal.
	env.clock.t = time.Unix(1_700_000_000, 0).Add(365 * 24 * time.Hour)
	want := peg(7_000)
	if got := env.v.AccruedFee(); got.Cmp(want) != 0 {
		t.Errorf("full-year fee: got %s, want %s", got, want)
	}
}

func TestPayFee_SettlesToTreasuryAndResetsClock(t *testing.T) {
	env := newTestEnv(t, envOpts{
		minEquityRatio: 200_000,
		spreadFee:      10_000,
		assetValue:     1_000_000,
	})
	mustBorrow(t, env, peg(700_000))
	env.clock.Advance(365 * 24 * time.Hour)

	paid, err := env.v.PayFee(env.borrower)
	if err != nil {
		t.Fatalf("pay fee: %v", err)
	}
	if paid.Cmp(peg(7_000)) != 0 {
		t.Errorf("paid: got %s, want %s", paid, peg(7_000))
	}
	if got := env.sweep.BalanceOf(env.treasury); got.Cmp(peg(7_000)) != 0 {
		t.Errorf("treasury: got %s, want %s", got, peg(7_000))
	}
	if got := env.v.AccruedFee(); got.Sign() != 0 {
		t.Errorf("fee after settlement: got %s, want 0", got)
	}
	// Principal is untouched by a fee payment.
	if got := env.v.Snapshot().SweepBorrowed; got.Cmp(peg(700_000)) != 0 {
		t.Errorf("principal: got %s, want %s", got, peg(700_000))
	}
}

func TestPayFee_InsufficientBalance(t *testing.T) {
	env := newTestEnv(t, envOpts{
		minEquityRatio: 200_000,
		spreadFee:      10_000,
		assetValue:     1_000_000,
	})
	mustBorrow(t, env, peg(700_000))

	// Park the whole pegged balance in the asset, then let fees accrue.
	if err := env.v.Invest(env.borrower, new(big.Int), peg(700_000)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	env.clock.Advance(365 * 24 * time.Hour)

	if _, err := env.v.PayFee(env.borrower); !errors.Is(err, vault.ErrSpreadNotEnough) {
		t.Errorf("got %v, want ErrSpreadNotEnough", err)
	}
}

// ============================================================================
// Test: repay
// ============================================================================

func TestRepay_SplitsSpreadThenPrincipal(t *testing.T) {
	env := newTestEnv(t, envOpts{
		minEquityRatio: 200_000,
		spreadFee:      10_000,
		assetValue:     1_000_000,
	})
	mustBorrow(t, env, peg(700_000))
	env.clock.Advance(365 * 24 * time.Hour) // accrues 7,000

	res, err := env.v.Repay(env.borrower, peg(100_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if res.FeePaid.Cmp(peg(7_000)) != 0 {
		t.Errorf("fee: got %s, want %s", res.FeePaid, peg(7_000))
	}
	if res.PrincipalRepaid.Cmp(peg(93_000)) != 0 {
		t.Errorf("principal: got %s, want %s", res.PrincipalRepaid, peg(93_000))
	}
	if got := env.v.Snapshot().SweepBorrowed; got.Cmp(peg(607_000)) != 0 {
		t.Errorf("remaining: got %s, want %s", got, peg(607_000))
	}
	if got := env.sweep.BalanceOf(env.treasury); got.Cmp(peg(7_000)) != 0 {
		t.Errorf("treasury: got %s, want %s", got, peg(7_000))
	}
}

func TestRepay_LessThanAccruedFee(t *testing.T) {
	// A repayment smaller than the pending spread still settles the spread
	// in full; principal must never go negative.
	env := newTestEnv(t, envOpts{
		minEquityRatio: 200_000,
		spreadFee:      10_000,
		assetValue:     1_000_000,
	})
	mustBorrow(t, env, peg(700_000))
	env.clock.Advance(365 * 24 * time.Hour) // spread 7,000

	res, err := env.v.Repay(env.borrower, peg(1_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if res.FeePaid.Cmp(peg(7_000)) != 0 {
		t.Errorf("fee: got %s, want %s", res.FeePaid, peg(7_000))
	}
	if res.PrincipalRepaid.Sign() != 0 {
		t.Errorf("principal: got %s, want 0", res.PrincipalRepaid)
	}
	if got := env.v.Snapshot().SweepBorrowed; got.Cmp(peg(700_000)) != 0 {
		t.Errorf("principal moved: got %s, want %s", got, peg(700_000))
	}
}

func TestRepay_BalanceCannotCoverSpread(t *testing.T) {
	env := newTestEnv(t, envOpts{
		minEquityRatio: 200_000,
		spreadFee:      10_000,
		assetValue:     1_000_000,
	})
	mustBorrow(t, env, peg(700_000))
	if err := env.v.Invest(env.borrower, new(big.Int), peg(700_000)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	env.clock.Advance(365 * 24 * time.Hour)

	_, err := env.v.Repay(env.borrower, peg(10_000))
	if !errors.Is(err, vault.ErrSpreadNotEnough) {
		t.Errorf("got %v, want ErrSpreadNotEnough", err)
	}
}

func TestRepay_OverRepayClampsToPrincipal(t *testing.T) {
	env := defaultEnv(t)
	mustBorrow(t, env, peg(100_000))
	// Extra pegged funds on top of the minted principal.
	env.sweep.Deposit(env.vaultID, peg(500_000))

	res, err := env.v.Repay(env.borrower, peg(400_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if res.PrincipalRepaid.Cmp(peg(100_000)) != 0 {
		t.Errorf("principal: got %s, want %s", res.PrincipalRepaid, peg(100_000))
	}
	view := env.v.Snapshot()
	if view.SweepBorrowed.Sign() != 0 {
		t.Errorf("borrowed: got %s, want 0", view.SweepBorrowed)
	}
	if view.Debt.Sign() != 0 {
		t.Errorf("debt: got %s, want 0", view.Debt)
	}
	// Only the principal burned; the rest of the balance survives.
	if got := env.sweep.BalanceOf(env.vaultID); got.Cmp(peg(500_000)) != 0 {
		t.Errorf("balance: got %s, want %s", got, peg(500_000))
	}
}

func TestRepay_NonBorrowerRejected(t *testing.T) {
	env := defaultEnv(t)
	mustBorrow(t, env, peg(100_000))
	if _, err := env.v.Repay(uuid.New(), peg(100)); !errors.Is(err, vault.ErrNotBorrower) {
		t.Errorf("got %v, want ErrNotBorrower", err)
	}
}

func TestRepay_NonPositiveAmountRejected(t *testing.T) {
	// A negative amount must not reach settlement: the clamp arithmetic
	// would otherwise grow an armed margin call instead of shrinking it.
	env := newTestEnv(t, envOpts{
		minEquityRatio: 200_000,
		callDelay:      time.Hour,
		liquidatable:   false,
		assetValue:     1_000_000,
	})
	mustBorrow(t, env, peg(700_000))
	mustWithdraw(t, env, vault.TokenPegged, peg(700_000))
	if _, err := env.v.MarginCall(env.balancer, ref(400_000)); err != nil {
		t.Fatalf("margin call: %v", err)
	}

	if _, err := env.v.Repay(env.borrower, big.NewInt(-1_000_000_000)); !errors.Is(err, vault.ErrZeroAmount) {
		t.Errorf("negative amount: got %v, want ErrZeroAmount", err)
	}
	if _, err := env.v.Repay(env.borrower, new(big.Int)); !errors.Is(err, vault.ErrZeroAmount) {
		t.Errorf("zero amount: got %v, want ErrZeroAmount", err)
	}
	// The armed call is exactly where it was.
	if got := env.v.Snapshot().CallAmount; got.Cmp(peg(400_000)) != 0 {
		t.Errorf("call amount: got %s, want %s", got, peg(400_000))
	}
}

// ============================================================================
// Test: invest / divest / collect
// ============================================================================

func TestInvest_ClampsToHoldings(t *testing.T) {
	env := defaultEnv(t)
	env.usdx.Deposit(env.vaultID, ref(100_000))

	if err := env.v.Invest(env.borrower, ref(500_000), new(big.Int)); err != nil {
		t.Fatalf("invest: %v", err)
	}
	if got := env.usdx.BalanceOf(env.vaultID); got.Sign() != 0 {
		t.Errorf("vault reference: got %s, want 0", got)
	}
	// Asset gained exactly what the vault held.
	if got := env.asset.CurrentValue(); got.Cmp(ref(1_100_000)) != 0 {
		t.Errorf("asset value: got %s, want 1100000", got)
	}
}

func TestDivest_ReturnsFunds(t *testing.T) {
	env := defaultEnv(t)

	if err := env.v.Divest(env.borrower, ref(250_000)); err != nil {
		t.Fatalf("divest: %v", err)
	}
	if got := env.usdx.BalanceOf(env.vaultID); got.Cmp(ref(250_000)) != 0 {
		t.Errorf("vault reference: got %s, want 250000", got)
	}
	if got := env.asset.CurrentValue(); got.Cmp(ref(750_000)) != 0 {
		t.Errorf("asset value: got %s, want 750000", got)
	}
}

func TestCollect_PaysBorrower(t *testing.T) {
	env := defaultEnv(t)
	env.asset.AccrueRewards(ref(30_000))

	if err := env.v.Collect(env.borrower); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := env.usdx.BalanceOf(env.borrower); got.Cmp(ref(30_000)) != 0 {
		t.Errorf("borrower rewards: got %s, want 30000", got)
	}
}

// ============================================================================
// Test: market operations
// ============================================================================

func TestBuy_HonorsMinOut(t *testing.T) {
	env := newTestEnv(t, envOpts{
		minEquityRatio: 200_000,
		assetValue:     1_000_000,
		swapSpread:     10_000, // 1%
	})
	env.usdx.Deposit(env.vaultID, ref(100_000))
	env.sweep.Deposit(env.amm.Pool(), peg(1_000_000))

	// Full un-spread output is unreachable.
	if _, err := env.v.Buy(env.borrower, ref(100_000), peg(100_000)); !errors.Is(err, gateway.ErrSlippage) {
		t.Fatalf("got %v, want ErrSlippage", err)
	}

	out, err := env.v.Buy(env.borrower, ref(100_000), peg(99_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if out.Cmp(peg(99_000)) != 0 {
		t.Errorf("received: got %s, want %s", out, peg(99_000))
	}
}

func TestSell_ClampsToBalance(t *testing.T) {
	env := defaultEnv(t)
	env.sweep.Deposit(env.vaultID, peg(50_000))
	env.usdx.Deposit(env.amm.Pool(), ref(1_000_000))

	out, err := env.v.Sell(env.borrower, peg(80_000), new(big.Int))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if out.Cmp(ref(50_000)) != 0 {
		t.Errorf("received: got %s, want 50000", out)
	}
	if got := env.sweep.BalanceOf(env.vaultID); got.Sign() != 0 {
		t.Errorf("pegged left: got %s, want 0", got)
	}
}

func TestBuySweep_AtTargetPrice(t *testing.T) {
	env := defaultEnv(t)
	env.sweep.Deposit(env.vaultID, peg(40_000))
	env.usdx.Deposit(env.borrower, ref(40_000))

	out, err := env.v.BuySweep(env.borrower, ref(40_000))
	if err != nil {
		t.Fatalf("buysweep: %v", err)
	}
	if out.Cmp(peg(40_000)) != 0 {
		t.Errorf("received: got %s, want %s", out, peg(40_000))
	}
	if got := env.sweep.BalanceOf(env.borrower); got.Cmp(peg(40_000)) != 0 {
		t.Errorf("borrower pegged: got %s, want %s", got, peg(40_000))
	}
	if got := env.usdx.BalanceOf(env.vaultID); got.Cmp(ref(40_000)) != 0 {
		t.Errorf("vault reference: got %s, want 40000", got)
	}
}

func TestBuySweep_InsufficientVaultHoldings(t *testing.T) {
	env := defaultEnv(t)
	env.usdx.Deposit(env.borrower, ref(40_000))

	if _, err := env.v.BuySweep(env.borrower, ref(40_000)); !errors.Is(err, vault.ErrNotEnoughBalance) {
		t.Errorf("got %v, want ErrNotEnoughBalance", err)
	}
}

func TestSellSweep_AtTargetPrice(t *testing.T) {
	env := defaultEnv(t)
	env.usdx.Deposit(env.vaultID, ref(25_000))
	env.sweep.Deposit(env.borrower, peg(25_000))

	out, err := env.v.SellSweep(env.borrower, peg(25_000))
	if err != nil {
		t.Fatalf("sellsweep: %v", err)
	}
	if out.Cmp(ref(25_000)) != 0 {
		t.Errorf("received: got %s, want 25000", out)
	}
	if got := env.sweep.BalanceOf(env.vaultID); got.Cmp(peg(25_000)) != 0 {
		t.Errorf("vault pegged: got %s, want %s", got, peg(25_000))
	}
}

// ============================================================================
// Test: withdraw
// ============================================================================

func TestWithdraw_NoDebtUnrestricted(t *testing.T) {
	env := defaultEnv(t)
	env.usdx.Deposit(env.vaultID, ref(500_000))

	mustWithdraw(t, env, vault.TokenReference, ref(500_000))
	if got := env.usdx.BalanceOf(env.borrower); got.Cmp(ref(500_000)) != 0 {
		t.Errorf("borrower: got %s, want 500000", got)
	}
}

func TestWithdraw_EquityGateWithDebt(t *testing.T) {
	env := defaultEnv(t)
	mustBorrow(t, env, peg(700_000))

	// Taking out the whole minted amount leaves 300,000 junior on 1,000,000
	// of value: 30%, still above the 20% floor.
	mustWithdraw(t, env, vault.TokenPegged, peg(700_000))

	// Borrow 400,000 more is fine while it stays in the vault...
	mustBorrow(t, env, peg(400_000))
	// ...but withdrawing it would push junior to 300,000 of 1,000,000 against
	// 1,100,000 senior: underwater, blocked.
	err := env.v.Withdraw(env.borrower, vault.TokenPegged, peg(400_000))
	if !errors.Is(err, vault.ErrEquityRatioExceeded) {
		t.Errorf("got %v, want ErrEquityRatioExceeded", err)
	}
	if got := env.sweep.BalanceOf(env.vaultID); got.Cmp(peg(400_000)) != 0 {
		t.Errorf("failed withdraw moved funds: got %s", got)
	}
}

func TestWithdraw_InvalidToken(t *testing.T) {
	env := defaultEnv(t)
	env.usdx.Deposit(env.vaultID, ref(100))
	err := env.v.Withdraw(env.borrower, vault.TokenKind(99), ref(100))
	if !errors.Is(err, vault.ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

// ============================================================================
// Test: default predicate and status
// ============================================================================

func TestIsDefaulted_RatioBelowFloor(t *testing.T) {
	env := defaultEnv(t)
	mustBorrow(t, env, peg(700_000))
	mustWithdraw(t, env, vault.TokenPegged, peg(700_000))

	if env.v.IsDefaulted() {
		t.Fatal("healthy vault reported defaulted")
	}

	// Value collapse: 800,000 of value against 700,000 senior is 12.5%,
	// below the 20% floor.
	env.asset.SetValuationDelta(ref(-200_000))
	if !env.v.IsDefaulted() {
		t.Error("underwater vault not defaulted")
	}
	if got := env.v.Status(); got != vault.StatusDefaulted {
		t.Errorf("status: got %v, want Defaulted", got)
	}
}

func TestIsDefaulted_ExpiredMarginCall(t *testing.T) {
	env := defaultEnv(t)
	mustBorrow(t, env, peg(700_000))
	mustWithdraw(t, env, vault.TokenPegged, peg(700_000))

	// Unfundable call: nothing liquid, empty pool.
	res, err := env.v.MarginCall(env.balancer, ref(400_000))
	if err != nil {
		t.Fatalf("margin call: %v", err)
	}
	if res.Repaid.Sign() != 0 {
		t.Fatalf("expected nothing repaid, got %s", res.Repaid)
	}

	if env.v.IsDefaulted() {
		t.Error("defaulted before the call deadline")
	}
	env.clock.Advance(time.Hour + time.Second)
	if !env.v.IsDefaulted() {
		t.Error("not defaulted after the call deadline passed")
	}
}
