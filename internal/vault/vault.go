package vault

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"stabilizer/internal/fixed"
	"stabilizer/internal/gateway"
)

// TokenKind selects which ledger a withdrawal draws from.
type TokenKind int

const (
	TokenPegged TokenKind = iota
	TokenReference
)

func (tk TokenKind) String() string {
	switch tk {
	case TokenPegged:
		return "pegged"
	case TokenReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Status is the derived lifecycle state. It is never stored; see Vault.Status.
type Status int

const (
	StatusActive Status = iota
	StatusFrozen
	StatusDefaulted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusFrozen:
		return "Frozen"
	case StatusDefaulted:
		return "Defaulted"
	default:
		return "Unknown"
	}
}

// RolePolicy answers protocol-level role checks. The borrower is a vault
// field; balancer and admin come from whatever authority the host wires in.
type RolePolicy interface {
	IsAdmin(caller uuid.UUID) bool
	IsBalancer(caller uuid.UUID) bool
}

// LedgerRoles derives admin and balancer from the pegged-asset ledger's
// accessors, matching the upstream protocol layout.
type LedgerRoles struct {
	Sweep gateway.PeggedAsset
}

func (r LedgerRoles) IsAdmin(caller uuid.UUID) bool    { return caller == r.Sweep.Owner() }
func (r LedgerRoles) IsBalancer(caller uuid.UUID) bool { return caller == r.Sweep.Balancer() }

// Config is the borrower-settable parameter block, applied atomically.
type Config struct {
	Asset              gateway.Asset
	MinEquityRatio     int64    // 1e6 scale, signed
	SpreadFee          int64    // 1e6 scale, per annum
	LoanLimit          *big.Int // pegged units, advisory
	LiquidatorDiscount int64    // 1e6 scale
	CallDelay          time.Duration
	Liquidatable       bool
	Link               string
}

// Vault is a per-borrower debt position: it mints the pegged asset against an
// injected investment, enforcing the minimum equity ratio on every action that
// grows the senior tranche or shrinks the junior one.
//
// Every operation runs under the vault's mutex; gateway calls happen inside
// the critical section so collaborators never observe half-updated state, and
// local fields are only written once the side effects have succeeded.
type Vault struct {
	mu sync.Mutex

	id       uuid.UUID // also the vault's ledger account
	borrower uuid.UUID
	link     string

	minEquityRatio     int64
	spreadFee          int64
	spreadDate         int64 // unix seconds of last fee settlement
	loanLimit          *big.Int
	liquidatorDiscount int64
	callDelay          time.Duration

	callTime   int64 // unix seconds; 0 means no call in flight
	callAmount *big.Int

	sweepBorrowed *big.Int

	liquidatable    bool
	settingsEnabled bool
	frozen          bool

	sweep gateway.PeggedAsset
	usdx  gateway.ReferenceCurrency
	asset gateway.Asset
	amm   gateway.Swap
	roles RolePolicy

	now func() time.Time
}

// New creates a vault with its initial configuration. Settings start
// borrower-controlled and the fee clock starts at creation time.
func New(
	id, borrower uuid.UUID,
	sweep gateway.PeggedAsset,
	usdx gateway.ReferenceCurrency,
	amm gateway.Swap,
	roles RolePolicy,
	minEquityRatio, spreadFee int64,
) *Vault {
	v := &Vault{
		id:              id,
		borrower:        borrower,
		minEquityRatio:  minEquityRatio,
		spreadFee:       spreadFee,
		loanLimit:       new(big.Int),
		callAmount:      new(big.Int),
		sweepBorrowed:   new(big.Int),
		settingsEnabled: true,
		sweep:           sweep,
		usdx:            usdx,
		amm:             amm,
		roles:           roles,
		now:             time.Now,
	}
	v.spreadDate = v.now().Unix()
	return v
}

// Restore reconstructs a vault's stored fields from a persisted view during
// recovery. Gateway handles are wired fresh by the host; the asset binding
// comes back through a Configure call or host wiring.
func Restore(
	view View,
	sweep gateway.PeggedAsset,
	usdx gateway.ReferenceCurrency,
	amm gateway.Swap,
	roles RolePolicy,
	asset gateway.Asset,
) *Vault {
	return &Vault{
		id:                 view.ID,
		borrower:           view.Borrower,
		link:               view.Link,
		minEquityRatio:     view.MinEquityRatio,
		spreadFee:          view.SpreadFee,
		spreadDate:         view.SpreadDate,
		loanLimit:          fixed.Clone(view.LoanLimit),
		liquidatorDiscount: view.LiquidatorDiscount,
		callDelay:          time.Duration(view.CallDelaySeconds) * time.Second,
		callTime:           view.CallTime,
		callAmount:         fixed.Clone(view.CallAmount),
		sweepBorrowed:      fixed.Clone(view.SweepBorrowed),
		liquidatable:       view.Liquidatable,
		settingsEnabled:    view.SettingsEnabled,
		frozen:             view.Frozen,
		sweep:              sweep,
		usdx:               usdx,
		asset:              asset,
		amm:                amm,
		roles:              roles,
		now:                time.Now,
	}
}

// SetClock replaces the time source. Intended for tests and deterministic replay.
func (v *Vault) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// ID returns the vault's identity, which is also its ledger account.
func (v *Vault) ID() uuid.UUID { return v.id }

// Borrower returns the current borrower identity.
func (v *Vault) Borrower() uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.borrower
}

// === Derived views ===

// AccruedFee returns the spread accrued on the outstanding principal since
// the last settlement, in pegged units.
func (v *Vault) AccruedFee() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accruedFee()
}

func (v *Vault) accruedFee() *big.Int {
	if fixed.IsZero(v.sweepBorrowed) {
		return new(big.Int)
	}
	elapsed := v.now().Unix() - v.spreadDate
	return fixed.LinearAccrual(v.sweepBorrowed, v.spreadFee, elapsed)
}

// GetDebt returns principal plus accrued fee, in pegged units.
func (v *Vault) GetDebt() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.getDebt()
}

func (v *Vault) getDebt() *big.Int {
	return new(big.Int).Add(v.sweepBorrowed, v.accruedFee())
}

// GetCurrentValue returns the vault's total value in reference units:
// invested value plus own reference and pegged holdings.
func (v *Vault) GetCurrentValue() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.getCurrentValue()
}

func (v *Vault) getCurrentValue() *big.Int {
	total := new(big.Int)
	if v.asset != nil {
		total.Add(total, v.asset.CurrentValue())
	}
	total.Add(total, v.usdx.BalanceOf(v.id))
	total.Add(total, v.sweep.ConvertToReference(v.sweep.BalanceOf(v.id)))
	return total
}

// GetJuniorTrancheValue returns total value minus the senior principal,
// in reference units. Negative when the vault is underwater.
func (v *Vault) GetJuniorTrancheValue() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	senior := v.sweep.ConvertToReference(v.sweepBorrowed)
	return new(big.Int).Sub(v.getCurrentValue(), senior)
}

// CalculateEquityRatio projects the equity ratio after hypothetically
// borrowing sweepDelta more pegged units and removing usdxDelta reference
// units of junior value. Pure with respect to vault state.
func (v *Vault) CalculateEquityRatio(sweepDelta, usdxDelta *big.Int) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calculateEquityRatio(sweepDelta, usdxDelta)
}

func (v *Vault) calculateEquityRatio(sweepDelta, usdxDelta *big.Int) int64 {
	totalValue := v.getCurrentValue()
	totalValue.Add(totalValue, v.sweep.ConvertToReference(sweepDelta))
	totalValue.Sub(totalValue, usdxDelta)

	seniorPegged := new(big.Int).Add(v.sweepBorrowed, sweepDelta)
	senior := v.sweep.ConvertToReference(seniorPegged)

	junior := new(big.Int).Sub(totalValue, senior)
	return fixed.Ratio(junior, totalValue)
}

// GetEquityRatio returns the current equity ratio, 1e6-scaled.
func (v *Vault) GetEquityRatio() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calculateEquityRatio(new(big.Int), new(big.Int))
}

// IsDefaulted reports whether an unmet margin call has expired or the equity
// ratio sits below the configured floor.
func (v *Vault) IsDefaulted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isDefaulted()
}

func (v *Vault) isDefaulted() bool {
	if v.callAmount.Sign() > 0 && v.now().Unix() > v.callTime {
		return true
	}
	return v.calculateEquityRatio(new(big.Int), new(big.Int)) < v.minEquityRatio
}

// LiquidationValue returns the collateral value a liquidator receives for
// clearing the full debt: convert(debt) / (1 - discount), in reference units.
func (v *Vault) LiquidationValue() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.liquidationValue()
}

func (v *Vault) liquidationValue() *big.Int {
	debtRef := v.sweep.ConvertToReference(v.getDebt())
	return fixed.DivRatio(debtRef, fixed.RatioScale-v.liquidatorDiscount)
}

// Status derives the lifecycle state from stored fields.
func (v *Vault) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.isDefaulted() {
		return StatusDefaulted
	}
	if v.frozen {
		return StatusFrozen
	}
	return StatusActive
}

// View is a consistent copy of the vault's stored and derived state.
type View struct {
	ID                 uuid.UUID `json:"id"`
	Borrower           uuid.UUID `json:"borrower"`
	Link               string    `json:"link,omitempty"`
	MinEquityRatio     int64     `json:"min_equity_ratio"`
	SpreadFee          int64     `json:"spread_fee"`
	SpreadDate         int64     `json:"spread_date"`
	LoanLimit          *big.Int  `json:"loan_limit"`
	LiquidatorDiscount int64     `json:"liquidator_discount"`
	CallDelaySeconds   int64     `json:"call_delay_seconds"`
	CallTime           int64     `json:"call_time"`
	CallAmount         *big.Int  `json:"call_amount"`
	SweepBorrowed      *big.Int  `json:"sweep_borrowed"`
	Liquidatable       bool      `json:"liquidatable"`
	SettingsEnabled    bool      `json:"settings_enabled"`
	Frozen             bool      `json:"frozen"`

	AccruedFee   *big.Int `json:"accrued_fee"`
	Debt         *big.Int `json:"debt"`
	CurrentValue *big.Int `json:"current_value"`
	JuniorValue  *big.Int `json:"junior_value"`
	EquityRatio  int64    `json:"equity_ratio"`
	Defaulted    bool     `json:"defaulted"`
	Status       string   `json:"status"`
}

// Snapshot captures stored and derived state under one lock acquisition.
func (v *Vault) Snapshot() View {
	v.mu.Lock()
	defer v.mu.Unlock()

	senior := v.sweep.ConvertToReference(v.sweepBorrowed)
	current := v.getCurrentValue()
	status := StatusActive
	if v.isDefaulted() {
		status = StatusDefaulted
	} else if v.frozen {
		status = StatusFrozen
	}

	return View{
		ID:                 v.id,
		Borrower:           v.borrower,
		Link:               v.link,
		MinEquityRatio:     v.minEquityRatio,
		SpreadFee:          v.spreadFee,
		SpreadDate:         v.spreadDate,
		LoanLimit:          fixed.Clone(v.loanLimit),
		LiquidatorDiscount: v.liquidatorDiscount,
		CallDelaySeconds:   int64(v.callDelay / time.Second),
		CallTime:           v.callTime,
		CallAmount:         fixed.Clone(v.callAmount),
		SweepBorrowed:      fixed.Clone(v.sweepBorrowed),
		Liquidatable:       v.liquidatable,
		SettingsEnabled:    v.settingsEnabled,
		Frozen:             v.frozen,

		AccruedFee:   v.accruedFee(),
		Debt:         v.getDebt(),
		CurrentValue: current,
		JuniorValue:  new(big.Int).Sub(current, senior),
		EquityRatio:  v.calculateEquityRatio(new(big.Int), new(big.Int)),
		Defaulted:    v.isDefaulted(),
		Status:       status.String(),
	}
}
