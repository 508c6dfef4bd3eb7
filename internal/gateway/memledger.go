package gateway

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// PeggedUnit is one whole pegged token (18 decimal places).
var PeggedUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ReferenceUnit is one whole reference-currency unit (6 decimal places),
// which is also the scale of the target price.
var ReferenceUnit = big.NewInt(1_000_000)

// MemLedger is an in-memory fungible ledger implementing both the pegged-asset
// and reference-currency contracts. It stands in for the host platform's token
// runtime in the service wiring and in tests.
type MemLedger struct {
	mu sync.Mutex

	symbol     string
	balances   map[uuid.UUID]*big.Int
	allowances map[allowanceKey]*big.Int
	minters    map[uuid.UUID]bool

	// targetPrice is reference units per whole pegged token.
	targetPrice *big.Int

	owner    uuid.UUID
	balancer uuid.UUID
	treasury uuid.UUID
}

type allowanceKey struct {
	owner   uuid.UUID
	spender uuid.UUID
}

// NewReferenceLedger creates a plain fungible ledger.
func NewReferenceLedger(symbol string) *MemLedger {
	return &MemLedger{
		symbol:     symbol,
		balances:   make(map[uuid.UUID]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		minters:    make(map[uuid.UUID]bool),
	}
}

// NewPeggedLedger creates a ledger with minter gating, a target price, and
// the protocol role identities.
func NewPeggedLedger(symbol string, targetPrice *big.Int, owner, balancer, treasury uuid.UUID) *MemLedger {
	l := NewReferenceLedger(symbol)
	l.targetPrice = new(big.Int).Set(targetPrice)
	l.owner = owner
	l.balancer = balancer
	l.treasury = treasury
	return l
}

func (l *MemLedger) Symbol() string { return l.symbol }

func (l *MemLedger) BalanceOf(holder uuid.UUID) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(holder)
}

func (l *MemLedger) balance(holder uuid.UUID) *big.Int {
	if b, ok := l.balances[holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *MemLedger) credit(holder uuid.UUID, amount *big.Int) {
	b, ok := l.balances[holder]
	if !ok {
		b = new(big.Int)
		l.balances[holder] = b
	}
	b.Add(b, amount)
}

func (l *MemLedger) debit(holder uuid.UUID, amount *big.Int) error {
	b, ok := l.balances[holder]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holder=%s need=%s", ErrInsufficientBalance, l.symbol, holder, amount)
	}
	b.Sub(b, amount)
	return nil
}

func (l *MemLedger) Transfer(from, to uuid.UUID, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%s: negative transfer amount", l.symbol)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

// Approve records an allowance. The simulated ledgers do not route transfers
// through allowances, but collaborators that mimic pull-based deposits check it.
func (l *MemLedger) Approve(owner, spender uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the current allowance from owner to spender.
func (l *MemLedger) Allowance(owner, spender uuid.UUID) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (l *MemLedger) Mint(to uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.minters[to] {
		return fmt.Errorf("%w: %s", ErrNotMinter, to)
	}
	l.credit(to, amount)
	return nil
}

func (l *MemLedger) BurnFrom(holder uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debit(holder, amount)
}

// SetMinter toggles a holder on the minter allowlist.
func (l *MemLedger) SetMinter(holder uuid.UUID, approved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minters[holder] = approved
}

func (l *MemLedger) IsValidMinter(holder uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minters[holder]
}

// Deposit credits a holder directly. Test/bootstrap helper: models external
// funds arriving on the ledger.
func (l *MemLedger) Deposit(holder uuid.UUID, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(holder, amount)
}

// ConvertToReference values a pegged amount in reference units:
// amount * targetPrice / PeggedUnit.
func (l *MemLedger) ConvertToReference(amount *big.Int) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := new(big.Int).Mul(amount, l.targetPrice)
	return out.Quo(out, PeggedUnit)
}

// ConvertToPegged is the inverse: refAmount * PeggedUnit / targetPrice.
func (l *MemLedger) ConvertToPegged(refAmount *big.Int) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := new(big.Int).Mul(refAmount, PeggedUnit)
	return out.Quo(out, l.targetPrice)
}

func (l *MemLedger) TargetPrice() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.targetPrice)
}

// SetTargetPrice updates the peg valuation (reference units per whole token).
func (l *MemLedger) SetTargetPrice(price *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targetPrice = new(big.Int).Set(price)
}

func (l *MemLedger) Owner() uuid.UUID    { return l.owner }
func (l *MemLedger) Balancer() uuid.UUID { return l.balancer }
func (l *MemLedger) Treasury() uuid.UUID { return l.treasury }
