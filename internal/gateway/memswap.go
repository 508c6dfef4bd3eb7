package gateway

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// MemSwap is an in-memory swap venue quoting at the pegged asset's target
// price minus a configurable spread. It settles against a funded pool account
// and enforces the caller's minimum-output floor.
type MemSwap struct {
	mu sync.Mutex

	pool  uuid.UUID
	sweep *MemLedger
	usdx  *MemLedger

	// spread in 1e6 scale, charged on the output leg. 5000 = 0.5%.
	spread int64
}

func NewMemSwap(sweep, usdx *MemLedger, spread int64) *MemSwap {
	return &MemSwap{
		pool:   uuid.New(),
		sweep:  sweep,
		usdx:   usdx,
		spread: spread,
	}
}

// Pool exposes the venue's inventory account for funding.
func (s *MemSwap) Pool() uuid.UUID { return s.pool }

func (s *MemSwap) applySpread(out *big.Int) *big.Int {
	fee := new(big.Int).Mul(out, big.NewInt(s.spread))
	fee.Quo(fee, big.NewInt(1_000_000))
	return new(big.Int).Sub(out, fee)
}

func (s *MemSwap) BuyPegged(buyer uuid.UUID, refAmount, minOut *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.applySpread(s.sweep.ConvertToPegged(refAmount))
	if out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: out=%s min=%s", ErrSlippage, out, minOut)
	}
	if s.sweep.BalanceOf(s.pool).Cmp(out) < 0 {
		return nil, fmt.Errorf("%w: pool pegged inventory", ErrInsufficientLiquidity)
	}
	if err := s.usdx.Transfer(buyer, s.pool, refAmount); err != nil {
		return nil, err
	}
	if err := s.sweep.Transfer(s.pool, buyer, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MemSwap) SellPegged(seller uuid.UUID, peggedAmount, minOut *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.applySpread(s.sweep.ConvertToReference(peggedAmount))
	if out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: out=%s min=%s", ErrSlippage, out, minOut)
	}
	if s.usdx.BalanceOf(s.pool).Cmp(out) < 0 {
		return nil, fmt.Errorf("%w: pool reference inventory", ErrInsufficientLiquidity)
	}
	if err := s.sweep.Transfer(seller, s.pool, peggedAmount); err != nil {
		return nil, err
	}
	if err := s.usdx.Transfer(s.pool, seller, out); err != nil {
		return nil, err
	}
	return out, nil
}
