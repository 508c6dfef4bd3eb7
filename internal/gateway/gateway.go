package gateway

import (
	"errors"
	"math/big"

	"github.com/google/uuid"
)

// Collaborator contracts consumed by the vault core. The vault never talks to
// a concrete ledger, asset, or market; everything side-effecting is injected
// through these interfaces so the core stays free of host-platform knowledge
// and tests can substitute simulated implementations.

var (
	ErrInsufficientBalance   = errors.New("gateway: insufficient balance")
	ErrInsufficientAllowance = errors.New("gateway: insufficient allowance")
	ErrNotMinter             = errors.New("gateway: holder is not an approved minter")
	ErrSlippage              = errors.New("gateway: output below minimum")
	ErrInsufficientLiquidity = errors.New("gateway: insufficient liquidity")
)

// Token is the fungible-ledger surface shared by the pegged asset and the
// reference currency. Caller identity is explicit: there is no ambient sender.
type Token interface {
	BalanceOf(holder uuid.UUID) *big.Int
	Transfer(from, to uuid.UUID, amount *big.Int) error
	Approve(owner, spender uuid.UUID, amount *big.Int) error
}

// PeggedAsset is the ledger of the pegged (minted/burned) asset.
type PeggedAsset interface {
	Token

	Mint(to uuid.UUID, amount *big.Int) error
	// BurnFrom burns from the holder's own balance.
	BurnFrom(holder uuid.UUID, amount *big.Int) error

	// ConvertToReference values a pegged amount in reference-currency units
	// at the target price; ConvertToPegged is the inverse.
	ConvertToReference(amount *big.Int) *big.Int
	ConvertToPegged(refAmount *big.Int) *big.Int
	TargetPrice() *big.Int

	IsValidMinter(holder uuid.UUID) bool

	Owner() uuid.UUID
	Balancer() uuid.UUID
	Treasury() uuid.UUID
}

// ReferenceCurrency is the ledger of the reference currency (the unit all
// vault valuations are expressed in).
type ReferenceCurrency interface {
	Token
}

// Asset is the investment a vault deploys borrowed value into.
type Asset interface {
	// CurrentValue returns the asset's valuation in reference-currency units.
	CurrentValue() *big.Int
	Deposit(refAmount, peggedAmount *big.Int) error
	// Withdraw moves up to amount (reference units) back to the vault.
	Withdraw(amount *big.Int) error
	WithdrawRewards(to uuid.UUID) error
	// Liquidate transfers amount of reference-currency value to the recipient.
	Liquidate(to uuid.UUID, amount *big.Int) error
}

// Swap is an external market for exchanging the pegged asset against the
// reference currency with minimum-output protection.
type Swap interface {
	BuyPegged(buyer uuid.UUID, refAmount, minOut *big.Int) (*big.Int, error)
	SellPegged(seller uuid.UUID, peggedAmount, minOut *big.Int) (*big.Int, error)
}
