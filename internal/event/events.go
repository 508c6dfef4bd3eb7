package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Payloads for every vault operation. Amounts are big.Int at ledger precision;
// ratios and rates are 1e6-scaled int64.

type VaultCreated struct {
	VaultID        uuid.UUID `json:"vault_id"`
	Borrower       uuid.UUID `json:"borrower"`
	MinEquityRatio int64     `json:"min_equity_ratio"`
	SpreadFee      int64     `json:"spread_fee"`
}

func (e *VaultCreated) Type() Type       { return TypeVaultCreated }
func (e *VaultCreated) Vault() uuid.UUID { return e.VaultID }

type Configured struct {
	VaultID            uuid.UUID `json:"vault_id"`
	MinEquityRatio     int64     `json:"min_equity_ratio"`
	SpreadFee          int64     `json:"spread_fee"`
	LoanLimit          *big.Int  `json:"loan_limit"`
	LiquidatorDiscount int64     `json:"liquidator_discount"`
	CallDelaySeconds   int64     `json:"call_delay_seconds"`
	Liquidatable       bool      `json:"liquidatable"`
	Link               string    `json:"link,omitempty"`
}

func (e *Configured) Type() Type       { return TypeConfigured }
func (e *Configured) Vault() uuid.UUID { return e.VaultID }

type ProposalToggled struct {
	VaultID         uuid.UUID `json:"vault_id"`
	SettingsEnabled bool      `json:"settings_enabled"`
}

func (e *ProposalToggled) Type() Type       { return TypeProposalToggled }
func (e *ProposalToggled) Vault() uuid.UUID { return e.VaultID }

type FrozenSet struct {
	VaultID uuid.UUID `json:"vault_id"`
	Frozen  bool      `json:"frozen"`
}

func (e *FrozenSet) Type() Type       { return TypeFrozenSet }
func (e *FrozenSet) Vault() uuid.UUID { return e.VaultID }

type BorrowerChanged struct {
	VaultID  uuid.UUID `json:"vault_id"`
	Borrower uuid.UUID `json:"borrower"`
}

func (e *BorrowerChanged) Type() Type       { return TypeBorrowerChanged }
func (e *BorrowerChanged) Vault() uuid.UUID { return e.VaultID }

type Borrowed struct {
	VaultID       uuid.UUID `json:"vault_id"`
	Amount        *big.Int  `json:"amount"`
	SweepBorrowed *big.Int  `json:"sweep_borrowed"`
}

func (e *Borrowed) Type() Type       { return TypeBorrowed }
func (e *Borrowed) Vault() uuid.UUID { return e.VaultID }

type Repaid struct {
	VaultID         uuid.UUID `json:"vault_id"`
	Amount          *big.Int  `json:"amount"`
	FeePaid         *big.Int  `json:"fee_paid"`
	PrincipalRepaid *big.Int  `json:"principal_repaid"`
	SweepBorrowed   *big.Int  `json:"sweep_borrowed"`
}

func (e *Repaid) Type() Type       { return TypeRepaid }
func (e *Repaid) Vault() uuid.UUID { return e.VaultID }

type FeePaid struct {
	VaultID uuid.UUID `json:"vault_id"`
	Amount  *big.Int  `json:"amount"`
}

func (e *FeePaid) Type() Type       { return TypeFeePaid }
func (e *FeePaid) Vault() uuid.UUID { return e.VaultID }

type Invested struct {
	VaultID     uuid.UUID `json:"vault_id"`
	UsdxAmount  *big.Int  `json:"usdx_amount"`
	SweepAmount *big.Int  `json:"sweep_amount"`
}

func (e *Invested) Type() Type       { return TypeInvested }
func (e *Invested) Vault() uuid.UUID { return e.VaultID }

type Divested struct {
	VaultID uuid.UUID `json:"vault_id"`
	Amount  *big.Int  `json:"amount"`
}

func (e *Divested) Type() Type       { return TypeDivested }
func (e *Divested) Vault() uuid.UUID { return e.VaultID }

type RewardsCollected struct {
	VaultID  uuid.UUID `json:"vault_id"`
	Borrower uuid.UUID `json:"borrower"`
}

func (e *RewardsCollected) Type() Type       { return TypeRewardsCollected }
func (e *RewardsCollected) Vault() uuid.UUID { return e.VaultID }

type Bought struct {
	VaultID  uuid.UUID `json:"vault_id"`
	UsdxIn   *big.Int  `json:"usdx_in"`
	SweepOut *big.Int  `json:"sweep_out"`
}

func (e *Bought) Type() Type       { return TypeBought }
func (e *Bought) Vault() uuid.UUID { return e.VaultID }

type Sold struct {
	VaultID uuid.UUID `json:"vault_id"`
	SweepIn *big.Int  `json:"sweep_in"`
	UsdxOut *big.Int  `json:"usdx_out"`
}

func (e *Sold) Type() Type       { return TypeSold }
func (e *Sold) Vault() uuid.UUID { return e.VaultID }

type SweepExchanged struct {
	VaultID   uuid.UUID `json:"vault_id"`
	Direction string    `json:"direction"` // "buy" or "sell"
	AmountIn  *big.Int  `json:"amount_in"`
	AmountOut *big.Int  `json:"amount_out"`
}

func (e *SweepExchanged) Type() Type       { return TypeSweepExchanged }
func (e *SweepExchanged) Vault() uuid.UUID { return e.VaultID }

type Withdrawn struct {
	VaultID uuid.UUID `json:"vault_id"`
	Token   string    `json:"token"`
	Amount  *big.Int  `json:"amount"`
}

func (e *Withdrawn) Type() Type       { return TypeWithdrawn }
func (e *Withdrawn) Vault() uuid.UUID { return e.VaultID }

type MarginCalled struct {
	VaultID    uuid.UUID `json:"vault_id"`
	CallAmount *big.Int  `json:"call_amount"`
	Deadline   int64     `json:"deadline"`
	FeePaid    *big.Int  `json:"fee_paid"`
	Repaid     *big.Int  `json:"repaid"`
}

func (e *MarginCalled) Type() Type       { return TypeMarginCalled }
func (e *MarginCalled) Vault() uuid.UUID { return e.VaultID }

type Liquidated struct {
	VaultID      uuid.UUID `json:"vault_id"`
	Liquidator   uuid.UUID `json:"liquidator"`
	Debt         *big.Int  `json:"debt"`
	Payout       *big.Int  `json:"payout"`
	PeggedLeg    *big.Int  `json:"pegged_leg"`
	ReferenceLeg *big.Int  `json:"reference_leg"`
	AssetLeg     *big.Int  `json:"asset_leg"`
}

func (e *Liquidated) Type() Type       { return TypeLiquidated }
func (e *Liquidated) Vault() uuid.UUID { return e.VaultID }
