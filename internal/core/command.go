package core

import (
	"math/big"

	"github.com/google/uuid"

	"stabilizer/internal/event"
	"stabilizer/internal/vault"
)

// Op identifies a vault operation requested by a command.
type Op int32

const (
	OpUnknown Op = iota
	OpCreateVault
	OpConfigure
	OpPropose
	OpReject
	OpSetFrozen
	OpSetBorrower
	OpBorrow
	OpRepay
	OpPayFee
	OpInvest
	OpDivest
	OpCollect
	OpBuy
	OpSell
	OpBuySweep
	OpSellSweep
	OpWithdraw
	OpMarginCall
	OpLiquidate
)

func (o Op) String() string {
	switch o {
	case OpCreateVault:
		return "CreateVault"
	case OpConfigure:
		return "Configure"
	case OpPropose:
		return "Propose"
	case OpReject:
		return "Reject"
	case OpSetFrozen:
		return "SetFrozen"
	case OpSetBorrower:
		return "SetBorrower"
	case OpBorrow:
		return "Borrow"
	case OpRepay:
		return "Repay"
	case OpPayFee:
		return "PayFee"
	case OpInvest:
		return "Invest"
	case OpDivest:
		return "Divest"
	case OpCollect:
		return "Collect"
	case OpBuy:
		return "Buy"
	case OpSell:
		return "Sell"
	case OpBuySweep:
		return "BuySweep"
	case OpSellSweep:
		return "SellSweep"
	case OpWithdraw:
		return "Withdraw"
	case OpMarginCall:
		return "MarginCall"
	case OpLiquidate:
		return "Liquidate"
	default:
		return "Unknown"
	}
}

// EventType returns the event an operation persists as. The event log stores
// event type names, so durable dedup lookups must translate the op through
// this mapping to hit the stored rows.
func (o Op) EventType() event.Type {
	switch o {
	case OpCreateVault:
		return event.TypeVaultCreated
	case OpConfigure:
		return event.TypeConfigured
	case OpPropose, OpReject:
		return event.TypeProposalToggled
	case OpSetFrozen:
		return event.TypeFrozenSet
	case OpSetBorrower:
		return event.TypeBorrowerChanged
	case OpBorrow:
		return event.TypeBorrowed
	case OpRepay:
		return event.TypeRepaid
	case OpPayFee:
		return event.TypeFeePaid
	case OpInvest:
		return event.TypeInvested
	case OpDivest:
		return event.TypeDivested
	case OpCollect:
		return event.TypeRewardsCollected
	case OpBuy:
		return event.TypeBought
	case OpSell:
		return event.TypeSold
	case OpBuySweep, OpSellSweep:
		return event.TypeSweepExchanged
	case OpWithdraw:
		return event.TypeWithdrawn
	case OpMarginCall:
		return event.TypeMarginCalled
	case OpLiquidate:
		return event.TypeLiquidated
	default:
		return event.TypeUnknown
	}
}

// Command is a fully validated operation request, ready for the engine.
// Amount fields are interpreted per operation:
//
//	Borrow/Repay/Divest/Withdraw/MarginCall: Amount
//	Invest:                                  Amount (reference), Amount2 (pegged)
//	Buy/Sell:                                Amount (input leg), MinOut
//	BuySweep/SellSweep:                      Amount (input leg)
type Command struct {
	Op             Op
	VaultID        uuid.UUID
	Caller         uuid.UUID
	IdempotencyKey string

	Amount  *big.Int
	Amount2 *big.Int
	MinOut  *big.Int

	Token    vault.TokenKind
	Config   *vault.Config
	Borrower uuid.UUID
	Flag     bool
}
