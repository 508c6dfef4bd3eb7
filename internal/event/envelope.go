package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates event payloads in the log.
type Type int32

const (
	TypeUnknown Type = iota
	TypeVaultCreated
	TypeConfigured
	TypeProposalToggled
	TypeFrozenSet
	TypeBorrowerChanged
	TypeBorrowed
	TypeRepaid
	TypeFeePaid
	TypeInvested
	TypeDivested
	TypeRewardsCollected
	TypeBought
	TypeSold
	TypeSweepExchanged
	TypeWithdrawn
	TypeMarginCalled
	TypeLiquidated
)

// Envelope wraps every event appended to the log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine.
	Sequence int64

	// Vault the operation targeted.
	VaultID uuid.UUID

	Type Type

	// Stable dedup key carried through from the command.
	IdempotencyKey string

	// Engine clock at apply time.
	Timestamp time.Time

	// JSON-encoded event-specific payload.
	Payload []byte

	// SHA-256 of vault state AFTER applying this event.
	StateHash [32]byte

	// Previous event's state hash (chain integrity).
	PrevHash [32]byte
}

// Event is the interface all payloads implement.
type Event interface {
	Type() Type
	Vault() uuid.UUID
}

func (t Type) String() string {
	switch t {
	case TypeVaultCreated:
		return "VaultCreated"
	case TypeConfigured:
		return "Configured"
	case TypeProposalToggled:
		return "ProposalToggled"
	case TypeFrozenSet:
		return "FrozenSet"
	case TypeBorrowerChanged:
		return "BorrowerChanged"
	case TypeBorrowed:
		return "Borrowed"
	case TypeRepaid:
		return "Repaid"
	case TypeFeePaid:
		return "FeePaid"
	case TypeInvested:
		return "Invested"
	case TypeDivested:
		return "Divested"
	case TypeRewardsCollected:
		return "RewardsCollected"
	case TypeBought:
		return "Bought"
	case TypeSold:
		return "Sold"
	case TypeSweepExchanged:
		return "SweepExchanged"
	case TypeWithdrawn:
		return "Withdrawn"
	case TypeMarginCalled:
		return "MarginCalled"
	case TypeLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}
