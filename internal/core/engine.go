package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stabilizer/internal/event"
	"stabilizer/internal/fixed"
	"stabilizer/internal/gateway"
	"stabilizer/internal/observability"
	"stabilizer/internal/vault"
)

// ErrVaultNotFound is returned for commands addressing an unknown vault.
var ErrVaultNotFound = errors.New("core: vault not found")

// Output carries an applied event and the post-state view to the persistence
// and publish sides.
type Output struct {
	Envelope event.Envelope
	Payload  event.Event
	View     vault.View
}

// Engine owns the vault registry and applies commands one at a time per
// vault: the vault's own lock serializes the operation and all gateway calls
// inside it, while independent vaults run concurrently. Sequencing, hashing,
// and fan-out happen under the engine's apply lock so the event log stays a
// single totally ordered chain.
type Engine struct {
	applyMu sync.Mutex // sequencing + hash chain
	regMu   sync.RWMutex

	vaults   map[uuid.UUID]*vault.Vault
	ordLocks map[uuid.UUID]*sync.Mutex
	sequence int64
	hasher   *StateHasher

	sweep gateway.PeggedAsset
	usdx  gateway.ReferenceCurrency
	amm   gateway.Swap
	roles vault.RolePolicy

	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	log         zerolog.Logger

	persistChan chan<- Output
	publishChan chan<- Output

	onVaultCreated func(id uuid.UUID)
	assetFactory   func(id uuid.UUID) gateway.Asset

	now func() time.Time
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Sweep gateway.PeggedAsset
	Usdx  gateway.ReferenceCurrency
	Amm   gateway.Swap
	Roles vault.RolePolicy

	StartSequence int64
	DBChecker     DBIdempotencyChecker
	LRUCapacity   int

	Metrics     *observability.Metrics
	PersistChan chan<- Output
	PublishChan chan<- Output

	// OnVaultCreated runs after a vault is registered, before its creation
	// event is emitted. Used to grant the vault account minter rights.
	OnVaultCreated func(id uuid.UUID)

	// AssetFactory builds the investment gateway bound to a vault. Wire
	// commands cannot carry an Asset implementation, so Configure fills it
	// in from here when the command's config block leaves it nil.
	AssetFactory func(id uuid.UUID) gateway.Asset
}

func NewEngine(deps Deps) *Engine {
	capacity := deps.LRUCapacity
	if capacity <= 0 {
		capacity = 100_000
	}
	return &Engine{
		vaults:      make(map[uuid.UUID]*vault.Vault),
		ordLocks:    make(map[uuid.UUID]*sync.Mutex),
		sequence:    deps.StartSequence,
		hasher:      NewStateHasher(),
		sweep:       deps.Sweep,
		usdx:        deps.Usdx,
		amm:         deps.Amm,
		roles:       deps.Roles,
		idempotency: NewIdempotencyChecker(capacity, deps.DBChecker),
		metrics:     deps.Metrics,
		log:         observability.NewLogger("engine"),
		persistChan: deps.PersistChan,
		publishChan: deps.PublishChan,

		onVaultCreated: deps.OnVaultCreated,
		assetFactory:   deps.AssetFactory,

		now: time.Now,
	}
}

// SetClock replaces the engine clock (and is applied to vaults it creates).
func (e *Engine) SetClock(now func() time.Time) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	e.now = now
}

// Vault resolves a vault by ID.
func (e *Engine) Vault(id uuid.UUID) (*vault.Vault, bool) {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	v, ok := e.vaults[id]
	return v, ok
}

// orderingLock returns the mutex serializing apply for one vault ID.
func (e *Engine) orderingLock(id uuid.UUID) *sync.Mutex {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	mu, ok := e.ordLocks[id]
	if !ok {
		mu = new(sync.Mutex)
		e.ordLocks[id] = mu
	}
	return mu
}

// VaultIDs lists all registered vaults.
func (e *Engine) VaultIDs() []uuid.UUID {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	ids := make([]uuid.UUID, 0, len(e.vaults))
	for id := range e.vaults {
		ids = append(ids, id)
	}
	return ids
}

// Restore re-registers a vault during recovery without emitting an event.
func (e *Engine) Restore(v *vault.Vault) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.vaults[v.ID()] = v
}

// Sequence returns the last assigned event sequence.
func (e *Engine) Sequence() int64 {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	return e.sequence
}

// StateHash returns the current tip of the state-hash chain.
func (e *Engine) StateHash() [32]byte {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	return e.hasher.GetPrevHash()
}

// Views snapshots every registered vault.
func (e *Engine) Views() []vault.View {
	ids := e.VaultIDs()
	views := make([]vault.View, 0, len(ids))
	for _, id := range ids {
		if v, ok := e.Vault(id); ok {
			views = append(views, v.Snapshot())
		}
	}
	return views
}

// Apply executes a command. A duplicate idempotency key returns (nil, nil):
// already applied, nothing to do. On success the resulting event has been
// handed to the persist channel (blocking) and publish channel (best effort).
func (e *Engine) Apply(cmd Command) (event.Event, error) {
	start := time.Now()
	op := cmd.Op.String()

	if cmd.IdempotencyKey != "" && e.idempotency.IsDuplicate(op, cmd.Op.EventType().String(), cmd.IdempotencyKey) {
		e.log.Debug().Str("op", op).Str("key", cmd.IdempotencyKey).Msg("duplicate command skipped")
		return nil, nil
	}

	// The per-vault ordering lock keeps the operation, its post-state
	// snapshot, and the sequence/hash assignment atomic with respect to
	// other commands addressing the same vault. Without it the envelope's
	// digest could reflect a concurrently applied later operation.
	ord := e.orderingLock(cmd.VaultID)
	ord.Lock()

	payload, v, err := e.dispatch(cmd)
	if err != nil {
		ord.Unlock()
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		}
		e.log.Info().Str("op", op).Str("vault", cmd.VaultID.String()).Err(err).Msg("operation rejected")
		return nil, err
	}

	view := v.Snapshot()
	data, err := json.Marshal(payload)
	if err != nil {
		ord.Unlock()
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	digest, err := json.Marshal(view)
	if err != nil {
		ord.Unlock()
		return nil, fmt.Errorf("marshal state digest: %w", err)
	}

	e.applyMu.Lock()
	e.sequence++
	seq := e.sequence
	prev := e.hasher.GetPrevHash()
	hash := e.hasher.ComputeHash(seq, digest)
	e.applyMu.Unlock()
	ord.Unlock()

	env := event.Envelope{
		Sequence:       seq,
		VaultID:        payload.Vault(),
		Type:           payload.Type(),
		IdempotencyKey: cmd.IdempotencyKey,
		Timestamp:      e.now(),
		Payload:        data,
		StateHash:      hash,
		PrevHash:       prev,
	}
	out := Output{Envelope: env, Payload: payload, View: view}

	// Persistence is the source of truth: block rather than lose an event.
	if e.persistChan != nil {
		e.persistChan <- out
	}
	// Outbound publishing is lossy under pressure; consumers can replay
	// from the event log.
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if cmd.IdempotencyKey != "" {
		e.idempotency.MarkProcessed(op, cmd.IdempotencyKey)
	}
	e.observe(op, view, time.Since(start), seq)
	return payload, nil
}

func (e *Engine) dispatch(cmd Command) (event.Event, *vault.Vault, error) {
	// Commands built by hand (or from an empty HTTP body) may carry nil
	// amounts; normalize so the vault layer only ever sees real big.Ints.
	if cmd.Amount == nil {
		cmd.Amount = new(big.Int)
	}
	if cmd.Amount2 == nil {
		cmd.Amount2 = new(big.Int)
	}
	if cmd.MinOut == nil {
		cmd.MinOut = new(big.Int)
	}

	if cmd.Op == OpCreateVault {
		return e.createVault(cmd)
	}

	v, ok := e.Vault(cmd.VaultID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrVaultNotFound, cmd.VaultID)
	}

	switch cmd.Op {
	case OpConfigure:
		if cmd.Config == nil {
			return nil, nil, fmt.Errorf("configure: missing config block")
		}
		if cmd.Config.Asset == nil && e.assetFactory != nil {
			cmd.Config.Asset = e.assetFactory(v.ID())
		}
		if err := v.Configure(cmd.Caller, *cmd.Config); err != nil {
			return nil, nil, err
		}
		return &event.Configured{
			VaultID:            v.ID(),
			MinEquityRatio:     cmd.Config.MinEquityRatio,
			SpreadFee:          cmd.Config.SpreadFee,
			LoanLimit:          fixed.Clone(cmd.Config.LoanLimit),
			LiquidatorDiscount: cmd.Config.LiquidatorDiscount,
			CallDelaySeconds:   int64(cmd.Config.CallDelay / time.Second),
			Liquidatable:       cmd.Config.Liquidatable,
			Link:               cmd.Config.Link,
		}, v, nil

	case OpPropose:
		if err := v.Propose(cmd.Caller); err != nil {
			return nil, nil, err
		}
		return &event.ProposalToggled{VaultID: v.ID(), SettingsEnabled: false}, v, nil

	case OpReject:
		if err := v.Reject(cmd.Caller); err != nil {
			return nil, nil, err
		}
		return &event.ProposalToggled{VaultID: v.ID(), SettingsEnabled: true}, v, nil

	case OpSetFrozen:
		if err := v.SetFrozen(cmd.Caller, cmd.Flag); err != nil {
			return nil, nil, err
		}
		return &event.FrozenSet{VaultID: v.ID(), Frozen: cmd.Flag}, v, nil

	case OpSetBorrower:
		if err := v.SetBorrower(cmd.Caller, cmd.Borrower); err != nil {
			return nil, nil, err
		}
		return &event.BorrowerChanged{VaultID: v.ID(), Borrower: cmd.Borrower}, v, nil

	case OpBorrow:
		if err := v.Borrow(cmd.Caller, cmd.Amount); err != nil {
			return nil, nil, err
		}
		return &event.Borrowed{
			VaultID:       v.ID(),
			Amount:        fixed.Clone(cmd.Amount),
			SweepBorrowed: v.Snapshot().SweepBorrowed,
		}, v, nil

	case OpRepay:
		res, err := v.Repay(cmd.Caller, cmd.Amount)
		if err != nil {
			return nil, nil, err
		}
		e.recordFeePaid(v.ID(), res.FeePaid)
		return &event.Repaid{
			VaultID:         v.ID(),
			Amount:          fixed.Clone(cmd.Amount),
			FeePaid:         res.FeePaid,
			PrincipalRepaid: res.PrincipalRepaid,
			SweepBorrowed:   v.Snapshot().SweepBorrowed,
		}, v, nil

	case OpPayFee:
		paid, err := v.PayFee(cmd.Caller)
		if err != nil {
			return nil, nil, err
		}
		e.recordFeePaid(v.ID(), paid)
		return &event.FeePaid{VaultID: v.ID(), Amount: paid}, v, nil

	case OpInvest:
		if err := v.Invest(cmd.Caller, cmd.Amount, cmd.Amount2); err != nil {
			return nil, nil, err
		}
		return &event.Invested{
			VaultID:     v.ID(),
			UsdxAmount:  fixed.Clone(cmd.Amount),
			SweepAmount: fixed.Clone(cmd.Amount2),
		}, v, nil

	case OpDivest:
		if err := v.Divest(cmd.Caller, cmd.Amount); err != nil {
			return nil, nil, err
		}
		return &event.Divested{VaultID: v.ID(), Amount: fixed.Clone(cmd.Amount)}, v, nil

	case OpCollect:
		if err := v.Collect(cmd.Caller); err != nil {
			return nil, nil, err
		}
		return &event.RewardsCollected{VaultID: v.ID(), Borrower: v.Borrower()}, v, nil

	case OpBuy:
		received, err := v.Buy(cmd.Caller, cmd.Amount, cmd.MinOut)
		if err != nil {
			return nil, nil, err
		}
		return &event.Bought{VaultID: v.ID(), UsdxIn: fixed.Clone(cmd.Amount), SweepOut: received}, v, nil

	case OpSell:
		received, err := v.Sell(cmd.Caller, cmd.Amount, cmd.MinOut)
		if err != nil {
			return nil, nil, err
		}
		return &event.Sold{VaultID: v.ID(), SweepIn: fixed.Clone(cmd.Amount), UsdxOut: received}, v, nil

	case OpBuySweep:
		out, err := v.BuySweep(cmd.Caller, cmd.Amount)
		if err != nil {
			return nil, nil, err
		}
		return &event.SweepExchanged{
			VaultID:   v.ID(),
			Direction: "buy",
			AmountIn:  fixed.Clone(cmd.Amount),
			AmountOut: out,
		}, v, nil

	case OpSellSweep:
		out, err := v.SellSweep(cmd.Caller, cmd.Amount)
		if err != nil {
			return nil, nil, err
		}
		return &event.SweepExchanged{
			VaultID:   v.ID(),
			Direction: "sell",
			AmountIn:  fixed.Clone(cmd.Amount),
			AmountOut: out,
		}, v, nil

	case OpWithdraw:
		if err := v.Withdraw(cmd.Caller, cmd.Token, cmd.Amount); err != nil {
			return nil, nil, err
		}
		return &event.Withdrawn{
			VaultID: v.ID(),
			Token:   cmd.Token.String(),
			Amount:  fixed.Clone(cmd.Amount),
		}, v, nil

	case OpMarginCall:
		res, err := v.MarginCall(cmd.Caller, cmd.Amount)
		if err != nil {
			return nil, nil, err
		}
		if e.metrics != nil {
			e.metrics.MarginCalls.Inc()
		}
		e.recordFeePaid(v.ID(), res.FeePaid)
		return &event.MarginCalled{
			VaultID:    v.ID(),
			CallAmount: res.CallAmount,
			Deadline:   res.Deadline,
			FeePaid:    res.FeePaid,
			Repaid:     res.Repaid,
		}, v, nil

	case OpLiquidate:
		res, err := v.Liquidate(cmd.Caller)
		if err != nil {
			if e.metrics != nil && errors.Is(err, vault.ErrNotEnoughAssets) {
				e.metrics.LiquidationShort.Inc()
			}
			return nil, nil, err
		}
		if e.metrics != nil {
			e.metrics.Liquidations.Inc()
		}
		return &event.Liquidated{
			VaultID:      v.ID(),
			Liquidator:   res.Liquidator,
			Debt:         res.Debt,
			Payout:       res.Payout,
			PeggedLeg:    res.PeggedLeg,
			ReferenceLeg: res.ReferenceLeg,
			AssetLeg:     res.AssetLeg,
		}, v, nil

	default:
		return nil, nil, fmt.Errorf("unknown operation %d", cmd.Op)
	}
}

func (e *Engine) createVault(cmd Command) (event.Event, *vault.Vault, error) {
	id := cmd.VaultID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var minEq, fee int64
	if cmd.Config != nil {
		minEq = cmd.Config.MinEquityRatio
		fee = cmd.Config.SpreadFee
	}

	v := vault.New(id, cmd.Borrower, e.sweep, e.usdx, e.amm, e.roles, minEq, fee)
	v.SetClock(e.now)

	e.regMu.Lock()
	if _, exists := e.vaults[id]; exists {
		e.regMu.Unlock()
		return nil, nil, fmt.Errorf("vault %s already exists", id)
	}
	e.vaults[id] = v
	e.regMu.Unlock()

	if e.onVaultCreated != nil {
		e.onVaultCreated(id)
	}

	return &event.VaultCreated{
		VaultID:        id,
		Borrower:       cmd.Borrower,
		MinEquityRatio: minEq,
		SpreadFee:      fee,
	}, v, nil
}

func (e *Engine) recordFeePaid(id uuid.UUID, amount *big.Int) {
	if e.metrics == nil || amount == nil || amount.Sign() == 0 {
		return
	}
	e.metrics.FeePaidTotal.WithLabelValues(id.String()).Add(approxFloat(amount))
}

func (e *Engine) observe(op string, view vault.View, elapsed time.Duration, seq int64) {
	if e.metrics == nil {
		return
	}
	e.metrics.OpsApplied.WithLabelValues(op).Inc()
	e.metrics.OpDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	e.metrics.Sequence.Set(float64(seq))

	id := view.ID.String()
	e.metrics.EquityRatio.WithLabelValues(id).Set(float64(view.EquityRatio) / float64(fixed.RatioScale))
	e.metrics.DebtValue.WithLabelValues(id).Set(approxFloat(view.Debt))
	e.metrics.CallAmount.WithLabelValues(id).Set(approxFloat(view.CallAmount))

	breach := 0.0
	if view.LoanLimit.Sign() > 0 && view.SweepBorrowed.Cmp(view.LoanLimit) > 0 {
		breach = 1.0
	}
	e.metrics.LoanLimitBreach.WithLabelValues(id).Set(breach)
}

func approxFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, vault.ErrNotBorrower),
		errors.Is(err, vault.ErrNotBalancer),
		errors.Is(err, vault.ErrNotAdmin):
		return "authorization"
	case errors.Is(err, vault.ErrFrozen),
		errors.Is(err, vault.ErrSettingsDisabled),
		errors.Is(err, vault.ErrSettingsEnabled),
		errors.Is(err, vault.ErrNotLiquidatable),
		errors.Is(err, vault.ErrNotDefaulted):
		return "state"
	case errors.Is(err, vault.ErrZeroAmount),
		errors.Is(err, vault.ErrZeroAddress),
		errors.Is(err, vault.ErrNilAsset),
		errors.Is(err, vault.ErrInvalidToken):
		return "validation"
	case errors.Is(err, vault.ErrNotEnoughBalance),
		errors.Is(err, vault.ErrSpreadNotEnough),
		errors.Is(err, vault.ErrNotEnoughAssets):
		return "insufficient_funds"
	case errors.Is(err, vault.ErrEquityRatioExceeded):
		return "risk_limit"
	case errors.Is(err, vault.ErrInvalidMinter):
		return "invalid_minter"
	case errors.Is(err, ErrVaultNotFound):
		return "not_found"
	default:
		return "external"
	}
}
