package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"stabilizer/internal/core"
	"stabilizer/internal/vault"
)

// Command wire format. Field names use snake_case to match upstream
// producers; amounts travel as decimal strings because they exceed the safe
// integer range of JSON numbers.
type commandJSON struct {
	Op             string      `json:"op"`
	VaultID        string      `json:"vault_id"`
	Caller         string      `json:"caller"`
	IdempotencyKey string      `json:"idempotency_key"`
	Amount         string      `json:"amount,omitempty"`
	Amount2        string      `json:"amount2,omitempty"`
	MinOut         string      `json:"min_out,omitempty"`
	Token          string      `json:"token,omitempty"`
	Borrower       string      `json:"borrower,omitempty"`
	Flag           bool        `json:"flag,omitempty"`
	Config         *configJSON `json:"config,omitempty"`
}

type configJSON struct {
	MinEquityRatio     int64  `json:"min_equity_ratio"`
	SpreadFee          int64  `json:"spread_fee"`
	LoanLimit          string `json:"loan_limit,omitempty"`
	LiquidatorDiscount int64  `json:"liquidator_discount"`
	CallDelaySeconds   int64  `json:"call_delay_seconds"`
	Liquidatable       bool   `json:"liquidatable"`
	Link               string `json:"link,omitempty"`
}

var opNames = map[string]core.Op{
	"CreateVault": core.OpCreateVault,
	"Configure":   core.OpConfigure,
	"Propose":     core.OpPropose,
	"Reject":      core.OpReject,
	"SetFrozen":   core.OpSetFrozen,
	"SetBorrower": core.OpSetBorrower,
	"Borrow":      core.OpBorrow,
	"Repay":       core.OpRepay,
	"PayFee":      core.OpPayFee,
	"Invest":      core.OpInvest,
	"Divest":      core.OpDivest,
	"Collect":     core.OpCollect,
	"Buy":         core.OpBuy,
	"Sell":        core.OpSell,
	"BuySweep":    core.OpBuySweep,
	"SellSweep":   core.OpSellSweep,
	"Withdraw":    core.OpWithdraw,
	"MarginCall":  core.OpMarginCall,
	"Liquidate":   core.OpLiquidate,
}

// ParseCommand converts a JSON command payload into a typed core.Command.
func ParseCommand(data []byte) (core.Command, error) {
	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return core.Command{}, fmt.Errorf("parse command: %w", err)
	}

	// An empty op is tolerated: the HTTP surface carries the operation in
	// the URL path and fills it in after parsing. NATS producers must set it.
	op := core.OpUnknown
	if j.Op != "" {
		var ok bool
		if op, ok = opNames[j.Op]; !ok {
			return core.Command{}, fmt.Errorf("unknown op: %q", j.Op)
		}
	}

	cmd := core.Command{
		Op:             op,
		IdempotencyKey: j.IdempotencyKey,
		Flag:           j.Flag,
	}

	var err error
	if j.VaultID != "" {
		if cmd.VaultID, err = uuid.Parse(j.VaultID); err != nil {
			return core.Command{}, fmt.Errorf("parse vault_id: %w", err)
		}
	}
	if j.Caller != "" {
		if cmd.Caller, err = uuid.Parse(j.Caller); err != nil {
			return core.Command{}, fmt.Errorf("parse caller: %w", err)
		}
	}
	if j.Borrower != "" {
		if cmd.Borrower, err = uuid.Parse(j.Borrower); err != nil {
			return core.Command{}, fmt.Errorf("parse borrower: %w", err)
		}
	}

	if cmd.Amount, err = parseAmount(j.Amount, "amount"); err != nil {
		return core.Command{}, err
	}
	if cmd.Amount2, err = parseAmount(j.Amount2, "amount2"); err != nil {
		return core.Command{}, err
	}
	if cmd.MinOut, err = parseAmount(j.MinOut, "min_out"); err != nil {
		return core.Command{}, err
	}

	switch j.Token {
	case "", "pegged":
		cmd.Token = vault.TokenPegged
	case "reference":
		cmd.Token = vault.TokenReference
	default:
		return core.Command{}, fmt.Errorf("unknown token: %q", j.Token)
	}

	if j.Config != nil {
		limit, err := parseAmount(j.Config.LoanLimit, "loan_limit")
		if err != nil {
			return core.Command{}, err
		}
		cmd.Config = &vault.Config{
			MinEquityRatio:     j.Config.MinEquityRatio,
			SpreadFee:          j.Config.SpreadFee,
			LoanLimit:          limit,
			LiquidatorDiscount: j.Config.LiquidatorDiscount,
			CallDelay:          time.Duration(j.Config.CallDelaySeconds) * time.Second,
			Liquidatable:       j.Config.Liquidatable,
			Link:               j.Config.Link,
		}
	}
	return cmd, nil
}

func parseAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: not a decimal integer: %q", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("parse %s: negative amount", field)
	}
	return v, nil
}
