package ingestion_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"stabilizer/internal/core"
	"stabilizer/internal/ingestion"
	"stabilizer/internal/vault"
)

func parseJSON(t *testing.T, v interface{}) (core.Command, error) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.ParseCommand(data)
}

func TestParseBorrow(t *testing.T) {
	payload := map[string]interface{}{
		"op":              "Borrow",
		"vault_id":        "550e8400-e29b-41d4-a716-446655440000",
		"caller":          "660e8400-e29b-41d4-a716-446655440001",
		"idempotency_key": "borrow-42",
		"amount":          "700000000000000000",
	}

	cmd, err := parseJSON(t, payload)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Op != core.OpBorrow {
		t.Errorf("op: got %v, want OpBorrow", cmd.Op)
	}
	if cmd.VaultID.String() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("vault_id: got %s", cmd.VaultID)
	}
	if cmd.IdempotencyKey != "borrow-42" {
		t.Errorf("idempotency_key: got %s", cmd.IdempotencyKey)
	}
	want, _ := new(big.Int).SetString("700000000000000000", 10)
	if cmd.Amount.Cmp(want) != 0 {
		t.Errorf("amount: got %s, want %s", cmd.Amount, want)
	}
}

func TestParseConfigure(t *testing.T) {
	payload := map[string]interface{}{
		"op":       "Configure",
		"vault_id": "550e8400-e29b-41d4-a716-446655440000",
		"caller":   "660e8400-e29b-41d4-a716-446655440001",
		"config": map[string]interface{}{
			"min_equity_ratio":    int64(200_000),
			"spread_fee":          int64(10_000),
			"loan_limit":          "1000000000000000000",
			"liquidator_discount": int64(50_000),
			"call_delay_seconds":  int64(3600),
			"liquidatable":        true,
			"link":                "pool-7",
		},
	}

	cmd, err := parseJSON(t, payload)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	cfg := cmd.Config
	if cfg == nil {
		t.Fatal("config block missing")
	}
	if cfg.MinEquityRatio != 200_000 {
		t.Errorf("min_equity_ratio: got %d", cfg.MinEquityRatio)
	}
	if cfg.SpreadFee != 10_000 {
		t.Errorf("spread_fee: got %d", cfg.SpreadFee)
	}
	if cfg.CallDelay.Seconds() != 3600 {
		t.Errorf("call_delay: got %v", cfg.CallDelay)
	}
	if !cfg.Liquidatable {
		t.Error("liquidatable: got false")
	}
	if cfg.Link != "pool-7" {
		t.Errorf("link: got %s", cfg.Link)
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if cfg.LoanLimit.Cmp(want) != 0 {
		t.Errorf("loan_limit: got %s", cfg.LoanLimit)
	}
}

func TestParseWithdraw_TokenKinds(t *testing.T) {
	for name, want := range map[string]vault.TokenKind{
		"pegged":    vault.TokenPegged,
		"reference": vault.TokenReference,
		"":          vault.TokenPegged, // default
	} {
		payload := map[string]interface{}{
			"op":       "Withdraw",
			"vault_id": "550e8400-e29b-41d4-a716-446655440000",
			"caller":   "660e8400-e29b-41d4-a716-446655440001",
			"amount":   "100",
		}
		if name != "" {
			payload["token"] = name
		}
		cmd, err := parseJSON(t, payload)
		if err != nil {
			t.Fatalf("token %q: %v", name, err)
		}
		if cmd.Token != want {
			t.Errorf("token %q: got %v, want %v", name, cmd.Token, want)
		}
	}
}

func TestParse_UnknownOp(t *testing.T) {
	_, err := parseJSON(t, map[string]interface{}{"op": "Teleport"})
	if err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestParse_EmptyOpTolerated(t *testing.T) {
	// The HTTP surface carries the operation in the URL and fills it in
	// after parsing.
	cmd, err := parseJSON(t, map[string]interface{}{
		"vault_id": "550e8400-e29b-41d4-a716-446655440000",
		"caller":   "660e8400-e29b-41d4-a716-446655440001",
	})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.Op != core.OpUnknown {
		t.Errorf("op: got %v, want OpUnknown", cmd.Op)
	}
}

func TestParse_NegativeAmountRejected(t *testing.T) {
	_, err := parseJSON(t, map[string]interface{}{
		"op":       "Borrow",
		"vault_id": "550e8400-e29b-41d4-a716-446655440000",
		"caller":   "660e8400-e29b-41d4-a716-446655440001",
		"amount":   "-5",
	})
	if err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestParse_BadUUID(t *testing.T) {
	_, err := parseJSON(t, map[string]interface{}{
		"op":       "Borrow",
		"vault_id": "not-a-uuid",
	})
	if err == nil {
		t.Fatal("expected error for malformed vault_id")
	}
}

func TestParse_InvalidToken(t *testing.T) {
	_, err := parseJSON(t, map[string]interface{}{
		"op":       "Withdraw",
		"vault_id": "550e8400-e29b-41d4-a716-446655440000",
		"token":    "doubloons",
	})
	if err == nil {
		t.Fatal("expected error for unknown token kind")
	}
}
