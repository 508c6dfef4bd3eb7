package fixed

import "math/big"

// Scales used across the vault accounting model.
// Ratios (equity ratio, fee rates, discounts) are signed int64 at 1e6 scale.
// Asset amounts are *big.Int at the token's native precision (1e18-style),
// so intermediate products always go through big.Int.
const (
	// RatioScale is the fixed-point scale for ratios: 1_000_000 == 100%.
	RatioScale int64 = 1_000_000

	// MinRatio is the floor applied to every computed equity ratio (-100%).
	MinRatio int64 = -1_000_000

	// SecondsPerYear is the accrual denominator for per-annum fee rates.
	SecondsPerYear int64 = 31_536_000
)

var ratioScaleBig = big.NewInt(RatioScale)

// Zero returns a fresh zero amount.
func Zero() *big.Int { return new(big.Int) }

// Clone returns an independent copy of v (nil-safe).
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// IsPositive reports whether v is strictly greater than zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// MulRatio returns amount * ratio / RatioScale, truncated toward zero.
func MulRatio(amount *big.Int, ratio int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(ratio))
	return out.Quo(out, ratioScaleBig)
}

// DivRatio returns amount * RatioScale / ratio, truncated toward zero.
// ratio must be nonzero.
func DivRatio(amount *big.Int, ratio int64) *big.Int {
	out := new(big.Int).Mul(amount, ratioScaleBig)
	return out.Quo(out, big.NewInt(ratio))
}

// Ratio returns part * RatioScale / whole as a signed 1e6-scaled ratio,
// clamped to MinRatio. A zero whole yields 0, matching the equity-ratio
// contract for an empty vault.
func Ratio(part, whole *big.Int) int64 {
	if IsZero(whole) {
		return 0
	}
	scaled := new(big.Int).Mul(part, ratioScaleBig)
	scaled.Quo(scaled, whole)

	// The clamp keeps deeply underwater vaults at -100% instead of an
	// unbounded negative excursion.
	min := big.NewInt(MinRatio)
	if scaled.Cmp(min) < 0 {
		return MinRatio
	}
	if !scaled.IsInt64() {
		// Ratios above int64 range only occur with absurd inputs; saturate.
		return int64(^uint64(0) >> 1)
	}
	return scaled.Int64()
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// ClampNonNegative returns a copy of v floored at zero.
func ClampNonNegative(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return new(big.Int)
	}
	return Clone(v)
}

// LinearAccrual returns principal * rate * elapsedSeconds / (RatioScale * SecondsPerYear),
// the per-annum fee accrued over elapsed seconds, truncated toward zero.
func LinearAccrual(principal *big.Int, rate int64, elapsedSeconds int64) *big.Int {
	if IsZero(principal) || rate == 0 || elapsedSeconds <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(principal, big.NewInt(rate))
	out.Mul(out, big.NewInt(elapsedSeconds))
	den := new(big.Int).Mul(ratioScaleBig, big.NewInt(SecondsPerYear))
	return out.Quo(out, den)
}
