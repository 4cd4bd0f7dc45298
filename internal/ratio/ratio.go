// Package ratio reads per-deployment reserve quantities and classifies the
// source/target balance in D3 fixed point (integer value x1000).
package ratio

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Mode selects how the deployment's ratio is derived.
type Mode string

const (
	// ModeGross uses raw reserve quantities: source*1000/(source+target).
	ModeGross Mode = "gross"
	// ModeNetWithdrawals deducts the scaled withdrawal demand from both
	// sides before computing the ratio.
	ModeNetWithdrawals Mode = "net-withdrawals"
)

// Valid reports whether m is a known ratio mode.
func (m Mode) Valid() bool {
	return m == ModeGross || m == ModeNetWithdrawals
}

// Verdict classifies a deployment's balance state.
type Verdict int

const (
	VerdictBalanced Verdict = iota
	VerdictDeficit
	VerdictSurplus
)

func (v Verdict) String() string {
	switch v {
	case VerdictDeficit:
		return "deficit"
	case VerdictSurplus:
		return "surplus"
	default:
		return "balanced"
	}
}

// Thresholds carry the process-wide D3 classification bounds.
type Thresholds struct {
	SourceRatioD3    int64
	MaxSourceRatioD3 int64
}

// Snapshot is one observation of a deployment's reserves.
type Snapshot struct {
	SourceValue      *big.Int
	TargetValue      *big.Int
	WithdrawalDemand *big.Int
	RatioD3          int64
	// Degenerate marks a snapshot whose denominator was not positive;
	// RatioD3 is meaningless and the verdict is forced to Balanced.
	Degenerate bool
}

// Total returns source+target-withdrawal, the ratio denominator.
func (s Snapshot) Total() *big.Int {
	total := new(big.Int).Add(s.SourceValue, s.TargetValue)
	if s.WithdrawalDemand != nil {
		total.Sub(total, s.WithdrawalDemand)
	}
	return total
}

// ComputeRatioD3 derives the D3 ratio (source-w)*1000/(source+target-w).
// ok is false when the denominator is not positive; no division happens then.
func ComputeRatioD3(source, target, withdrawal *big.Int) (int64, bool) {
	if withdrawal == nil {
		withdrawal = new(big.Int)
	}
	denominator := new(big.Int).Add(source, target)
	denominator.Sub(denominator, withdrawal)
	if denominator.Sign() <= 0 {
		return 0, false
	}
	numerator := new(big.Int).Sub(source, withdrawal)
	numerator.Mul(numerator, big.NewInt(1000))
	return new(big.Int).Quo(numerator, denominator).Int64(), true
}

// Classify applies the asymmetric thresholds. Boundary values classify by
// the inclusive operators: <= floor is Deficit, >= ceiling is Surplus.
func Classify(ratioD3 int64, t Thresholds) Verdict {
	switch {
	case ratioD3 <= t.SourceRatioD3:
		return VerdictDeficit
	case ratioD3 >= t.MaxSourceRatioD3:
		return VerdictSurplus
	default:
		return VerdictBalanced
	}
}

// BridgeDust is the cross-chain transfer quantum; amounts below it are
// truncated by the bridge, so deficits round up to a multiple of it.
var BridgeDust = big.NewInt(1_000_000_000_000)

// DeficitAmount sizes the transfer that moves a deficit ratio back to the
// floor of the balanced band, rounded up to the bridge dust quantum.
func DeficitAmount(ratioD3 int64, t Thresholds, total *big.Int) *big.Int {
	gap := t.SourceRatioD3 - ratioD3
	if gap <= 0 || total == nil || total.Sign() <= 0 {
		return new(big.Int)
	}
	amount := new(big.Int).Mul(big.NewInt(gap), total)
	amount.Quo(amount, big.NewInt(1000))
	amount.Add(amount, new(big.Int).Sub(BridgeDust, big.NewInt(1)))
	amount.Quo(amount, BridgeDust)
	amount.Mul(amount, BridgeDust)
	if amount.Sign() == 0 {
		return new(big.Int).Set(BridgeDust)
	}
	return amount
}

// FormatPercent renders a D3 ratio as a percentage string, e.g. 45 -> "4.5%".
func FormatPercent(ratioD3 int64) string {
	return decimal.NewFromInt(ratioD3).Div(decimal.NewFromInt(10)).StringFixed(1) + "%"
}
