package ratio

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"bridge-sentinel/internal/chain"
)

// Deployment carries the contract addresses one calculation touches.
type Deployment struct {
	SourceCore   common.Address
	TargetCore   common.Address
	SourceHelper common.Address
	TargetHelper common.Address
	Mode         Mode
}

// Calculator reads reserve snapshots and classifies them.
type Calculator struct {
	thresholds Thresholds
	logger     zerolog.Logger
}

// NewCalculator builds a calculator with process-wide thresholds.
func NewCalculator(thresholds Thresholds, logger zerolog.Logger) *Calculator {
	return &Calculator{
		thresholds: thresholds,
		logger:     logger.With().Str("component", "ratio_calculator").Logger(),
	}
}

// Thresholds exposes the configured bounds.
func (c *Calculator) Thresholds() Thresholds {
	return c.thresholds
}

// Snapshot fetches the deployment's source and target quantities and derives
// the D3 ratio verdict. A read error on either side is returned as-is
// (tagged chain.ErrRead); the caller must treat it as unknown.
func (c *Calculator) Snapshot(ctx context.Context, source, target chain.Reader, dep Deployment) (Snapshot, Verdict, error) {
	sourceValue, err := source.ReadUint(ctx, dep.SourceHelper, "getSourceValue", dep.SourceCore)
	if err != nil {
		return Snapshot{}, VerdictBalanced, err
	}

	targetValue, err := target.ReadUint(ctx, dep.TargetHelper, "getTargetValue", dep.TargetCore)
	if err != nil {
		return Snapshot{}, VerdictBalanced, err
	}

	withdrawal := new(big.Int)
	if dep.Mode == ModeNetWithdrawals {
		demand, supply, readErr := source.ReadUintPair(ctx, dep.SourceHelper, "getWithdrawalData", dep.SourceCore)
		if readErr != nil {
			return Snapshot{}, VerdictBalanced, readErr
		}
		// demand is denominated in shares; scale by total assets over supply.
		if supply.Sign() > 0 {
			withdrawal.Add(sourceValue, targetValue)
			withdrawal.Mul(withdrawal, demand)
			withdrawal.Quo(withdrawal, supply)
		}
	}

	snapshot := Snapshot{
		SourceValue:      sourceValue,
		TargetValue:      targetValue,
		WithdrawalDemand: withdrawal,
	}

	ratioD3, ok := ComputeRatioD3(sourceValue, targetValue, withdrawal)
	if !ok {
		snapshot.Degenerate = true
		c.logger.Debug().Msg("ratio denominator not positive, forcing balanced")
		return snapshot, VerdictBalanced, nil
	}

	snapshot.RatioD3 = ratioD3
	return snapshot, Classify(ratioD3, c.thresholds), nil
}
