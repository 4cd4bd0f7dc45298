package ratio

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultThresholds() Thresholds {
	return Thresholds{SourceRatioD3: 50, MaxSourceRatioD3: 100}
}

func TestComputeRatioD3(t *testing.T) {
	tests := []struct {
		name       string
		source     int64
		target     int64
		withdrawal int64
		want       int64
		wantOK     bool
	}{
		{name: "even split", source: 500, target: 500, want: 500, wantOK: true},
		{name: "low source", source: 5, target: 95, want: 50, wantOK: true},
		{name: "all source", source: 100, target: 0, want: 1000, wantOK: true},
		{name: "truncates toward zero", source: 1, target: 2, want: 333, wantOK: true},
		{name: "zero denominator", source: 0, target: 0, want: 0, wantOK: false},
		{name: "withdrawal consumes denominator", source: 50, target: 50, withdrawal: 100, want: 0, wantOK: false},
		{name: "withdrawal exceeds source", source: 10, target: 90, withdrawal: 20, want: -125, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ComputeRatioD3(big.NewInt(tt.source), big.NewInt(tt.target), big.NewInt(tt.withdrawal))
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestComputeRatioD3NilWithdrawal(t *testing.T) {
	got, ok := ComputeRatioD3(big.NewInt(30), big.NewInt(70), nil)
	require.True(t, ok)
	assert.Equal(t, int64(300), got)
}

func TestClassifyBoundaries(t *testing.T) {
	thresholds := defaultThresholds()

	assert.Equal(t, VerdictDeficit, Classify(49, thresholds))
	assert.Equal(t, VerdictDeficit, Classify(50, thresholds), "floor is inclusive")
	assert.Equal(t, VerdictBalanced, Classify(51, thresholds))
	assert.Equal(t, VerdictBalanced, Classify(99, thresholds))
	assert.Equal(t, VerdictSurplus, Classify(100, thresholds), "ceiling is inclusive")
	assert.Equal(t, VerdictSurplus, Classify(101, thresholds))
	assert.Equal(t, VerdictDeficit, Classify(-10, thresholds))
}

func TestDeficitAmountRoundsUpToDust(t *testing.T) {
	thresholds := defaultThresholds()

	// gap 10/1000 of a 1e18 total is 1e16 wei, already a dust multiple.
	total := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	amount := DeficitAmount(40, thresholds, total)
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	assert.Zero(t, amount.Cmp(want), "exact multiples must not be inflated")

	// A non-multiple rounds up to the next dust quantum.
	amount = DeficitAmount(40, thresholds, big.NewInt(1_000_000_000_100))
	mod := new(big.Int).Mod(amount, BridgeDust)
	assert.Zero(t, mod.Sign(), "amount must be a dust multiple")
	raw := new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_100))
	raw.Quo(raw, big.NewInt(1000))
	assert.True(t, amount.Cmp(raw) >= 0, "rounding must never shrink the transfer")
}

func TestDeficitAmountFloors(t *testing.T) {
	thresholds := defaultThresholds()

	assert.Zero(t, DeficitAmount(60, thresholds, big.NewInt(1_000_000)).Sign(), "no gap means no transfer")
	assert.Zero(t, DeficitAmount(40, thresholds, nil).Sign())
	assert.Zero(t, DeficitAmount(40, thresholds, big.NewInt(0)).Sign())

	// A real but tiny gap still moves one dust quantum.
	amount := DeficitAmount(49, thresholds, big.NewInt(1000))
	assert.Zero(t, amount.Cmp(BridgeDust))
}

func TestSnapshotTotal(t *testing.T) {
	snap := Snapshot{
		SourceValue:      big.NewInt(60),
		TargetValue:      big.NewInt(50),
		WithdrawalDemand: big.NewInt(10),
	}
	assert.Equal(t, int64(100), snap.Total().Int64())

	snap.WithdrawalDemand = nil
	assert.Equal(t, int64(110), snap.Total().Int64())
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "4.5%", FormatPercent(45))
	assert.Equal(t, "100.0%", FormatPercent(1000))
	assert.Equal(t, "0.0%", FormatPercent(0))
	assert.Equal(t, "-1.5%", FormatPercent(-15))
}

func TestModeValid(t *testing.T) {
	assert.True(t, ModeGross.Valid())
	assert.True(t, ModeNetWithdrawals.Valid())
	assert.False(t, Mode("weighted").Valid())
}
