// Package oracle classifies per-deployment price feeds as fresh or stale.
package oracle

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"bridge-sentinel/internal/chain"
)

// Verdict is the health classification of one oracle reading. Stale means
// the feed stopped updating; Deviated means it updates but reports a value
// the on-chain holdings contradict.
type Verdict int

const (
	VerdictFresh Verdict = iota
	VerdictStale
	VerdictDeviated
)

func (v Verdict) String() string {
	switch v {
	case VerdictStale:
		return "stale"
	case VerdictDeviated:
		return "deviated"
	default:
		return "fresh"
	}
}

// Reading is the raw observation behind a verdict.
type Reading struct {
	Value       *big.Int
	LastUpdated time.Time
	Age         time.Duration
}

// Checker reads an oracle's last-update timestamp and classifies it against
// a single process-wide freshness threshold.
type Checker struct {
	threshold time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewChecker builds a freshness checker. threshold is the maximum tolerated
// age of the last oracle update.
func NewChecker(threshold time.Duration, logger zerolog.Logger) *Checker {
	return &Checker{
		threshold: threshold,
		now:       time.Now,
		logger:    logger.With().Str("component", "oracle_checker").Logger(),
	}
}

// Threshold exposes the configured freshness bound.
func (c *Checker) Threshold() time.Duration {
	return c.threshold
}

// Check fetches lastUpdated and value from the oracle contract. A read
// error (tagged chain.ErrRead) means "unknown": no verdict is implied and
// the caller must not alert on it. No retry happens here; retry policy
// lives in the chain client.
func (c *Checker) Check(ctx context.Context, reader chain.Reader, oracleAddr common.Address) (Reading, Verdict, error) {
	lastUpdatedRaw, err := reader.ReadUint(ctx, oracleAddr, "lastUpdated")
	if err != nil {
		return Reading{}, VerdictFresh, err
	}

	value, err := reader.ReadUint(ctx, oracleAddr, "value")
	if err != nil {
		return Reading{}, VerdictFresh, err
	}

	// A timestamp beyond the int64 range cannot be a recent update;
	// Int64() would wrap it negative, so classify before converting.
	if !lastUpdatedRaw.IsInt64() {
		c.logger.Warn().Str("last_updated", lastUpdatedRaw.String()).Msg("oracle timestamp out of range")
		return Reading{Value: value}, VerdictStale, nil
	}

	lastUpdated := time.Unix(lastUpdatedRaw.Int64(), 0)
	age := c.now().Sub(lastUpdated)

	reading := Reading{
		Value:       value,
		LastUpdated: lastUpdated,
		Age:         age,
	}

	verdict := VerdictFresh
	if age > c.threshold {
		verdict = VerdictStale
	}
	return reading, verdict, nil
}

// shareScale is the core's share denomination.
var shareScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Validate cross-checks a fresh reading against the value the current
// holdings imply: (sourceValue+targetValue)*1e18/totalSupply, with the
// supply read from the source core. A feed that is recent but disagrees
// with the holdings is classified VerdictDeviated.
func (c *Checker) Validate(ctx context.Context, reader chain.Reader, core common.Address, reading Reading, sourceValue, targetValue *big.Int) (Verdict, error) {
	totalSupply, err := reader.ReadUint(ctx, core, "totalSupply")
	if err != nil {
		return VerdictFresh, err
	}
	if totalSupply.Sign() == 0 {
		// No shares minted: the implied value is undefined.
		return VerdictFresh, nil
	}

	implied := new(big.Int).Add(sourceValue, targetValue)
	implied.Mul(implied, shareScale)
	implied.Quo(implied, totalSupply)

	if reading.Value == nil || reading.Value.Cmp(implied) != 0 {
		c.logger.Warn().
			Str("core", core.Hex()).
			Str("reported", bigString(reading.Value)).
			Str("implied", implied.String()).
			Msg("oracle value deviates from holdings")
		return VerdictDeviated, nil
	}
	return VerdictFresh, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
