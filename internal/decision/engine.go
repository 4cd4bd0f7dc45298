// Package decision combines freshness and ratio classifications into at
// most one action per unit per cycle, emitting only on state transitions.
package decision

import (
	"sync"
	"time"

	"bridge-sentinel/internal/oracle"
	"bridge-sentinel/internal/ratio"
)

// Kind is the action a decision calls for.
type Kind int

const (
	KindNone Kind = iota
	KindAlert
	KindRebalance
)

func (k Kind) String() string {
	switch k {
	case KindAlert:
		return "alert"
	case KindRebalance:
		return "rebalance"
	default:
		return "none"
	}
}

// Direction indicates which way funds are out of balance.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionDeficit
	DirectionSurplus
)

func (d Direction) String() string {
	switch d {
	case DirectionDeficit:
		return "deficit"
	case DirectionSurplus:
		return "surplus"
	default:
		return "n/a"
	}
}

// Decision reasons. ReasonReadFailure marks a no-op caused by unknown state.
const (
	ReasonStaleOracle     = "stale oracle"
	ReasonOracleDeviation = "oracle value deviation"
	ReasonAssetDeficit    = "asset deficit"
	ReasonAssetSurplus    = "asset surplus"
	ReasonReadFailure     = "read failure"
)

// Inputs are the resolved observations for one unit in one cycle. A non-nil
// error on either side marks that observation unknown.
type Inputs struct {
	Unit          string
	Freshness     oracle.Verdict
	FreshnessErr  error
	Ratio         ratio.Verdict
	RatioErr      error
	RatioD3       int64
	OracleAge     time.Duration
	WantRebalance bool
}

// Decision is the single action emitted for one unit in one cycle.
type Decision struct {
	Unit      string
	Kind      Kind
	Reason    string
	Direction Direction
	RatioD3   int64
	OracleAge time.Duration
}

type state struct {
	freshness oracle.Verdict
	ratio     ratio.Verdict
}

// Memory holds the last-emitted verdict pair per unit for the lifetime of
// the process. It is not persisted; a restart re-arms every alert, so the
// first observation after restart counts as a transition.
type Memory struct {
	mu      sync.Mutex
	entries map[string]state
}

// NewMemory builds an empty state memory.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]state)}
}

// Decide applies the decision rules in priority order:
//  1. any read failure: no action, stored state untouched so a later
//     recovery is still detected as a transition;
//  2. a transition out of Fresh, into Stale or Deviated: alert, ratio
//     state deliberately left as-is so a simultaneous ratio transition
//     re-fires next cycle (an unhealthy feed makes the ratio computed from
//     it untrustworthy); flapping between Stale and Deviated is one
//     unhealthy episode and does not re-alert;
//  3. a transition into Deficit or Surplus: alert, or rebalance when the
//     unit is selected for operation;
//  4. otherwise nothing, with the nominal verdicts recorded silently.
func (m *Memory) Decide(in Inputs) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Decision{
		Unit:      in.Unit,
		Kind:      KindNone,
		RatioD3:   in.RatioD3,
		OracleAge: in.OracleAge,
	}

	if in.FreshnessErr != nil || in.RatioErr != nil {
		out.Reason = ReasonReadFailure
		return out
	}

	prev, seen := m.entries[in.Unit]
	if !seen {
		prev = state{freshness: oracle.VerdictFresh, ratio: ratio.VerdictBalanced}
	}

	if in.Freshness != oracle.VerdictFresh && prev.freshness == oracle.VerdictFresh {
		m.entries[in.Unit] = state{freshness: in.Freshness, ratio: prev.ratio}
		out.Kind = KindAlert
		out.Reason = ReasonStaleOracle
		if in.Freshness == oracle.VerdictDeviated {
			out.Reason = ReasonOracleDeviation
		}
		return out
	}

	next := state{freshness: in.Freshness, ratio: in.Ratio}
	if in.Ratio != prev.ratio && in.Ratio != ratio.VerdictBalanced {
		out.Kind = KindAlert
		if in.WantRebalance {
			out.Kind = KindRebalance
		}
		if in.Ratio == ratio.VerdictDeficit {
			out.Direction = DirectionDeficit
			out.Reason = ReasonAssetDeficit
		} else {
			out.Direction = DirectionSurplus
			out.Reason = ReasonAssetSurplus
		}
	}
	m.entries[in.Unit] = next
	return out
}

// Forget drops the stored state for a unit. Used when a unit leaves the
// monitored set so a later re-add starts from a clean slate.
func (m *Memory) Forget(unit string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, unit)
}
