// Package service runs the reconciliation control loop over the monitored
// unit set, isolating per-unit failures.
package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bridge-sentinel/internal/alerting"
	"bridge-sentinel/internal/chain"
	"bridge-sentinel/internal/decision"
	"bridge-sentinel/internal/executor"
	"bridge-sentinel/internal/observability"
	"bridge-sentinel/internal/oracle"
	"bridge-sentinel/internal/ratio"
	"bridge-sentinel/internal/registry"
	"bridge-sentinel/internal/scheduler"
	"bridge-sentinel/internal/storage"
)

// FreshnessSource classifies one oracle feed: Check for age, Validate to
// cross-check a fresh reading against the holdings-implied value.
type FreshnessSource interface {
	Check(ctx context.Context, reader chain.Reader, oracleAddr common.Address) (oracle.Reading, oracle.Verdict, error)
	Validate(ctx context.Context, reader chain.Reader, core common.Address, reading oracle.Reading, sourceValue, targetValue *big.Int) (oracle.Verdict, error)
}

// RatioSource observes one deployment's reserve balance.
type RatioSource interface {
	Snapshot(ctx context.Context, source, target chain.Reader, dep ratio.Deployment) (ratio.Snapshot, ratio.Verdict, error)
}

// Rebalancer submits a rebalance order for a decision.
type Rebalancer interface {
	Rebalance(ctx context.Context, dec decision.Decision, unit registry.Unit, snap ratio.Snapshot, source, target chain.Backend, key *ecdsa.PrivateKey) executor.Order
}

// Options wire the service's collaborators.
type Options struct {
	Scheduler  *scheduler.Scheduler
	Units      []registry.Unit
	Backends   map[int64]chain.Backend
	Freshness  FreshnessSource
	Ratios     RatioSource
	Memory     *decision.Memory
	Dispatcher *alerting.Dispatcher

	// Rebalancer, OperatorKey, and RebalanceUnits are set only on the
	// operator path; monitoring deployments leave them nil/empty.
	Rebalancer     Rebalancer
	OperatorKey    *ecdsa.PrivateKey
	RebalanceUnits []string

	SampleStore storage.SampleStore
	AlertStore  storage.AlertStore
	OrderStore  storage.OrderStore
	Locker      storage.AdvisoryLocker
	LockKey     int64

	Metrics *observability.Metrics
	Workers int
}

// Service is the reconciliation loop.
type Service struct {
	opts      Options
	rebalance map[string]bool
	logger    zerolog.Logger
}

// New constructs the service.
func New(opts Options, logger zerolog.Logger) *Service {
	rebalance := make(map[string]bool, len(opts.RebalanceUnits))
	for _, symbol := range opts.RebalanceUnits {
		rebalance[symbol] = true
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Service{
		opts:      opts,
		rebalance: rebalance,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled reconciliation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.opts.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.opts.Scheduler.Run(ctx, s.RunPass)
}

// RunPass executes one reconciliation pass over the whole unit set. Per-unit
// work runs on a bounded worker pool; a unit's failure never affects the
// others or the loop itself.
func (s *Service) RunPass(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("pass", at).Msg("skip pass because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	if s.opts.Metrics != nil {
		s.opts.Metrics.PassesTotal.Inc()
	}

	sem := make(chan struct{}, s.opts.Workers)
	var wg sync.WaitGroup
	for _, unit := range s.opts.Units {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(u registry.Unit) {
			defer wg.Done()
			defer func() { <-sem }()
			s.reconcileUnit(ctx, at, u)
		}(unit)
	}
	wg.Wait()

	if s.opts.Metrics != nil {
		s.opts.Metrics.PassDuration.Observe(time.Since(started).Seconds())
	}
	s.logger.Info().Time("pass", at).Int("units", len(s.opts.Units)).Dur("elapsed", time.Since(started)).Msg("pass complete")
	return nil
}

// reconcileUnit runs freshness and ratio reads concurrently, joins them,
// decides, and dispatches. The decision engine only sees resolved inputs;
// partial results are never acted on.
func (s *Service) reconcileUnit(ctx context.Context, at time.Time, unit registry.Unit) {
	logger := s.logger.With().Str("unit", unit.Symbol).Logger()

	source, okSource := s.opts.Backends[unit.SourceChainID]
	target, okTarget := s.opts.Backends[unit.TargetChainID]
	if !okSource || !okTarget {
		logger.Error().Int64("source_chain", unit.SourceChainID).Int64("target_chain", unit.TargetChainID).Msg("no backend for unit chain, skipping")
		s.recordSample(ctx, at, unit, decision.Inputs{}, "skipped", strPtr("no backend for unit chain"))
		return
	}

	var (
		wg      sync.WaitGroup
		reading oracle.Reading
		fresh   oracle.Verdict
		readErr error

		snap       ratio.Snapshot
		ratioState ratio.Verdict
		ratioErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		reading, fresh, readErr = s.opts.Freshness.Check(ctx, source, unit.Oracle)
	}()
	go func() {
		defer wg.Done()
		snap, ratioState, ratioErr = s.opts.Ratios.Snapshot(ctx, source, target, unit.Deployment())
	}()
	wg.Wait()

	// A feed that passes the age check can still report a value its own
	// holdings contradict. Only a fully resolved pass can tell.
	if readErr == nil && ratioErr == nil && fresh == oracle.VerdictFresh {
		verdict, err := s.opts.Freshness.Validate(ctx, source, unit.SourceCore, reading, snap.SourceValue, snap.TargetValue)
		if err != nil {
			readErr = err
		} else {
			fresh = verdict
		}
	}

	if s.opts.Metrics != nil {
		if readErr != nil {
			s.opts.Metrics.ReadFailures.WithLabelValues(unit.Symbol, "oracle").Inc()
		} else {
			s.opts.Metrics.UnitOracleAgeSec.WithLabelValues(unit.Symbol).Set(reading.Age.Seconds())
		}
		if ratioErr != nil {
			s.opts.Metrics.ReadFailures.WithLabelValues(unit.Symbol, "ratio").Inc()
		} else if !snap.Degenerate {
			s.opts.Metrics.UnitRatioD3.WithLabelValues(unit.Symbol).Set(float64(snap.RatioD3))
		}
		s.opts.Metrics.UnitsReconciled.Inc()
	}

	inputs := decision.Inputs{
		Unit:          unit.ID(),
		Freshness:     fresh,
		FreshnessErr:  readErr,
		Ratio:         ratioState,
		RatioErr:      ratioErr,
		RatioD3:       snap.RatioD3,
		OracleAge:     reading.Age,
		WantRebalance: s.opts.Rebalancer != nil && s.rebalance[unit.ID()],
	}

	dec := s.opts.Memory.Decide(inputs)
	logger.Debug().
		Str("freshness", fresh.String()).
		Str("ratio", ratioState.String()).
		Int64("ratio_d3", snap.RatioD3).
		Str("decision", dec.Kind.String()).
		Msg("unit reconciled")

	status := "complete"
	var errMsg *string
	if readErr != nil || ratioErr != nil {
		status = "read_failure"
		combined := combineErrors(readErr, ratioErr)
		errMsg = &combined
		logger.Warn().Str("detail", combined).Msg("read failure, verdicts unknown this pass")
	}
	s.recordSample(ctx, at, unit, inputs, status, errMsg)

	switch dec.Kind {
	case decision.KindAlert:
		s.handleAlert(ctx, at, dec, unit)
	case decision.KindRebalance:
		s.handleRebalance(ctx, at, dec, unit, snap, source, target)
	}
}

func (s *Service) handleAlert(ctx context.Context, at time.Time, dec decision.Decision, unit registry.Unit) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.AlertsEmitted.WithLabelValues(unit.Symbol, dec.Reason).Inc()
	}

	if s.opts.AlertStore != nil {
		record := storage.AlertRecord{
			Unit:      unit.Symbol,
			PassTS:    at,
			Reason:    dec.Reason,
			Direction: dec.Direction.String(),
		}
		if dec.Reason != decision.ReasonStaleOracle {
			ratioD3 := dec.RatioD3
			record.RatioD3 = &ratioD3
		}
		if _, err := s.opts.AlertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("unit", unit.Symbol).Msg("failed to persist alert record")
		}
	}

	s.opts.Dispatcher.Dispatch(ctx, dec, unit)
}

func (s *Service) handleRebalance(ctx context.Context, at time.Time, dec decision.Decision, unit registry.Unit, snap ratio.Snapshot, source, target chain.Backend) {
	order := s.opts.Rebalancer.Rebalance(ctx, dec, unit, snap, source, target, s.opts.OperatorKey)

	if s.opts.Metrics != nil {
		s.opts.Metrics.OrdersTotal.WithLabelValues(unit.Symbol, order.Status.String()).Inc()
	}

	if s.opts.OrderStore != nil {
		record := storage.OrderRecord{
			Unit:      unit.Symbol,
			PassTS:    at,
			Direction: order.Direction.String(),
			Amount:    decimal.NewFromBigInt(order.Amount, 0),
			Status:    order.Status.String(),
			TxHash:    order.TxHash.Hex(),
		}
		if order.Err != nil {
			msg := order.Err.Error()
			record.Error = &msg
		}
		if _, err := s.opts.OrderStore.InsertOrder(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("unit", unit.Symbol).Msg("failed to persist order record")
		}
	}

	// Submission outcomes are reported, not retried; the next pass re-fires
	// only if the imbalance persists through the dedup rule.
	switch order.Status {
	case executor.StatusConfirmed:
		s.opts.Dispatcher.Deliver(ctx, unit.Symbol, fmt.Sprintf(
			"[bridge-sentinel] %s rebalance confirmed: %s %s moved (tx %s)\n",
			unit.Symbol, dec.Direction.String(), order.Amount.String(), order.TxHash.Hex()))
	case executor.StatusFailed:
		s.opts.Dispatcher.Deliver(ctx, unit.Symbol, fmt.Sprintf(
			"[bridge-sentinel] %s rebalance failed: %v\n", unit.Symbol, order.Err))
	}
}

func (s *Service) recordSample(ctx context.Context, at time.Time, unit registry.Unit, inputs decision.Inputs, status string, errMsg *string) {
	if s.opts.SampleStore == nil {
		return
	}

	sample := storage.ReconcileSample{
		Unit:   unit.Symbol,
		PassTS: at,
		Status: status,
	}
	if inputs.FreshnessErr == nil && status == "complete" {
		age := int64(inputs.OracleAge.Seconds())
		sample.OracleAgeSeconds = &age
		sample.Freshness = inputs.Freshness.String()
	}
	if inputs.RatioErr == nil && status == "complete" {
		ratioD3 := inputs.RatioD3
		sample.RatioD3 = &ratioD3
		sample.RatioVerdict = inputs.Ratio.String()
	}
	sample.Error = errMsg

	if err := s.opts.SampleStore.UpsertSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Str("unit", unit.Symbol).Msg("failed to upsert sample")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func combineErrors(errs ...error) string {
	out := ""
	for _, err := range errs {
		if err == nil {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += err.Error()
	}
	return out
}

func strPtr(v string) *string {
	return &v
}
