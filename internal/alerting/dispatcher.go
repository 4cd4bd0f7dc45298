package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"bridge-sentinel/internal/decision"
	"bridge-sentinel/internal/ratio"
	"bridge-sentinel/internal/registry"
)

// Dispatcher turns alert decisions into messages and routes them to the
// notifier. In dry-run mode rendering still happens but delivery is
// suppressed, so the decision path stays fully observable without
// credentials.
type Dispatcher struct {
	notifier         Notifier
	dryRun           bool
	thresholds       ratio.Thresholds
	freshnessSeconds int64
	logger           zerolog.Logger
}

// NewDispatcher builds a dispatcher. notifier may be nil when no channel is
// configured; dispatch then degrades to logging only.
func NewDispatcher(notifier Notifier, dryRun bool, thresholds ratio.Thresholds, freshnessSeconds int64, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier:         notifier,
		dryRun:           dryRun,
		thresholds:       thresholds,
		freshnessSeconds: freshnessSeconds,
		logger:           logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// DryRun reports whether delivery is suppressed.
func (d *Dispatcher) DryRun() bool {
	return d.dryRun
}

// Render produces the deterministic alert text for a decision: unit
// identity, verdict kind, and the numeric value that triggered it.
func (d *Dispatcher) Render(dec decision.Decision, unit registry.Unit) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[bridge-sentinel] %s (chain %d -> %d)\n", unit.Symbol, unit.SourceChainID, unit.TargetChainID))

	switch dec.Reason {
	case decision.ReasonStaleOracle:
		builder.WriteString(fmt.Sprintf("stale oracle: last update %ds ago (threshold %ds)\n",
			int64(dec.OracleAge.Seconds()), d.freshnessSeconds))
	case decision.ReasonOracleDeviation:
		builder.WriteString(fmt.Sprintf("oracle value deviation: reported value disagrees with holdings at source ratio %s\n",
			ratio.FormatPercent(dec.RatioD3)))
	case decision.ReasonAssetDeficit:
		builder.WriteString(fmt.Sprintf("asset deficit: source ratio %s (floor %s, ceiling %s)\n",
			ratio.FormatPercent(dec.RatioD3),
			ratio.FormatPercent(d.thresholds.SourceRatioD3),
			ratio.FormatPercent(d.thresholds.MaxSourceRatioD3)))
	case decision.ReasonAssetSurplus:
		builder.WriteString(fmt.Sprintf("asset surplus: source ratio %s (floor %s, ceiling %s)\n",
			ratio.FormatPercent(dec.RatioD3),
			ratio.FormatPercent(d.thresholds.SourceRatioD3),
			ratio.FormatPercent(d.thresholds.MaxSourceRatioD3)))
	default:
		builder.WriteString(fmt.Sprintf("%s\n", dec.Reason))
	}

	return builder.String()
}

// Dispatch renders and delivers an alert decision. Delivery failures are
// logged and swallowed; they must never abort the cycle for other units.
func (d *Dispatcher) Dispatch(ctx context.Context, dec decision.Decision, unit registry.Unit) {
	if dec.Kind != decision.KindAlert {
		return
	}

	text := d.Render(dec, unit)
	d.Deliver(ctx, unit.Symbol, text)
}

// Deliver sends pre-rendered text, honoring dry-run suppression. Used for
// alert decisions and for rebalance outcome reports alike.
func (d *Dispatcher) Deliver(ctx context.Context, unit, text string) {
	if d.dryRun {
		d.logger.Info().Str("unit", unit).Str("message", text).Msg("dry run, alert delivery suppressed")
		return
	}
	if d.notifier == nil {
		d.logger.Warn().Str("unit", unit).Str("message", text).Msg("no notification channel configured")
		return
	}

	if err := d.notifier.Notify(ctx, text); err != nil {
		d.logger.Error().Err(err).Str("unit", unit).Msg("alert delivery failed")
	}
}
