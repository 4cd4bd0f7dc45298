package alerting

import (
	"context"
	"strings"
	"testing"
	"time"

	"bridge-sentinel/internal/decision"
	"bridge-sentinel/internal/ratio"
	"bridge-sentinel/internal/registry"
)

type recordingNotifier struct {
	calls []string
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.calls = append(r.calls, text)
	return nil
}

func testThresholds() ratio.Thresholds {
	return ratio.Thresholds{SourceRatioD3: 50, MaxSourceRatioD3: 100}
}

func testUnit() registry.Unit {
	return registry.Unit{Symbol: "WETH", SourceChainID: 1, TargetChainID: 10}
}

func TestRenderDeficit(t *testing.T) {
	d := NewDispatcher(nil, false, testThresholds(), 3600, testLogger())

	text := d.Render(decision.Decision{
		Unit:    "WETH",
		Kind:    decision.KindAlert,
		Reason:  decision.ReasonAssetDeficit,
		RatioD3: 42,
	}, testUnit())

	for _, want := range []string{"WETH", "chain 1 -> 10", "asset deficit", "4.2%", "5.0%", "10.0%"} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered text should contain %q:\n%s", want, text)
		}
	}
}

func TestRenderStaleOracle(t *testing.T) {
	d := NewDispatcher(nil, false, testThresholds(), 3600, testLogger())

	text := d.Render(decision.Decision{
		Unit:      "WETH",
		Kind:      decision.KindAlert,
		Reason:    decision.ReasonStaleOracle,
		OracleAge: 4000 * time.Second,
	}, testUnit())

	for _, want := range []string{"stale oracle", "4000s", "3600s"} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered text should contain %q:\n%s", want, text)
		}
	}
}

func TestRenderOracleDeviation(t *testing.T) {
	d := NewDispatcher(nil, false, testThresholds(), 3600, testLogger())

	text := d.Render(decision.Decision{
		Unit:    "WETH",
		Kind:    decision.KindAlert,
		Reason:  decision.ReasonOracleDeviation,
		RatioD3: 70,
	}, testUnit())

	for _, want := range []string{"WETH", "oracle value deviation", "7.0%"} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered text should contain %q:\n%s", want, text)
		}
	}
}

func TestDispatchDeliversAlerts(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(notifier, false, testThresholds(), 3600, testLogger())

	d.Dispatch(context.Background(), decision.Decision{
		Unit:    "WETH",
		Kind:    decision.KindAlert,
		Reason:  decision.ReasonAssetSurplus,
		RatioD3: 150,
	}, testUnit())

	if len(notifier.calls) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(notifier.calls))
	}
	if !strings.Contains(notifier.calls[0], "asset surplus") {
		t.Fatalf("unexpected payload: %s", notifier.calls[0])
	}
}

func TestDispatchIgnoresNonAlerts(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(notifier, false, testThresholds(), 3600, testLogger())

	d.Dispatch(context.Background(), decision.Decision{Unit: "WETH", Kind: decision.KindNone}, testUnit())
	d.Dispatch(context.Background(), decision.Decision{Unit: "WETH", Kind: decision.KindRebalance}, testUnit())

	if len(notifier.calls) != 0 {
		t.Fatalf("non-alert decisions must not deliver, got %d calls", len(notifier.calls))
	}
}

func TestDryRunSuppressesDelivery(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(notifier, true, testThresholds(), 3600, testLogger())

	d.Dispatch(context.Background(), decision.Decision{
		Unit:    "WETH",
		Kind:    decision.KindAlert,
		Reason:  decision.ReasonAssetDeficit,
		RatioD3: 40,
	}, testUnit())

	if len(notifier.calls) != 0 {
		t.Fatal("dry run must not reach the notifier")
	}
	if !d.DryRun() {
		t.Fatal("DryRun should report true")
	}
}

func TestDeliverNilNotifierIsSafe(t *testing.T) {
	d := NewDispatcher(nil, false, testThresholds(), 3600, testLogger())
	d.Deliver(context.Background(), "WETH", "text")
}
