package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: bridge-sentinel\n"))
	if err != nil {
		t.Fatalf("Load should succeed: %v", err)
	}

	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("default interval should be 5m, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Thresholds.FreshnessSeconds != 3600 {
		t.Fatalf("default freshness should be 3600s, got %d", cfg.Thresholds.FreshnessSeconds)
	}
	if cfg.Thresholds.SourceRatioD3 != 50 || cfg.Thresholds.MaxSourceRatioD3 != 100 {
		t.Fatalf("unexpected default thresholds %d/%d", cfg.Thresholds.SourceRatioD3, cfg.Thresholds.MaxSourceRatioD3)
	}
	if cfg.Workers.PoolSize != 4 {
		t.Fatalf("default pool size should be 4, got %d", cfg.Workers.PoolSize)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.Backoff != 500*time.Millisecond {
		t.Fatalf("unexpected retry defaults %d/%s", cfg.Retry.Attempts, cfg.Retry.Backoff)
	}
	if cfg.Scheduler.AdvisoryLockKey != 0x62726773 {
		t.Fatalf("unexpected advisory lock key %d", cfg.Scheduler.AdvisoryLockKey)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
scheduler:
  interval: 30s
thresholds:
  freshness_seconds: 600
  source_ratio_d3: 100
  max_source_ratio_d3: 300
chains:
  "1":
    rpc_url: http://localhost:8545
    request_timeout: 5s
    confirm_timeout: 3m
`))
	if err != nil {
		t.Fatalf("Load should succeed: %v", err)
	}

	if cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("interval override lost: %s", cfg.Scheduler.Interval)
	}
	if cfg.Thresholds.FreshnessSeconds != 600 {
		t.Fatalf("freshness override lost: %d", cfg.Thresholds.FreshnessSeconds)
	}
	chain, ok := cfg.Chains["1"]
	if !ok {
		t.Fatalf("chain map lost: %+v", cfg.Chains)
	}
	if chain.RPCURL != "http://localhost:8545" || chain.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected chain config %+v", chain)
	}
	if chain.ConfirmTimeout != 3*time.Minute {
		t.Fatalf("confirm timeout override lost: %s", chain.ConfirmTimeout)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	_, err := Load(writeConfig(t, `
thresholds:
  source_ratio_d3: 200
  max_source_ratio_d3: 100
`))
	if err == nil {
		t.Fatal("floor above ceiling should fail validation")
	}
}

func TestValidateTelegramCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `
alerting:
  telegram:
    enabled: true
`))
	if err == nil {
		t.Fatal("enabled telegram without credentials should fail")
	}

	// Dry-run mode does not need credentials.
	cfg, err := Load(writeConfig(t, `
alerting:
  dry_run: true
  telegram:
    enabled: true
`))
	if err != nil {
		t.Fatalf("dry run should not require credentials: %v", err)
	}
	if !cfg.Alerting.DryRun {
		t.Fatal("dry_run flag lost")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{}
	cfg.Export.MaxDataPoints = 1000

	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Fatalf("zero override should use config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("override should win, got %d", got)
	}
}
