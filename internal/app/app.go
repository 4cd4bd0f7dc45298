package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"bridge-sentinel/internal/alerting"
	"bridge-sentinel/internal/chain"
	"bridge-sentinel/internal/config"
	"bridge-sentinel/internal/decision"
	"bridge-sentinel/internal/executor"
	"bridge-sentinel/internal/observability"
	"bridge-sentinel/internal/oracle"
	"bridge-sentinel/internal/ratio"
	"bridge-sentinel/internal/registry"
	"bridge-sentinel/internal/scheduler"
	"bridge-sentinel/internal/service"
	"bridge-sentinel/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// RunOptions select the loop's operating mode.
type RunOptions struct {
	// Operate enables the rebalance-execution path for the selected units.
	Operate bool
	// Units overrides operator.units from configuration.
	Units []string
}

func (a *App) thresholds() ratio.Thresholds {
	return ratio.Thresholds{
		SourceRatioD3:    a.Config.Thresholds.SourceRatioD3,
		MaxSourceRatioD3: a.Config.Thresholds.MaxSourceRatioD3,
	}
}

// chainSet parses the configured chain map keys into a chain id set.
func (a *App) chainSet() (map[int64]bool, error) {
	chains := make(map[int64]bool, len(a.Config.Chains))
	for key := range a.Config.Chains {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chains: invalid chain id %q", key)
		}
		chains[id] = true
	}
	return chains, nil
}

func (a *App) buildBackends() (map[int64]chain.Backend, error) {
	backends := make(map[int64]chain.Backend, len(a.Config.Chains))
	for key, chainCfg := range a.Config.Chains {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chains: invalid chain id %q", key)
		}
		if chainCfg.RPCURL == "" {
			return nil, fmt.Errorf("chains.%s.rpc_url is required", key)
		}
		backends[id] = chain.NewClient(chain.Options{
			ChainID:        id,
			RPCURL:         chainCfg.RPCURL,
			Timeout:        chainCfg.RequestTimeout,
			ConfirmTimeout: chainCfg.ConfirmTimeout,
			Retry: chain.RetryOptions{
				Attempts: a.Config.Retry.Attempts,
				Backoff:  a.Config.Retry.Backoff,
			},
		}, a.Logger)
	}
	return backends, nil
}

// loadUnits reads and validates the deployment registry. Invalid entries
// are logged and skipped; an empty result is fatal.
func (a *App) loadUnits() ([]registry.Unit, error) {
	chains, err := a.chainSet()
	if err != nil {
		return nil, err
	}

	units, skipped, err := registry.Load(a.Config.Registry.Path, chains)
	if err != nil {
		return nil, err
	}
	for _, skipErr := range skipped {
		a.Logger.Error().Err(skipErr).Msg("registry entry skipped")
	}
	if len(units) == 0 {
		return nil, errors.New("registry contains no valid deployments")
	}
	return units, nil
}

func (a *App) newNotifier() alerting.Notifier {
	tg := a.Config.Alerting.Telegram
	if !a.Config.Alerting.Enabled || !tg.Enabled {
		return nil
	}
	return alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	return alerting.NewDispatcher(
		a.newNotifier(),
		a.Config.Alerting.DryRun,
		a.thresholds(),
		a.Config.Thresholds.FreshnessSeconds,
		a.Logger,
	)
}

func (a *App) operatorKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(a.Config.Operator.PrivateKey, "0x")
	if raw == "" {
		return nil, errors.New("operator.private_key is required for the rebalance path")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	return key, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running reconciliation loop in monitoring or
// operator mode.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	units, err := a.loadUnits()
	if err != nil {
		return err
	}

	backends, err := a.buildBackends()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; audit persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svcOpts := service.Options{
		Scheduler: scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToInterval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger),
		Units:      units,
		Backends:   backends,
		Freshness:  oracle.NewChecker(time.Duration(a.Config.Thresholds.FreshnessSeconds)*time.Second, a.Logger),
		Ratios:     ratio.NewCalculator(a.thresholds(), a.Logger),
		Memory:     decision.NewMemory(),
		Dispatcher: a.newDispatcher(),
		Workers:    a.Config.Workers.PoolSize,
		LockKey:    a.Config.Scheduler.AdvisoryLockKey,
	}

	if store != nil {
		svcOpts.SampleStore = store
		svcOpts.AlertStore = store
		svcOpts.OrderStore = store
		svcOpts.Locker = store
	}

	if opts.Operate {
		key, keyErr := a.operatorKey()
		if keyErr != nil {
			return keyErr
		}

		selection := opts.Units
		if len(selection) == 0 {
			selection = a.Config.Operator.Units
		}
		if len(selection) == 0 {
			return errors.New("operator mode requires a unit selection (--units or operator.units)")
		}
		if _, selErr := registry.Select(units, selection); selErr != nil {
			return selErr
		}

		svcOpts.Rebalancer = executor.New(a.thresholds(), a.Logger)
		svcOpts.OperatorKey = key
		svcOpts.RebalanceUnits = selection
	}

	if a.Config.Metrics.Enabled {
		svcOpts.Metrics = observability.NewMetrics("", nil)
		srv := observability.Serve(a.Config.Metrics.Addr)
		defer srv.Close()
		a.Logger.Info().Str("addr", a.Config.Metrics.Addr).Msg("metrics endpoint started")
	}

	svc := service.New(svcOpts, a.Logger)

	mode := "monitor"
	if opts.Operate {
		mode = "operator"
	}
	a.Logger.Info().Str("mode", mode).Int("units", len(units)).Bool("dry_run", a.Config.Alerting.DryRun).Msg("starting reconciliation loop")

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("reconciliation loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("reconciliation loop stopped")
	return nil
}
