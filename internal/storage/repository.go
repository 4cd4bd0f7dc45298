package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSampleSQL = `INSERT INTO reconcile_samples (
        unit,
        pass_ts,
        ratio_d3,
        oracle_age_seconds,
        freshness,
        ratio_verdict,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (unit, pass_ts) DO UPDATE
    SET
        ratio_d3           = EXCLUDED.ratio_d3,
        oracle_age_seconds = EXCLUDED.oracle_age_seconds,
        freshness          = EXCLUDED.freshness,
        ratio_verdict      = EXCLUDED.ratio_verdict,
        status             = EXCLUDED.status,
        error              = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        unit,
        pass_ts,
        ratio_d3,
        oracle_age_seconds,
        freshness,
        ratio_verdict,
        status,
        error,
        created_at
    FROM reconcile_samples
    WHERE unit = $1
      AND pass_ts >= $2
      AND pass_ts < $3
    ORDER BY pass_ts;`

	listRecentSamplesSQL = `SELECT
        unit,
        pass_ts,
        ratio_d3,
        oracle_age_seconds,
        freshness,
        ratio_verdict,
        status,
        error,
        created_at
    FROM reconcile_samples
    ORDER BY pass_ts DESC
    LIMIT $1;`

	insertAlertSQL = `INSERT INTO alerts (
        unit,
        pass_ts,
        reason,
        direction,
        ratio_d3
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, unit, pass_ts, reason, direction, ratio_d3, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        unit,
        pass_ts,
        reason,
        direction,
        ratio_d3,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	insertOrderSQL = `INSERT INTO rebalance_orders (
        unit,
        pass_ts,
        direction,
        amount,
        status,
        tx_hash,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, unit, pass_ts, direction, amount, status, tx_hash, error, created_at;`

	listRecentOrdersSQL = `SELECT
        id,
        unit,
        pass_ts,
        direction,
        amount,
        status,
        tx_hash,
        error,
        created_at
    FROM rebalance_orders
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore defines operations for reconcile sample persistence.
type SampleStore interface {
	UpsertSample(ctx context.Context, sample ReconcileSample) error
	ListSamplesBetween(ctx context.Context, unit string, from, to time.Time) ([]ReconcileSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]ReconcileSample, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// OrderStore defines operations for rebalance order auditing.
type OrderStore interface {
	InsertOrder(ctx context.Context, order OrderRecord) (OrderRecord, error)
	ListRecentOrders(ctx context.Context, limit int) ([]OrderRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to samples, alerts, and orders.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertSample persists or updates a reconcile sample.
func (s *Store) UpsertSample(ctx context.Context, sample ReconcileSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertSampleSQL,
		sample.Unit,
		sample.PassTS,
		sample.RatioD3,
		sample.OracleAgeSeconds,
		sample.Freshness,
		sample.RatioVerdict,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert reconcile sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists one unit's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, unit string, from, to time.Time) ([]ReconcileSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, unit, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows)
}

// ListRecentSamples lists the most recent samples across all units.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]ReconcileSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows)
}

func collectSamples(rows pgx.Rows) ([]ReconcileSample, error) {
	samples := make([]ReconcileSample, 0)
	for rows.Next() {
		var sample ReconcileSample
		if err := rows.Scan(
			&sample.Unit,
			&sample.PassTS,
			&sample.RatioD3,
			&sample.OracleAgeSeconds,
			&sample.Freshness,
			&sample.RatioVerdict,
			&sample.Status,
			&sample.Error,
			&sample.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reconcile sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// InsertAlert records an emitted alert.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Unit,
		alert.PassTS,
		alert.Reason,
		alert.Direction,
		alert.RatioD3,
	)

	var stored AlertRecord
	if err := row.Scan(&stored.ID, &stored.Unit, &stored.PassTS, &stored.Reason, &stored.Direction, &stored.RatioD3, &stored.CreatedAt); err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	return stored, nil
}

// ListRecentAlerts lists the most recent alert records.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		var alert AlertRecord
		if err := rows.Scan(&alert.ID, &alert.Unit, &alert.PassTS, &alert.Reason, &alert.Direction, &alert.RatioD3, &alert.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// InsertOrder records a rebalance order outcome.
func (s *Store) InsertOrder(ctx context.Context, order OrderRecord) (OrderRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return OrderRecord{}, err
	}

	var errMsg interface{}
	if order.Error != nil {
		errMsg = *order.Error
	}

	row := pool.QueryRow(ctx, insertOrderSQL,
		order.Unit,
		order.PassTS,
		order.Direction,
		order.Amount.String(),
		order.Status,
		order.TxHash,
		errMsg,
	)

	var stored OrderRecord
	var amount string
	if err := row.Scan(&stored.ID, &stored.Unit, &stored.PassTS, &stored.Direction, &amount, &stored.Status, &stored.TxHash, &stored.Error, &stored.CreatedAt); err != nil {
		return OrderRecord{}, fmt.Errorf("insert order: %w", err)
	}
	if parsed, parseErr := decimal.NewFromString(amount); parseErr == nil {
		stored.Amount = parsed
	}
	return stored, nil
}

// ListRecentOrders lists the most recent rebalance orders.
func (s *Store) ListRecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOrdersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent orders: %w", queryErr)
	}
	defer rows.Close()

	orders := make([]OrderRecord, 0)
	for rows.Next() {
		var order OrderRecord
		var amount string
		if err := rows.Scan(&order.ID, &order.Unit, &order.PassTS, &order.Direction, &amount, &order.Status, &order.TxHash, &order.Error, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if parsed, parseErr := decimal.NewFromString(amount); parseErr == nil {
			order.Amount = parsed
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

var (
	_ SampleStore    = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ OrderStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
