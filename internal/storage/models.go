package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconcileSample is one persisted per-unit observation from a pass.
type ReconcileSample struct {
	Unit             string
	PassTS           time.Time
	RatioD3          *int64
	OracleAgeSeconds *int64
	Freshness        string
	RatioVerdict     string
	Status           string
	Error            *string
	CreatedAt        time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID        int64
	Unit      string
	PassTS    time.Time
	Reason    string
	Direction string
	RatioD3   *int64
	CreatedAt time.Time
}

// OrderRecord captures a rebalance order outcome.
type OrderRecord struct {
	ID        int64
	Unit      string
	PassTS    time.Time
	Direction string
	Amount    decimal.Decimal
	Status    string
	TxHash    string
	Error     *string
	CreatedAt time.Time
}
