package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyValuation is one portfolio-day produced by the external valuation job.
// Read-only from this engine's perspective.
type DailyValuation struct {
	PortfolioID    int64
	Date           time.Time
	TotalValue     decimal.Decimal
	CashBalance    decimal.Decimal
	PositionsValue decimal.Decimal
	NetCashFlow    decimal.Decimal
	Currency       string
}

// CashFlow is a signed external flow: positive for contributions,
// negative for withdrawals.
type CashFlow struct {
	Date   time.Time
	Amount decimal.Decimal
}

// PricingPack pins every computation of one run to the same as-of date.
// The engine treats the id as an opaque determinism token.
type PricingPack struct {
	PackID   string
	AsOfDate time.Time
}

// TWRResult carries the time-weighted return block. Err is set instead of
// returning a Go error: metrics computation is best-effort and a portfolio
// without enough history must not abort the nightly batch.
type TWRResult struct {
	TWR           float64
	AnnualizedTWR float64
	Volatility    float64
	Sharpe        float64
	Sortino       float64
	DataPoints    int
	Err           string
}

type MWRResult struct {
	MWR           float64
	AnnualizedMWR float64
	Err           string
}

type DrawdownResult struct {
	MaxDrawdown     float64
	MaxDrawdownDate time.Time
	PeakValue       float64
	TroughValue     float64
	RecoveryDays    int
}

type RollingVolResult struct {
	Vol30d  float64
	Vol90d  float64
	Vol252d float64
}

// MetricsSnapshot is the full figure set for one (portfolio, as-of date, pack).
// Recomputation overwrites via upsert, never partial-updates.
type MetricsSnapshot struct {
	PortfolioID int64
	AsOfDate    time.Time
	PackID      string
	TWR         TWRResult
	MWR         MWRResult
	Drawdown    DrawdownResult
	RollingVol  RollingVolResult
	ComputedAt  time.Time
}
