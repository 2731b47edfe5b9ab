package dbModel

import (
	"time"

	"github.com/shopspring/decimal"
)

type DailyValuation struct {
	PortfolioID    int64           `db:"portfolio_id"`
	Date           time.Time       `db:"valuation_date"`
	TotalValue     decimal.Decimal `db:"total_value"`
	CashBalance    decimal.Decimal `db:"cash_balance"`
	PositionsValue decimal.Decimal `db:"positions_value"`
	NetCashFlow    decimal.Decimal `db:"net_cash_flow"`
	Currency       string          `db:"currency"`
}

type CashFlow struct {
	Date   time.Time       `db:"flow_date"`
	Amount decimal.Decimal `db:"amount"`
}

type PricingPack struct {
	PackID   string    `db:"pack_id"`
	AsOfDate time.Time `db:"as_of_date"`
}

type MetricsSnapshot struct {
	PortfolioID     int64     `db:"portfolio_id"`
	AsOfDate        time.Time `db:"as_of_date"`
	PackID          string    `db:"pack_id"`
	TWR             float64   `db:"twr"`
	AnnualizedTWR   float64   `db:"annualized_twr"`
	Volatility      float64   `db:"volatility"`
	Sharpe          float64   `db:"sharpe"`
	Sortino         float64   `db:"sortino"`
	DataPoints      int       `db:"data_points"`
	TWRError        string    `db:"twr_error"`
	MWR             float64   `db:"mwr"`
	AnnualizedMWR   float64   `db:"annualized_mwr"`
	MWRError        string    `db:"mwr_error"`
	MaxDrawdown     float64   `db:"max_drawdown"`
	MaxDrawdownDate time.Time `db:"max_drawdown_date"`
	PeakValue       float64   `db:"peak_value"`
	TroughValue     float64   `db:"trough_value"`
	RecoveryDays    int       `db:"recovery_days"`
	Vol30d          float64   `db:"vol_30d"`
	Vol90d          float64   `db:"vol_90d"`
	Vol252d         float64   `db:"vol_252d"`
	ComputedAt      time.Time `db:"computed_at"`
}
