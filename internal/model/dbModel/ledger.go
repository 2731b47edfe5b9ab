package dbModel

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type Lot struct {
	LotID             int64           `db:"lot_id"`
	PortfolioID       int64           `db:"portfolio_id"`
	Symbol            string          `db:"symbol"`
	AcquisitionDate   time.Time       `db:"acquisition_date"`
	QuantityOriginal  decimal.Decimal `db:"quantity_original"`
	QuantityOpen      decimal.Decimal `db:"quantity_open"`
	CostBasis         decimal.Decimal `db:"cost_basis"`
	CostBasisPerShare decimal.Decimal `db:"cost_basis_per_share"`
	Currency          string          `db:"currency"`
	ClosedDate        sql.NullTime    `db:"closed_date"`
	TransactionID     int64           `db:"transaction_id"`
}

type Transaction struct {
	TransactionID  int64               `db:"transaction_id"`
	PortfolioID    int64               `db:"portfolio_id"`
	Side           string              `db:"side"`
	Symbol         string              `db:"symbol"`
	Quantity       decimal.Decimal     `db:"quantity"`
	Price          decimal.Decimal     `db:"price"`
	Currency       string              `db:"currency"`
	Fees           decimal.Decimal     `db:"fees"`
	NetAmount      decimal.Decimal     `db:"net_amount"`
	TradeDate      time.Time           `db:"trade_date"`
	SettlementDate time.Time           `db:"settlement_date"`
	RealizedPnL    decimal.NullDecimal `db:"realized_pnl"`
	Notes          sql.NullString      `db:"notes"`
}

type Position struct {
	Symbol    string          `db:"symbol"`
	Quantity  decimal.Decimal `db:"quantity"`
	CostBasis decimal.Decimal `db:"cost_basis"`
	Currency  string          `db:"currency"`
}
