package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeSide string

const (
	Buy  TradeSide = "BUY"
	Sell TradeSide = "SELL"
)

// LotSelection is the ordering used to pick open lots when closing a sell.
type LotSelection string

const (
	FIFO     LotSelection = "FIFO"
	LIFO     LotSelection = "LIFO"
	HIFO     LotSelection = "HIFO"
	Specific LotSelection = "SPECIFIC"
)

// Lot is a single acquisition tranche of a security. CostBasisPerShare is fixed
// at creation and is never recomputed from QuantityOpen: partial closes always
// amortize against the original per-share basis.
type Lot struct {
	LotID             int64
	PortfolioID       int64
	Symbol            string
	AcquisitionDate   time.Time
	QuantityOriginal  decimal.Decimal
	QuantityOpen      decimal.Decimal
	CostBasis         decimal.Decimal
	CostBasisPerShare decimal.Decimal
	Currency          string
	ClosedDate        *time.Time
	TransactionID     int64
}

type Transaction struct {
	TransactionID  int64
	PortfolioID    int64
	Side           TradeSide
	Symbol         string
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Currency       string
	Fees           decimal.Decimal
	NetAmount      decimal.Decimal
	TradeDate      time.Time
	SettlementDate time.Time
	RealizedPnL    *decimal.Decimal
	Notes          string
}

// Position aggregates the open lots of one (symbol, currency) pair.
type Position struct {
	Symbol    string
	Quantity  decimal.Decimal
	CostBasis decimal.Decimal
	Currency  string
}

type BuyRequest struct {
	PortfolioID  int64
	Symbol       string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Currency     string
	TradeDate    time.Time
	BaseCurrency string
	FxRate       *decimal.Decimal
	Fees         decimal.Decimal
	Notes        string
}

type BuyResult struct {
	TransactionID int64
	LotID         int64
	TotalCost     decimal.Decimal
	CostBasisBase decimal.Decimal
	FxRateUsed    decimal.Decimal
}

type SellRequest struct {
	PortfolioID   int64
	Symbol        string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Currency      string
	TradeDate     time.Time
	Selection     LotSelection
	SpecificLotID int64
	BaseCurrency  string
	FxRate        *decimal.Decimal
	Fees          decimal.Decimal
	Notes         string
}

// ClosedLot records how much of one lot a sell consumed.
type ClosedLot struct {
	LotID           int64
	QuantityClosed  decimal.Decimal
	CostBasisClosed decimal.Decimal
	Proceeds        decimal.Decimal
	RealizedPnL     decimal.Decimal
	FullyClosed     bool
}

type SellResult struct {
	TransactionID int64
	LotsClosed    []ClosedLot
	RealizedPnL   decimal.Decimal
	FxRateUsed    decimal.Decimal
}
