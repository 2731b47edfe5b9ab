package dbConverter

import (
	"database/sql"
	"time"

	"github.com/finvault/portfolio-ledger/internal/model"
	"github.com/finvault/portfolio-ledger/internal/model/dbModel"
	"github.com/shopspring/decimal"
)

func ConvertLot(dbLot dbModel.Lot) model.Lot {
	var closedDate *time.Time
	if dbLot.ClosedDate.Valid {
		d := dbLot.ClosedDate.Time
		closedDate = &d
	}

	return model.Lot{
		LotID:             dbLot.LotID,
		PortfolioID:       dbLot.PortfolioID,
		Symbol:            dbLot.Symbol,
		AcquisitionDate:   dbLot.AcquisitionDate,
		QuantityOriginal:  dbLot.QuantityOriginal,
		QuantityOpen:      dbLot.QuantityOpen,
		CostBasis:         dbLot.CostBasis,
		CostBasisPerShare: dbLot.CostBasisPerShare,
		Currency:          dbLot.Currency,
		ClosedDate:        closedDate,
		TransactionID:     dbLot.TransactionID,
	}
}

func ConvertLotToDb(lot model.Lot) dbModel.Lot {
	closedDate := sql.NullTime{}
	if lot.ClosedDate != nil {
		closedDate = sql.NullTime{Time: *lot.ClosedDate, Valid: true}
	}

	return dbModel.Lot{
		LotID:             lot.LotID,
		PortfolioID:       lot.PortfolioID,
		Symbol:            lot.Symbol,
		AcquisitionDate:   lot.AcquisitionDate,
		QuantityOriginal:  lot.QuantityOriginal,
		QuantityOpen:      lot.QuantityOpen,
		CostBasis:         lot.CostBasis,
		CostBasisPerShare: lot.CostBasisPerShare,
		Currency:          lot.Currency,
		ClosedDate:        closedDate,
		TransactionID:     lot.TransactionID,
	}
}

func ConvertTransaction(dbTx dbModel.Transaction) model.Transaction {
	var realizedPnL *decimal.Decimal
	if dbTx.RealizedPnL.Valid {
		pnl := dbTx.RealizedPnL.Decimal
		realizedPnL = &pnl
	}

	return model.Transaction{
		TransactionID:  dbTx.TransactionID,
		PortfolioID:    dbTx.PortfolioID,
		Side:           model.TradeSide(dbTx.Side),
		Symbol:         dbTx.Symbol,
		Quantity:       dbTx.Quantity,
		Price:          dbTx.Price,
		Currency:       dbTx.Currency,
		Fees:           dbTx.Fees,
		NetAmount:      dbTx.NetAmount,
		TradeDate:      dbTx.TradeDate,
		SettlementDate: dbTx.SettlementDate,
		RealizedPnL:    realizedPnL,
		Notes:          dbTx.Notes.String,
	}
}

func ConvertPosition(dbPos dbModel.Position) model.Position {
	return model.Position{
		Symbol:    dbPos.Symbol,
		Quantity:  dbPos.Quantity,
		CostBasis: dbPos.CostBasis,
		Currency:  dbPos.Currency,
	}
}

func ConvertValuation(dbVal dbModel.DailyValuation) model.DailyValuation {
	return model.DailyValuation{
		PortfolioID:    dbVal.PortfolioID,
		Date:           dbVal.Date,
		TotalValue:     dbVal.TotalValue,
		CashBalance:    dbVal.CashBalance,
		PositionsValue: dbVal.PositionsValue,
		NetCashFlow:    dbVal.NetCashFlow,
		Currency:       dbVal.Currency,
	}
}

func ConvertCashFlow(dbFlow dbModel.CashFlow) model.CashFlow {
	return model.CashFlow{
		Date:   dbFlow.Date,
		Amount: dbFlow.Amount,
	}
}

func ConvertSnapshotToDb(s model.MetricsSnapshot) dbModel.MetricsSnapshot {
	return dbModel.MetricsSnapshot{
		PortfolioID:     s.PortfolioID,
		AsOfDate:        s.AsOfDate,
		PackID:          s.PackID,
		TWR:             s.TWR.TWR,
		AnnualizedTWR:   s.TWR.AnnualizedTWR,
		Volatility:      s.TWR.Volatility,
		Sharpe:          s.TWR.Sharpe,
		Sortino:         s.TWR.Sortino,
		DataPoints:      s.TWR.DataPoints,
		TWRError:        s.TWR.Err,
		MWR:             s.MWR.MWR,
		AnnualizedMWR:   s.MWR.AnnualizedMWR,
		MWRError:        s.MWR.Err,
		MaxDrawdown:     s.Drawdown.MaxDrawdown,
		MaxDrawdownDate: s.Drawdown.MaxDrawdownDate,
		PeakValue:       s.Drawdown.PeakValue,
		TroughValue:     s.Drawdown.TroughValue,
		RecoveryDays:    s.Drawdown.RecoveryDays,
		Vol30d:          s.RollingVol.Vol30d,
		Vol90d:          s.RollingVol.Vol90d,
		Vol252d:         s.RollingVol.Vol252d,
		ComputedAt:      s.ComputedAt,
	}
}

func ConvertSnapshot(dbSnap dbModel.MetricsSnapshot) model.MetricsSnapshot {
	return model.MetricsSnapshot{
		PortfolioID: dbSnap.PortfolioID,
		AsOfDate:    dbSnap.AsOfDate,
		PackID:      dbSnap.PackID,
		TWR: model.TWRResult{
			TWR:           dbSnap.TWR,
			AnnualizedTWR: dbSnap.AnnualizedTWR,
			Volatility:    dbSnap.Volatility,
			Sharpe:        dbSnap.Sharpe,
			Sortino:       dbSnap.Sortino,
			DataPoints:    dbSnap.DataPoints,
			Err:           dbSnap.TWRError,
		},
		MWR: model.MWRResult{
			MWR:           dbSnap.MWR,
			AnnualizedMWR: dbSnap.AnnualizedMWR,
			Err:           dbSnap.MWRError,
		},
		Drawdown: model.DrawdownResult{
			MaxDrawdown:     dbSnap.MaxDrawdown,
			MaxDrawdownDate: dbSnap.MaxDrawdownDate,
			PeakValue:       dbSnap.PeakValue,
			TroughValue:     dbSnap.TroughValue,
			RecoveryDays:    dbSnap.RecoveryDays,
		},
		RollingVol: model.RollingVolResult{
			Vol30d:  dbSnap.Vol30d,
			Vol90d:  dbSnap.Vol90d,
			Vol252d: dbSnap.Vol252d,
		},
		ComputedAt: dbSnap.ComputedAt,
	}
}
