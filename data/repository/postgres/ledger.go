package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/finvault/portfolio-ledger/data/repository"
	"github.com/finvault/portfolio-ledger/internal/converter/dbConverter"
	"github.com/finvault/portfolio-ledger/internal/model"
	"github.com/finvault/portfolio-ledger/internal/model/dbModel"
	"github.com/finvault/portfolio-ledger/utils"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/shopspring/decimal"
)

// orderingFor maps a lot selection method to its deterministic ORDER BY
// clause. lot_id breaks acquisition-date ties because ids are monotonically
// assigned in creation order.
func orderingFor(selection model.LotSelection) string {
	switch selection {
	case model.LIFO:
		return "acquisition_date DESC, lot_id DESC"
	case model.HIFO:
		return "cost_basis_per_share DESC, acquisition_date ASC"
	default: // FIFO
		return "acquisition_date ASC, lot_id ASC"
	}
}

func (r *Postgres) InsertTransaction(ctx context.Context, tx model.Transaction) (transactionID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertTransaction"
	query := `
		INSERT INTO transactions(portfolio_id, side, symbol, quantity, price, currency, fees, net_amount, trade_date, settlement_date, notes)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING transaction_id
		`

	slog.Debug("InsertTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(
		ctx,
		query,
		tx.PortfolioID,
		string(tx.Side),
		tx.Symbol,
		tx.Quantity,
		tx.Price,
		tx.Currency,
		tx.Fees,
		tx.NetAmount,
		tx.TradeDate,
		tx.SettlementDate,
		tx.Notes,
	).Scan(&transactionID)
	if err != nil {
		return 0, err
	}

	return transactionID, nil
}

func (r *Postgres) InsertLot(ctx context.Context, lot model.Lot) (lotID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertLot"
	query := `
		INSERT INTO lots(portfolio_id, symbol, acquisition_date, quantity_original, quantity_open, cost_basis, cost_basis_per_share, currency, transaction_id)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING lot_id
		`

	slog.Debug("InsertLot start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertLot failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertLot completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbLot := dbConverter.ConvertLotToDb(lot)

	err = r.txOrDb(ctx).QueryRowContext(
		ctx,
		query,
		dbLot.PortfolioID,
		dbLot.Symbol,
		dbLot.AcquisitionDate,
		dbLot.QuantityOriginal,
		dbLot.QuantityOpen,
		dbLot.CostBasis,
		dbLot.CostBasisPerShare,
		dbLot.Currency,
		dbLot.TransactionID,
	).Scan(&lotID)
	if err != nil {
		return 0, err
	}

	return lotID, nil
}

// GetOpenLots selects the open lots of one (portfolio, symbol) in the order
// the selection method dictates. The rows are locked FOR UPDATE: callers must
// run inside WithinTransaction so that concurrent sells of the same pair
// serialize on the candidate lots instead of double-spending them.
func (r *Postgres) GetOpenLots(ctx context.Context, portfolioID int64, symbol string, selection model.LotSelection) (lots []model.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetOpenLots"
	params := map[string]any{
		"portfolioID": portfolioID,
		"symbol":      symbol,
		"selection":   selection,
	}
	query := `
		SELECT lot_id, portfolio_id, symbol, acquisition_date, quantity_original, quantity_open, cost_basis, cost_basis_per_share, currency, closed_date, transaction_id
		FROM lots
		WHERE portfolio_id = $1
		AND symbol = $2
		AND quantity_open > 0
		ORDER BY ` + orderingFor(selection) + `
		FOR UPDATE
		`

	slog.Debug("GetOpenLots start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("GetOpenLots failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetOpenLots completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, portfolioID, symbol)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var lot dbModel.Lot
		err = rows.StructScan(&lot)
		if err != nil {
			return nil, err
		}
		lots = append(lots, dbConverter.ConvertLot(lot))
	}

	return lots, nil
}

// GetLotForUpdate locks and returns a single lot by id, open or not.
func (r *Postgres) GetLotForUpdate(ctx context.Context, lotID int64) (lot model.Lot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetLotForUpdate"
	params := map[string]any{
		"lotID": lotID,
	}
	query := `
		SELECT lot_id, portfolio_id, symbol, acquisition_date, quantity_original, quantity_open, cost_basis, cost_basis_per_share, currency, closed_date, transaction_id
		FROM lots
		WHERE lot_id = $1
		FOR UPDATE
		`

	slog.Debug("GetLotForUpdate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("GetLotForUpdate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetLotForUpdate completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbLot := dbModel.Lot{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, lotID).StructScan(&dbLot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Lot{}, repository.ErrNotFound
		}
		return model.Lot{}, err
	}

	return dbConverter.ConvertLot(dbLot), nil
}

func (r *Postgres) UpdateLotQuantity(ctx context.Context, lotID int64, quantityOpen decimal.Decimal, closedDate *time.Time) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpdateLotQuantity"
	params := map[string]any{
		"lotID":        lotID,
		"quantityOpen": quantityOpen,
		"closedDate":   closedDate,
	}
	query := `
		UPDATE lots
		SET
			quantity_open = $1,
			closed_date = $2
		WHERE lot_id = $3
		`

	slog.Debug("UpdateLotQuantity start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("UpdateLotQuantity failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateLotQuantity completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	closed := sql.NullTime{}
	if closedDate != nil {
		closed = sql.NullTime{Time: *closedDate, Valid: true}
	}

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, quantityOpen, closed, lotID)
	if err != nil {
		return err
	}

	return nil
}

// SetTransactionRealizedPnL attaches the realized P&L annotation to a sell
// transaction. The financial fields of the row are never touched again.
func (r *Postgres) SetTransactionRealizedPnL(ctx context.Context, transactionID int64, realizedPnL decimal.Decimal) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.SetTransactionRealizedPnL"
	params := map[string]any{
		"transactionID": transactionID,
		"realizedPnL":   realizedPnL,
	}
	query := `
		UPDATE transactions
		SET realized_pnl = $1
		WHERE transaction_id = $2
		`

	slog.Debug("SetTransactionRealizedPnL start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("SetTransactionRealizedPnL failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("SetTransactionRealizedPnL completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, realizedPnL, transactionID)
	if err != nil {
		return err
	}

	return nil
}

// GetPositions aggregates open lots by (symbol, currency). The remaining
// basis sums quantity_open at the original per-share rate, so it stays
// consistent with the amortization the sell path applies.
func (r *Postgres) GetPositions(ctx context.Context, portfolioID int64) (positions []model.Position, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetPositions"
	params := map[string]any{
		"portfolioID": portfolioID,
	}
	query := `
		SELECT symbol, SUM(quantity_open) AS quantity, SUM(quantity_open * cost_basis_per_share) AS cost_basis, currency
		FROM lots
		WHERE portfolio_id = $1
		AND quantity_open > 0
		GROUP BY symbol, currency
		ORDER BY symbol
		`

	slog.Debug("GetPositions start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("GetPositions failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetPositions completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, portfolioID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	positions = make([]model.Position, 0)
	for rows.Next() {
		var pos dbModel.Position
		err = rows.StructScan(&pos)
		if err != nil {
			return nil, err
		}
		positions = append(positions, dbConverter.ConvertPosition(pos))
	}

	return positions, nil
}

func (r *Postgres) GetTransactions(ctx context.Context, portfolioID int64) (transactions []model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTransactions"
	params := map[string]any{
		"portfolioID": portfolioID,
	}
	query := `
		SELECT transaction_id, portfolio_id, side, symbol, quantity, price, currency, fees, net_amount, trade_date, settlement_date, realized_pnl, notes
		FROM transactions
		WHERE portfolio_id = $1
		ORDER BY trade_date, transaction_id
		`

	slog.Debug("GetTransactions start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("GetTransactions failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransactions completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, portfolioID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var tx dbModel.Transaction
		err = rows.StructScan(&tx)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, dbConverter.ConvertTransaction(tx))
	}

	return transactions, nil
}

func (r *Postgres) GetPortfolioIDs(ctx context.Context) (portfolioIDs []int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetPortfolioIDs"
	query := `SELECT portfolio_id FROM portfolios ORDER BY portfolio_id`

	slog.Debug("GetPortfolioIDs start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetPortfolioIDs failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetPortfolioIDs completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).SelectContext(ctx, &portfolioIDs, query)
	if err != nil {
		return nil, err
	}

	return portfolioIDs, nil
}
