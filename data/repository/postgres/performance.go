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
	"github.com/jackc/pgx/v5/pgconn"
)

func (r *Postgres) GetDailyValuations(ctx context.Context, portfolioID int64, startDate, endDate time.Time) (valuations []model.DailyValuation, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetDailyValuations"
	params := map[string]any{
		"portfolioID": portfolioID,
		"startDate":   startDate,
		"endDate":     endDate,
	}
	query := `
		SELECT portfolio_id, valuation_date, total_value, cash_balance, positions_value, net_cash_flow, currency
		FROM daily_valuations
		WHERE portfolio_id = $1
		AND valuation_date BETWEEN $2 AND $3
		ORDER BY valuation_date
		`

	slog.Debug("GetDailyValuations start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("GetDailyValuations failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetDailyValuations completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, portfolioID, startDate, endDate)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var valuation dbModel.DailyValuation
		err = rows.StructScan(&valuation)
		if err != nil {
			return nil, err
		}
		valuations = append(valuations, dbConverter.ConvertValuation(valuation))
	}

	return valuations, nil
}

func (r *Postgres) GetCashFlows(ctx context.Context, portfolioID int64, startDate, endDate time.Time) (flows []model.CashFlow, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetCashFlows"
	params := map[string]any{
		"portfolioID": portfolioID,
		"startDate":   startDate,
		"endDate":     endDate,
	}
	query := `
		SELECT flow_date, amount
		FROM cash_flows
		WHERE portfolio_id = $1
		AND flow_date BETWEEN $2 AND $3
		ORDER BY flow_date
		`

	slog.Debug("GetCashFlows start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("GetCashFlows failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetCashFlows completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, portfolioID, startDate, endDate)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var flow dbModel.CashFlow
		err = rows.StructScan(&flow)
		if err != nil {
			return nil, err
		}
		flows = append(flows, dbConverter.ConvertCashFlow(flow))
	}

	return flows, nil
}

func (r *Postgres) InsertPricingPack(ctx context.Context, pack model.PricingPack) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertPricingPack"
	query := `INSERT INTO pricing_packs(pack_id, as_of_date) VALUES($1, $2)`

	slog.Debug("InsertPricingPack start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("pack", pack))
	defer func() {
		if err != nil {
			slog.Error("InsertPricingPack failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertPricingPack completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, pack.PackID, pack.AsOfDate)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return repository.ErrAlreadyExists
			}
		}
		return err
	}

	return nil
}

// GetPricingPackDate resolves a pack id to its as-of date. The same pack id
// always resolves to the same date, which is what makes metric runs
// reproducible.
func (r *Postgres) GetPricingPackDate(ctx context.Context, packID string) (asOfDate time.Time, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetPricingPackDate"
	params := map[string]any{
		"packID": packID,
	}
	query := `SELECT as_of_date FROM pricing_packs WHERE pack_id = $1`

	slog.Debug("GetPricingPackDate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("GetPricingPackDate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetPricingPackDate completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, packID).Scan(&asOfDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, repository.ErrNotFound
		}
		return time.Time{}, err
	}

	return asOfDate, nil
}

// UpsertMetricsSnapshot writes the full figure set for one (portfolio, as-of
// date, pack) key. Recomputation replaces the whole row, never parts of it.
func (r *Postgres) UpsertMetricsSnapshot(ctx context.Context, snapshot model.MetricsSnapshot) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpsertMetricsSnapshot"
	query := `
		INSERT INTO performance_metrics(
			portfolio_id, as_of_date, pack_id,
			twr, annualized_twr, volatility, sharpe, sortino, data_points, twr_error,
			mwr, annualized_mwr, mwr_error,
			max_drawdown, max_drawdown_date, peak_value, trough_value, recovery_days,
			vol_30d, vol_90d, vol_252d, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (portfolio_id, as_of_date, pack_id) DO UPDATE SET
			twr = EXCLUDED.twr,
			annualized_twr = EXCLUDED.annualized_twr,
			volatility = EXCLUDED.volatility,
			sharpe = EXCLUDED.sharpe,
			sortino = EXCLUDED.sortino,
			data_points = EXCLUDED.data_points,
			twr_error = EXCLUDED.twr_error,
			mwr = EXCLUDED.mwr,
			annualized_mwr = EXCLUDED.annualized_mwr,
			mwr_error = EXCLUDED.mwr_error,
			max_drawdown = EXCLUDED.max_drawdown,
			max_drawdown_date = EXCLUDED.max_drawdown_date,
			peak_value = EXCLUDED.peak_value,
			trough_value = EXCLUDED.trough_value,
			recovery_days = EXCLUDED.recovery_days,
			vol_30d = EXCLUDED.vol_30d,
			vol_90d = EXCLUDED.vol_90d,
			vol_252d = EXCLUDED.vol_252d,
			computed_at = EXCLUDED.computed_at
		`

	slog.Debug("UpsertMetricsSnapshot start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("UpsertMetricsSnapshot failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpsertMetricsSnapshot completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbSnap := dbConverter.ConvertSnapshotToDb(snapshot)

	_, err = r.txOrDb(ctx).ExecContext(
		ctx,
		query,
		dbSnap.PortfolioID,
		dbSnap.AsOfDate,
		dbSnap.PackID,
		dbSnap.TWR,
		dbSnap.AnnualizedTWR,
		dbSnap.Volatility,
		dbSnap.Sharpe,
		dbSnap.Sortino,
		dbSnap.DataPoints,
		dbSnap.TWRError,
		dbSnap.MWR,
		dbSnap.AnnualizedMWR,
		dbSnap.MWRError,
		dbSnap.MaxDrawdown,
		dbSnap.MaxDrawdownDate,
		dbSnap.PeakValue,
		dbSnap.TroughValue,
		dbSnap.RecoveryDays,
		dbSnap.Vol30d,
		dbSnap.Vol90d,
		dbSnap.Vol252d,
		dbSnap.ComputedAt,
	)

	if err != nil {
		return err
	}
	return nil
}

func (r *Postgres) GetMetricsSnapshot(ctx context.Context, portfolioID int64, asOfDate time.Time, packID string) (snapshot model.MetricsSnapshot, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetMetricsSnapshot"
	params := map[string]any{
		"portfolioID": portfolioID,
		"asOfDate":    asOfDate,
		"packID":      packID,
	}
	query := `
		SELECT portfolio_id, as_of_date, pack_id,
			twr, annualized_twr, volatility, sharpe, sortino, data_points, twr_error,
			mwr, annualized_mwr, mwr_error,
			max_drawdown, max_drawdown_date, peak_value, trough_value, recovery_days,
			vol_30d, vol_90d, vol_252d, computed_at
		FROM performance_metrics
		WHERE portfolio_id = $1
		AND as_of_date = $2
		AND pack_id = $3
		`

	slog.Debug("GetMetricsSnapshot start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("GetMetricsSnapshot failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetMetricsSnapshot completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbSnap := dbModel.MetricsSnapshot{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, portfolioID, asOfDate, packID).StructScan(&dbSnap)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.MetricsSnapshot{}, repository.ErrNotFound
		}
		return model.MetricsSnapshot{}, err
	}

	return dbConverter.ConvertSnapshot(dbSnap), nil
}
