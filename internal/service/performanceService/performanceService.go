package performanceService

import (
	"context"
	"log/slog"
	"time"

	"github.com/finvault/portfolio-ledger/config"
	"github.com/finvault/portfolio-ledger/internal/model"
	"github.com/finvault/portfolio-ledger/utils"
	"github.com/google/uuid"
)

type Repository interface {
	GetDailyValuations(ctx context.Context, portfolioID int64, startDate, endDate time.Time) ([]model.DailyValuation, error)
	GetCashFlows(ctx context.Context, portfolioID int64, startDate, endDate time.Time) ([]model.CashFlow, error)
	InsertPricingPack(ctx context.Context, pack model.PricingPack) error
	GetPricingPackDate(ctx context.Context, packID string) (time.Time, error)
	UpsertMetricsSnapshot(ctx context.Context, snapshot model.MetricsSnapshot) error
	GetMetricsSnapshot(ctx context.Context, portfolioID int64, asOfDate time.Time, packID string) (model.MetricsSnapshot, error)
	GetPortfolioIDs(ctx context.Context) ([]int64, error)
}

type Cache interface {
	GetMetricsSnapshot(ctx context.Context, portfolioID int64, packID string) (model.MetricsSnapshot, error)
	SetMetricsSnapshot(ctx context.Context, snapshot model.MetricsSnapshot) error
}

// PerformanceService derives return and risk metrics from the daily valuation
// and cash-flow series. It never mutates ledger state; every computation is
// keyed by a pricing-pack id so the same pack always reproduces the same
// figures.
type PerformanceService struct {
	cfg   *config.Config
	repo  Repository
	cache Cache
}

func New(cfg *config.Config, repo Repository, cache Cache) *PerformanceService {
	return &PerformanceService{
		cfg:   cfg,
		repo:  repo,
		cache: cache,
	}
}

// OpenPricingPack mints a new pack pinned to asOfDate and persists it.
func (s *PerformanceService) OpenPricingPack(ctx context.Context, asOfDate time.Time) (model.PricingPack, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PerformanceService.OpenPricingPack"

	pack := model.PricingPack{
		PackID:   uuid.NewString(),
		AsOfDate: asOfDate,
	}

	if err := s.repo.InsertPricingPack(ctx, pack); err != nil {
		slog.Error("got error from repo.InsertPricingPack", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PricingPack{}, err
	}

	return pack, nil
}

func (s *PerformanceService) ListPortfolios(ctx context.Context) ([]int64, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PerformanceService.ListPortfolios"

	portfolioIDs, err := s.repo.GetPortfolioIDs(ctx)
	if err != nil {
		slog.Error("got error from repo.GetPortfolioIDs", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	return portfolioIDs, nil
}

// window loads the valuation series of the lookback ending at the pack's
// as-of date.
func (s *PerformanceService) window(ctx context.Context, portfolioID int64, packID string, lookbackDays int) ([]model.DailyValuation, time.Time, error) {
	asOfDate, err := s.repo.GetPricingPackDate(ctx, packID)
	if err != nil {
		return nil, time.Time{}, err
	}

	startDate := asOfDate.AddDate(0, 0, -lookbackDays)
	series, err := s.repo.GetDailyValuations(ctx, portfolioID, startDate, asOfDate)
	if err != nil {
		return nil, time.Time{}, err
	}

	return series, asOfDate, nil
}

// TWR computes the time-weighted return block. A Go error means the store
// failed; thin history is reported inside the result instead.
func (s *PerformanceService) TWR(ctx context.Context, portfolioID int64, packID string, lookbackDays int) (model.TWRResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PerformanceService.TWR"

	slog.Debug("TWR start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID), slog.String("packID", packID))
	defer func() {
		slog.Debug("TWR finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	}()

	series, _, err := s.window(ctx, portfolioID, packID, lookbackDays)
	if err != nil {
		return model.TWRResult{}, err
	}

	return ComputeTWR(series, s.cfg.Engine.RiskFreeRate), nil
}

// MWR computes the money-weighted return over the MWR lookback. The terminal
// value is the last valuation in the window.
func (s *PerformanceService) MWR(ctx context.Context, portfolioID int64, packID string) (model.MWRResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PerformanceService.MWR"

	slog.Debug("MWR start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID), slog.String("packID", packID))
	defer func() {
		slog.Debug("MWR finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	}()

	series, asOfDate, err := s.window(ctx, portfolioID, packID, s.cfg.Engine.MwrLookbackDays)
	if err != nil {
		return model.MWRResult{}, err
	}

	startDate := asOfDate.AddDate(0, 0, -s.cfg.Engine.MwrLookbackDays)
	flows, err := s.repo.GetCashFlows(ctx, portfolioID, startDate, asOfDate)
	if err != nil {
		return model.MWRResult{}, err
	}

	terminalValue := 0.0
	terminalDate := asOfDate
	if len(series) > 0 {
		last := series[len(series)-1]
		terminalValue = last.TotalValue.InexactFloat64()
		terminalDate = last.Date
	}

	return ComputeMWR(flows, terminalValue, terminalDate), nil
}

func (s *PerformanceService) MaxDrawdown(ctx context.Context, portfolioID int64, packID string, lookbackDays int) (model.DrawdownResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PerformanceService.MaxDrawdown"

	slog.Debug("MaxDrawdown start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID), slog.String("packID", packID))

	series, _, err := s.window(ctx, portfolioID, packID, lookbackDays)
	if err != nil {
		return model.DrawdownResult{}, err
	}

	return ComputeMaxDrawdown(series), nil
}

func (s *PerformanceService) RollingVolatility(ctx context.Context, portfolioID int64, packID string, lookbackDays int) (model.RollingVolResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PerformanceService.RollingVolatility"

	slog.Debug("RollingVolatility start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID), slog.String("packID", packID))

	series, _, err := s.window(ctx, portfolioID, packID, lookbackDays)
	if err != nil {
		return model.RollingVolResult{}, err
	}

	return ComputeRollingVolatility(series), nil
}

// ComputeSnapshot computes the full figure set for one portfolio, upserts it
// under (portfolio, as-of date, pack) and caches it. Metric-level problems
// travel inside the snapshot so a thin portfolio never aborts the batch.
func (s *PerformanceService) ComputeSnapshot(ctx context.Context, portfolioID int64, packID string, lookbackDays int) (model.MetricsSnapshot, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PerformanceService.ComputeSnapshot"

	slog.Debug("ComputeSnapshot start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID), slog.String("packID", packID))
	defer func() {
		slog.Debug("ComputeSnapshot finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	}()

	if lookbackDays <= 0 {
		lookbackDays = s.cfg.Engine.LookbackDays
	}

	series, asOfDate, err := s.window(ctx, portfolioID, packID, lookbackDays)
	if err != nil {
		return model.MetricsSnapshot{}, err
	}

	twr := ComputeTWR(series, s.cfg.Engine.RiskFreeRate)
	drawdown := ComputeMaxDrawdown(series)
	rollingVol := ComputeRollingVolatility(series)

	mwr, err := s.MWR(ctx, portfolioID, packID)
	if err != nil {
		return model.MetricsSnapshot{}, err
	}

	snapshot := model.MetricsSnapshot{
		PortfolioID: portfolioID,
		AsOfDate:    asOfDate,
		PackID:      packID,
		TWR:         twr,
		MWR:         mwr,
		Drawdown:    drawdown,
		RollingVol:  rollingVol,
		ComputedAt:  time.Now().UTC(),
	}

	if err := s.repo.UpsertMetricsSnapshot(ctx, snapshot); err != nil {
		slog.Error("got error from repo.UpsertMetricsSnapshot", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.MetricsSnapshot{}, err
	}

	go s.cache.SetMetricsSnapshot(context.WithoutCancel(ctx), snapshot)

	return snapshot, nil
}

// GetSnapshot serves a previously computed snapshot, cache first.
func (s *PerformanceService) GetSnapshot(ctx context.Context, portfolioID int64, packID string) (model.MetricsSnapshot, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PerformanceService.GetSnapshot"

	snapshot, err := s.cache.GetMetricsSnapshot(ctx, portfolioID, packID)
	if err == nil {
		return snapshot, nil
	}

	slog.Warn("can't get snapshot from cache", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))

	asOfDate, err := s.repo.GetPricingPackDate(ctx, packID)
	if err != nil {
		return model.MetricsSnapshot{}, err
	}

	snapshot, err = s.repo.GetMetricsSnapshot(ctx, portfolioID, asOfDate, packID)
	if err != nil {
		slog.Error("got error from repo.GetMetricsSnapshot", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.MetricsSnapshot{}, err
	}

	go s.cache.SetMetricsSnapshot(context.WithoutCancel(ctx), snapshot)

	return snapshot, nil
}
