package ledgerService

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/finvault/portfolio-ledger/config"
	"github.com/finvault/portfolio-ledger/data/repository"
	"github.com/finvault/portfolio-ledger/internal/model"
	"github.com/finvault/portfolio-ledger/internal/service"
	"github.com/finvault/portfolio-ledger/utils"
	"github.com/shopspring/decimal"
)

type Repository interface {
	InsertTransaction(ctx context.Context, tx model.Transaction) (transactionID int64, err error)
	InsertLot(ctx context.Context, lot model.Lot) (lotID int64, err error)
	// GetOpenLots must lock the returned rows for update; see WithinTransaction.
	GetOpenLots(ctx context.Context, portfolioID int64, symbol string, selection model.LotSelection) ([]model.Lot, error)
	GetLotForUpdate(ctx context.Context, lotID int64) (model.Lot, error)
	UpdateLotQuantity(ctx context.Context, lotID int64, quantityOpen decimal.Decimal, closedDate *time.Time) error
	SetTransactionRealizedPnL(ctx context.Context, transactionID int64, realizedPnL decimal.Decimal) error
	GetPositions(ctx context.Context, portfolioID int64) ([]model.Position, error)
	GetTransactions(ctx context.Context, portfolioID int64) ([]model.Transaction, error)
	// WithinTransaction is the engine's atomicity and serialization contract:
	// every buy/sell runs inside it, and the lot reads above hold their row
	// locks until it commits or rolls back.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Cache interface {
	GetPositions(ctx context.Context, portfolioID int64) ([]model.Position, error)
	SetPositions(ctx context.Context, portfolioID int64, positions []model.Position) error
	FlushPositions(ctx context.Context, portfolioID int64) error
}

type FxApi interface {
	GetRate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error)
}

// LedgerService executes buy/sell instructions against the lot ledger. It is
// the only writer of lots and transactions.
type LedgerService struct {
	cfg   *config.Config
	repo  Repository
	cache Cache
	fxApi FxApi
}

func New(cfg *config.Config, repo Repository, cache Cache, fxApi FxApi) *LedgerService {
	return &LedgerService{
		cfg:   cfg,
		repo:  repo,
		cache: cache,
		fxApi: fxApi,
	}
}

const settlementLagDays = 2 // T+2

// resolveFxRate picks the conversion rate from trade currency into base.
// An explicit rate on the request wins; otherwise the provider is asked;
// otherwise the configured policy decides between parity (1.0, logged) and
// rejecting the trade.
func (s *LedgerService) resolveFxRate(ctx context.Context, currency, baseCurrency string, explicit *decimal.Decimal, tradeDate time.Time) (decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.resolveFxRate"

	if currency == baseCurrency {
		return decimal.NewFromInt(1), nil
	}

	if explicit != nil {
		if explicit.LessThanOrEqual(decimal.Zero) {
			return decimal.Decimal{}, &service.InvalidTradeError{Reason: "fx rate must be positive"}
		}
		return *explicit, nil
	}

	rate, err := s.fxApi.GetRate(ctx, currency, baseCurrency, tradeDate)
	if err == nil && rate.GreaterThan(decimal.Zero) {
		return rate, nil
	}

	if err != nil {
		slog.Warn("can't get fx rate from provider", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	if s.cfg.Engine.FxAssumeParity {
		slog.Warn(
			"no fx rate available, assuming parity",
			slog.String("rqID", rqID),
			slog.String("op", op),
			slog.String("currency", currency),
			slog.String("baseCurrency", baseCurrency),
		)
		return decimal.NewFromInt(1), nil
	}

	return decimal.Decimal{}, &service.InvalidTradeError{Reason: "no fx rate for " + currency + "/" + baseCurrency}
}

func (s *LedgerService) baseCurrencyFor(requested string) string {
	if requested != "" {
		return requested
	}
	return s.cfg.Engine.BaseCurrency
}

func validateTrade(quantity, price decimal.Decimal) error {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return &service.InvalidTradeError{Reason: "quantity must be positive"}
	}
	if price.IsNegative() {
		return &service.InvalidTradeError{Reason: "price must not be negative"}
	}
	return nil
}

// ExecuteBuy creates exactly one transaction and one lot. Both writes commit
// together or not at all.
func (s *LedgerService) ExecuteBuy(ctx context.Context, req model.BuyRequest) (res model.BuyResult, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.ExecuteBuy"

	slog.Debug("ExecuteBuy start", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", req.Symbol), slog.Int64("portfolioID", req.PortfolioID))
	defer func() {
		slog.Debug("ExecuteBuy finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", req.Symbol))
	}()

	if err = validateTrade(req.Quantity, req.Price); err != nil {
		return model.BuyResult{}, err
	}

	baseCurrency := s.baseCurrencyFor(req.BaseCurrency)

	fxRate, err := s.resolveFxRate(ctx, req.Currency, baseCurrency, req.FxRate, req.TradeDate)
	if err != nil {
		return model.BuyResult{}, err
	}

	gross := req.Quantity.Mul(req.Price)
	totalCost := gross.Add(req.Fees)
	costBasisBase := totalCost.Mul(fxRate)

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		transactionID, txErr := s.repo.InsertTransaction(ctx, model.Transaction{
			PortfolioID:    req.PortfolioID,
			Side:           model.Buy,
			Symbol:         req.Symbol,
			Quantity:       req.Quantity,
			Price:          req.Price,
			Currency:       req.Currency,
			Fees:           req.Fees,
			NetAmount:      totalCost.Neg(),
			TradeDate:      req.TradeDate,
			SettlementDate: req.TradeDate.AddDate(0, 0, settlementLagDays),
			Notes:          req.Notes,
		})
		if txErr != nil {
			return txErr
		}

		lotID, lotErr := s.repo.InsertLot(ctx, model.Lot{
			PortfolioID:       req.PortfolioID,
			Symbol:            req.Symbol,
			AcquisitionDate:   req.TradeDate,
			QuantityOriginal:  req.Quantity,
			QuantityOpen:      req.Quantity,
			CostBasis:         costBasisBase,
			CostBasisPerShare: costBasisBase.Div(req.Quantity),
			Currency:          req.Currency,
			TransactionID:     transactionID,
		})
		if lotErr != nil {
			return lotErr
		}

		res = model.BuyResult{
			TransactionID: transactionID,
			LotID:         lotID,
			TotalCost:     totalCost,
			CostBasisBase: costBasisBase,
			FxRateUsed:    fxRate,
		}
		return nil
	})
	if err != nil {
		slog.Error("got error from repo on buy", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.BuyResult{}, err
	}

	if cacheErr := s.cache.FlushPositions(ctx, req.PortfolioID); cacheErr != nil {
		slog.Error("got error from cache.FlushPositions", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", cacheErr.Error()))
	}

	return res, nil
}

// candidateLots loads the lots eligible for a sell, already locked and in the
// selection method's deterministic order.
func (s *LedgerService) candidateLots(ctx context.Context, req model.SellRequest) ([]model.Lot, error) {
	if req.Selection != model.Specific {
		return s.repo.GetOpenLots(ctx, req.PortfolioID, req.Symbol, req.Selection)
	}

	if req.SpecificLotID == 0 {
		return nil, &service.InvalidTradeError{Reason: "specific lot selection requires a lot id"}
	}

	lot, err := s.repo.GetLotForUpdate(ctx, req.SpecificLotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &service.InvalidTradeError{Reason: "specific lot not found"}
		}
		return nil, err
	}

	if lot.PortfolioID != req.PortfolioID || lot.Symbol != req.Symbol {
		return nil, &service.InvalidTradeError{Reason: "specific lot does not match portfolio and symbol"}
	}
	if lot.QuantityOpen.IsZero() {
		return nil, &service.InvalidTradeError{Reason: "specific lot is already fully closed"}
	}

	return []model.Lot{lot}, nil
}

// ExecuteSell closes lots in the selection method's order until the full
// quantity is allocated. Cost basis amortizes against each lot's original
// per-share basis, never a running average. If the open quantity across the
// eligible lots is insufficient the whole operation aborts with no mutation.
func (s *LedgerService) ExecuteSell(ctx context.Context, req model.SellRequest) (res model.SellResult, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.ExecuteSell"

	slog.Debug("ExecuteSell start", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", req.Symbol), slog.Int64("portfolioID", req.PortfolioID), slog.String("selection", string(req.Selection)))
	defer func() {
		slog.Debug("ExecuteSell finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", req.Symbol))
	}()

	if err = validateTrade(req.Quantity, req.Price); err != nil {
		return model.SellResult{}, err
	}

	baseCurrency := s.baseCurrencyFor(req.BaseCurrency)

	fxRate, err := s.resolveFxRate(ctx, req.Currency, baseCurrency, req.FxRate, req.TradeDate)
	if err != nil {
		return model.SellResult{}, err
	}

	gross := req.Quantity.Mul(req.Price)
	netProceeds := gross.Sub(req.Fees)
	netProceedsBase := netProceeds.Mul(fxRate)
	// Net-of-fee, currency-converted proceeds spread across the full quantity
	// sold; every closed slice of every lot uses the same per-share figure.
	proceedsPerShare := netProceedsBase.Div(req.Quantity)

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		lots, lotsErr := s.candidateLots(ctx, req)
		if lotsErr != nil {
			return lotsErr
		}

		available := decimal.Zero
		for _, lot := range lots {
			available = available.Add(lot.QuantityOpen)
		}
		if available.LessThan(req.Quantity) {
			return &service.InsufficientSharesError{
				Symbol:    req.Symbol,
				Requested: req.Quantity,
				Available: available,
			}
		}

		transactionID, txErr := s.repo.InsertTransaction(ctx, model.Transaction{
			PortfolioID:    req.PortfolioID,
			Side:           model.Sell,
			Symbol:         req.Symbol,
			Quantity:       req.Quantity,
			Price:          req.Price,
			Currency:       req.Currency,
			Fees:           req.Fees,
			NetAmount:      netProceeds,
			TradeDate:      req.TradeDate,
			SettlementDate: req.TradeDate.AddDate(0, 0, settlementLagDays),
			Notes:          req.Notes,
		})
		if txErr != nil {
			return txErr
		}

		remaining := req.Quantity
		realizedPnL := decimal.Zero
		closed := make([]model.ClosedLot, 0, len(lots))

		for _, lot := range lots {
			if remaining.IsZero() {
				break
			}

			qtyToClose := decimal.Min(remaining, lot.QuantityOpen)
			costBasisClosed := qtyToClose.Mul(lot.CostBasisPerShare)
			proceedsClosed := qtyToClose.Mul(proceedsPerShare)
			lotPnL := proceedsClosed.Sub(costBasisClosed)

			newOpen := lot.QuantityOpen.Sub(qtyToClose)
			var closedDate *time.Time
			if newOpen.IsZero() {
				d := req.TradeDate
				closedDate = &d
			}

			if updErr := s.repo.UpdateLotQuantity(ctx, lot.LotID, newOpen, closedDate); updErr != nil {
				return updErr
			}

			closed = append(closed, model.ClosedLot{
				LotID:           lot.LotID,
				QuantityClosed:  qtyToClose,
				CostBasisClosed: costBasisClosed,
				Proceeds:        proceedsClosed,
				RealizedPnL:     lotPnL,
				FullyClosed:     newOpen.IsZero(),
			})
			realizedPnL = realizedPnL.Add(lotPnL)
			remaining = remaining.Sub(qtyToClose)
		}

		if pnlErr := s.repo.SetTransactionRealizedPnL(ctx, transactionID, realizedPnL); pnlErr != nil {
			return pnlErr
		}

		res = model.SellResult{
			TransactionID: transactionID,
			LotsClosed:    closed,
			RealizedPnL:   realizedPnL,
			FxRateUsed:    fxRate,
		}
		return nil
	})
	if err != nil {
		var invalidErr *service.InvalidTradeError
		var insufficientErr *service.InsufficientSharesError
		if errors.As(err, &invalidErr) || errors.As(err, &insufficientErr) {
			slog.Warn("sell rejected", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Error("got error from repo on sell", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
		return model.SellResult{}, err
	}

	if cacheErr := s.cache.FlushPositions(ctx, req.PortfolioID); cacheErr != nil {
		slog.Error("got error from cache.FlushPositions", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", cacheErr.Error()))
	}

	return res, nil
}

// GetPortfolioPositions aggregates open lots by (symbol, currency). Fully
// sold symbols drop out because only lots with open quantity contribute.
func (s *LedgerService) GetPortfolioPositions(ctx context.Context, portfolioID int64) ([]model.Position, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.GetPortfolioPositions"

	slog.Debug("GetPortfolioPositions start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	defer func() {
		slog.Debug("GetPortfolioPositions finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	}()

	positions, err := s.cache.GetPositions(ctx, portfolioID)
	if err == nil {
		return positions, nil
	}

	slog.Warn("can't get positions from cache", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))

	positions, err = s.repo.GetPositions(ctx, portfolioID)
	if err != nil {
		slog.Error("got error from repo.GetPositions", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	go s.cache.SetPositions(context.WithoutCancel(ctx), portfolioID, positions)

	return positions, nil
}

// GetPortfolioTransactions returns the full trade history, oldest first.
// Used by the nightly report.
func (s *LedgerService) GetPortfolioTransactions(ctx context.Context, portfolioID int64) ([]model.Transaction, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.GetPortfolioTransactions"

	transactions, err := s.repo.GetTransactions(ctx, portfolioID)
	if err != nil {
		slog.Error("got error from repo.GetTransactions", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	return transactions, nil
}
