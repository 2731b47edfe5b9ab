package nightlyService

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/finvault/portfolio-ledger/internal/model"
	"github.com/finvault/portfolio-ledger/utils"
)

type Ledger interface {
	GetPortfolioPositions(ctx context.Context, portfolioID int64) ([]model.Position, error)
	GetPortfolioTransactions(ctx context.Context, portfolioID int64) ([]model.Transaction, error)
}

type Performance interface {
	OpenPricingPack(ctx context.Context, asOfDate time.Time) (model.PricingPack, error)
	ListPortfolios(ctx context.Context) ([]int64, error)
	ComputeSnapshot(ctx context.Context, portfolioID int64, packID string, lookbackDays int) (model.MetricsSnapshot, error)
}

type ReportGenerator interface {
	Generate(ctx context.Context, reports []model.PortfolioReport) (fileBytes []byte, fileExtension string, err error)
}

type CloudStorage interface {
	UploadFile(ctx context.Context, reader io.Reader, filename string) (downloadLink string, err error)
	DeleteOldFiles(ctx context.Context) error
}

// NightlyService sequences the nightly metrics run. It is deliberately thin:
// open a pack, compute a snapshot per portfolio, render the workbook, upload
// it. A portfolio whose store reads fail is logged and skipped so the rest of
// the batch still lands.
type NightlyService struct {
	ledger       Ledger
	performance  Performance
	reportGen    ReportGenerator
	cloudStorage CloudStorage
}

func New(ledger Ledger, performance Performance, reportGen ReportGenerator, cloudStorage CloudStorage) *NightlyService {
	return &NightlyService{
		ledger:       ledger,
		performance:  performance,
		reportGen:    reportGen,
		cloudStorage: cloudStorage,
	}
}

func (s *NightlyService) Run(ctx context.Context) error {
	ctx = utils.CreateCtxWithRqID(ctx)
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "NightlyService.Run"

	slog.Info("nightly run start", slog.String("rqID", rqID), slog.String("op", op))

	asOfDate := time.Now().UTC().Truncate(24 * time.Hour)

	pack, err := s.performance.OpenPricingPack(ctx, asOfDate)
	if err != nil {
		return err
	}

	portfolioIDs, err := s.performance.ListPortfolios(ctx)
	if err != nil {
		return err
	}

	reports := make([]model.PortfolioReport, 0, len(portfolioIDs))
	for _, portfolioID := range portfolioIDs {
		report, err := s.buildReport(ctx, portfolioID, pack.PackID)
		if err != nil {
			slog.Error(
				"skipping portfolio in nightly run",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.Int64("portfolioID", portfolioID),
				slog.String("err", err.Error()),
			)
			continue
		}
		reports = append(reports, report)
	}

	if len(reports) == 0 {
		slog.Warn("nightly run produced no reports", slog.String("rqID", rqID), slog.String("op", op))
		return nil
	}

	fileBytes, fileExtension, err := s.reportGen.Generate(ctx, reports)
	if err != nil {
		slog.Error("got error from reportGen.Generate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	filename := fmt.Sprintf("performance_%s%s", asOfDate.Format("2006-01-02"), fileExtension)
	link, err := s.cloudStorage.UploadFile(ctx, bytes.NewReader(fileBytes), filename)
	if err != nil {
		slog.Error("got error from cloudStorage.UploadFile", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	if err := s.cloudStorage.DeleteOldFiles(ctx); err != nil {
		slog.Error("got error from cloudStorage.DeleteOldFiles", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	slog.Info(
		"nightly run completed",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.String("packID", pack.PackID),
		slog.Int("portfolios", len(reports)),
		slog.String("report", link),
	)

	return nil
}

func (s *NightlyService) buildReport(ctx context.Context, portfolioID int64, packID string) (model.PortfolioReport, error) {
	snapshot, err := s.performance.ComputeSnapshot(ctx, portfolioID, packID, 0)
	if err != nil {
		return model.PortfolioReport{}, err
	}

	positions, err := s.ledger.GetPortfolioPositions(ctx, portfolioID)
	if err != nil {
		return model.PortfolioReport{}, err
	}

	transactions, err := s.ledger.GetPortfolioTransactions(ctx, portfolioID)
	if err != nil {
		return model.PortfolioReport{}, err
	}

	return model.PortfolioReport{
		PortfolioID:  portfolioID,
		Positions:    positions,
		Transactions: transactions,
		Snapshot:     snapshot,
	}, nil
}
