package xlsxGenerator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finvault/portfolio-ledger/internal/model"
	"github.com/finvault/portfolio-ledger/utils"
	"github.com/xuri/excelize/v2"
)

type XLSXGenerator struct{}

func New() *XLSXGenerator {
	return &XLSXGenerator{}
}

// Generate renders one sheet per portfolio: the metrics snapshot on top,
// then open positions, then the trade history.
func (g *XLSXGenerator) Generate(ctx context.Context, reports []model.PortfolioReport) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XLSXGenerator.Generate"

	if len(reports) == 0 {
		return nil, "", errors.New("empty reports")
	}

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	for _, report := range reports {
		if err := g.fillSheet(f, report); err != nil {
			return nil, "", err
		}
	}

	// drop the default sheet
	if err := f.DeleteSheet("Sheet1"); err != nil {
		slog.Error("got error while deleting Sheet1", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("got error while saving file to bytes buffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate completed", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func (g *XLSXGenerator) headerStyle(f *excelize.File, color string) (int, error) {
	return f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Font: &excelize.Font{
			Bold: true,
			Size: 11,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{color},
		},
	})
}

func (g *XLSXGenerator) sectionHeader(f *excelize.File, sheetName, fromCell, toCell, title, color string) error {
	if err := f.MergeCell(sheetName, fromCell, toCell); err != nil {
		return err
	}

	f.SetCellValue(sheetName, fromCell, title)

	styleID, err := g.headerStyle(f, color)
	if err != nil {
		return err
	}

	if err := f.SetCellStyle(sheetName, fromCell, fromCell, styleID); err != nil {
		return fmt.Errorf("apply style: %w", err)
	}

	return nil
}

func (g *XLSXGenerator) fillSheet(f *excelize.File, report model.PortfolioReport) error {
	sheetName := fmt.Sprintf("portfolio %d", report.PortfolioID)
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}

	// metrics
	if err := g.sectionHeader(f, sheetName, "A1", "F1", "Performance", "#cfe2f3"); err != nil {
		return err
	}

	snap := report.Snapshot
	_ = f.SetCellStr(sheetName, "A2", "twr")
	_ = f.SetCellStr(sheetName, "B2", "annualized twr")
	_ = f.SetCellStr(sheetName, "C2", "volatility")
	_ = f.SetCellStr(sheetName, "D2", "sharpe")
	_ = f.SetCellStr(sheetName, "E2", "sortino")
	_ = f.SetCellStr(sheetName, "F2", "max drawdown")

	_ = f.SetCellValue(sheetName, "A3", snap.TWR.TWR)
	_ = f.SetCellValue(sheetName, "B3", snap.TWR.AnnualizedTWR)
	_ = f.SetCellValue(sheetName, "C3", snap.TWR.Volatility)
	_ = f.SetCellValue(sheetName, "D3", snap.TWR.Sharpe)
	_ = f.SetCellValue(sheetName, "E3", snap.TWR.Sortino)
	_ = f.SetCellValue(sheetName, "F3", snap.Drawdown.MaxDrawdown)

	_ = f.SetCellStr(sheetName, "A4", "mwr")
	_ = f.SetCellStr(sheetName, "B4", "annualized mwr")
	_ = f.SetCellStr(sheetName, "C4", "vol 30d")
	_ = f.SetCellStr(sheetName, "D4", "vol 90d")
	_ = f.SetCellStr(sheetName, "E4", "vol 252d")
	_ = f.SetCellStr(sheetName, "F4", "pack")

	_ = f.SetCellValue(sheetName, "A5", snap.MWR.MWR)
	_ = f.SetCellValue(sheetName, "B5", snap.MWR.AnnualizedMWR)
	_ = f.SetCellValue(sheetName, "C5", snap.RollingVol.Vol30d)
	_ = f.SetCellValue(sheetName, "D5", snap.RollingVol.Vol90d)
	_ = f.SetCellValue(sheetName, "E5", snap.RollingVol.Vol252d)
	_ = f.SetCellStr(sheetName, "F5", snap.PackID)

	// open positions
	rowNum := 7
	if err := g.sectionHeader(f, sheetName, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("D%d", rowNum), "Open positions", "#d9ead3"); err != nil {
		return err
	}

	rowNum++
	_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), "symbol")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", rowNum), "quantity")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", rowNum), "cost basis")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("D%d", rowNum), "currency")

	for _, position := range report.Positions {
		rowNum++
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), position.Symbol)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", rowNum), position.Quantity.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", rowNum), position.CostBasis.InexactFloat64())
		_ = f.SetCellStr(sheetName, fmt.Sprintf("D%d", rowNum), position.Currency)
	}

	// trade history
	rowNum += 2
	if err := g.sectionHeader(f, sheetName, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("H%d", rowNum), "Trade history", "#cccccc"); err != nil {
		return err
	}

	rowNum++
	_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), "date")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", rowNum), "side")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", rowNum), "symbol")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("D%d", rowNum), "quantity")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("E%d", rowNum), "price")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("F%d", rowNum), "fees")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("G%d", rowNum), "currency")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("H%d", rowNum), "realized pnl")

	for _, tx := range report.Transactions {
		rowNum++
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", rowNum), tx.TradeDate)
		_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", rowNum), string(tx.Side))
		_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", rowNum), tx.Symbol)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", rowNum), tx.Quantity.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", rowNum), tx.Price.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", rowNum), tx.Fees.InexactFloat64())
		_ = f.SetCellStr(sheetName, fmt.Sprintf("G%d", rowNum), tx.Currency)
		if tx.RealizedPnL != nil {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", rowNum), tx.RealizedPnL.InexactFloat64())
		}
	}

	return nil
}
