package ledgerService

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/finvault/portfolio-ledger/config"
	"github.com/finvault/portfolio-ledger/data/repository"
	"github.com/finvault/portfolio-ledger/internal/model"
	"github.com/finvault/portfolio-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// memRepo implements Repository in memory with snapshot-based atomicity so
// the trade paths can be exercised end to end without postgres.
type memRepo struct {
	lots         []model.Lot
	transactions []model.Transaction
	nextLotID    int64
	nextTxID     int64
}

func newMemRepo() *memRepo {
	return &memRepo{nextLotID: 1, nextTxID: 1}
}

func (r *memRepo) InsertTransaction(_ context.Context, tx model.Transaction) (int64, error) {
	tx.TransactionID = r.nextTxID
	r.nextTxID++
	r.transactions = append(r.transactions, tx)
	return tx.TransactionID, nil
}

func (r *memRepo) InsertLot(_ context.Context, lot model.Lot) (int64, error) {
	lot.LotID = r.nextLotID
	r.nextLotID++
	r.lots = append(r.lots, lot)
	return lot.LotID, nil
}

func (r *memRepo) GetOpenLots(_ context.Context, portfolioID int64, symbol string, selection model.LotSelection) ([]model.Lot, error) {
	var open []model.Lot
	for _, lot := range r.lots {
		if lot.PortfolioID == portfolioID && lot.Symbol == symbol && lot.QuantityOpen.GreaterThan(decimal.Zero) {
			open = append(open, lot)
		}
	}

	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i], open[j]
		switch selection {
		case model.LIFO:
			if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
				return a.AcquisitionDate.After(b.AcquisitionDate)
			}
			return a.LotID > b.LotID
		case model.HIFO:
			if !a.CostBasisPerShare.Equal(b.CostBasisPerShare) {
				return a.CostBasisPerShare.GreaterThan(b.CostBasisPerShare)
			}
			return a.AcquisitionDate.Before(b.AcquisitionDate)
		default:
			if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
				return a.AcquisitionDate.Before(b.AcquisitionDate)
			}
			return a.LotID < b.LotID
		}
	})

	return open, nil
}

func (r *memRepo) GetLotForUpdate(_ context.Context, lotID int64) (model.Lot, error) {
	for _, lot := range r.lots {
		if lot.LotID == lotID {
			return lot, nil
		}
	}
	return model.Lot{}, repository.ErrNotFound
}

func (r *memRepo) UpdateLotQuantity(_ context.Context, lotID int64, quantityOpen decimal.Decimal, closedDate *time.Time) error {
	for i := range r.lots {
		if r.lots[i].LotID == lotID {
			r.lots[i].QuantityOpen = quantityOpen
			r.lots[i].ClosedDate = closedDate
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memRepo) SetTransactionRealizedPnL(_ context.Context, transactionID int64, realizedPnL decimal.Decimal) error {
	for i := range r.transactions {
		if r.transactions[i].TransactionID == transactionID {
			pnl := realizedPnL
			r.transactions[i].RealizedPnL = &pnl
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memRepo) GetPositions(_ context.Context, portfolioID int64) ([]model.Position, error) {
	type key struct {
		symbol   string
		currency string
	}
	grouped := make(map[key]model.Position)
	for _, lot := range r.lots {
		if lot.PortfolioID != portfolioID || !lot.QuantityOpen.GreaterThan(decimal.Zero) {
			continue
		}
		k := key{symbol: lot.Symbol, currency: lot.Currency}
		pos := grouped[k]
		pos.Symbol = lot.Symbol
		pos.Currency = lot.Currency
		pos.Quantity = pos.Quantity.Add(lot.QuantityOpen)
		pos.CostBasis = pos.CostBasis.Add(lot.QuantityOpen.Mul(lot.CostBasisPerShare))
		grouped[k] = pos
	}

	positions := make([]model.Position, 0, len(grouped))
	for _, pos := range grouped {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

func (r *memRepo) GetTransactions(_ context.Context, portfolioID int64) ([]model.Transaction, error) {
	var out []model.Transaction
	for _, tx := range r.transactions {
		if tx.PortfolioID == portfolioID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// WithinTransaction snapshots the state and restores it if fn fails, which
// mirrors the rollback the postgres repository gets for free.
func (r *memRepo) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	lotsBackup := append([]model.Lot(nil), r.lots...)
	txBackup := append([]model.Transaction(nil), r.transactions...)
	nextLot, nextTx := r.nextLotID, r.nextTxID

	if err := fn(ctx); err != nil {
		r.lots = lotsBackup
		r.transactions = txBackup
		r.nextLotID, r.nextTxID = nextLot, nextTx
		return err
	}
	return nil
}

type noopCache struct{}

func (noopCache) GetPositions(context.Context, int64) ([]model.Position, error) {
	return nil, errors.New("cache miss")
}
func (noopCache) SetPositions(context.Context, int64, []model.Position) error { return nil }
func (noopCache) FlushPositions(context.Context, int64) error                 { return nil }

type noRateFx struct{}

func (noRateFx) GetRate(context.Context, string, string, time.Time) (decimal.Decimal, error) {
	return decimal.Decimal{}, errors.New("no quote")
}

type fixedRateFx struct{ rate decimal.Decimal }

func (f fixedRateFx) GetRate(context.Context, string, string, time.Time) (decimal.Decimal, error) {
	return f.rate, nil
}

func testConfig(assumeParity bool) *config.Config {
	return &config.Config{
		Engine: config.Engine{
			BaseCurrency:   "USD",
			FxAssumeParity: assumeParity,
			RiskFreeRate:   0.04,
		},
	}
}

func newTestService(repo *memRepo, fx FxApi) *LedgerService {
	return New(testConfig(false), repo, noopCache{}, fx)
}

func day(n int) time.Time {
	return time.Date(2026, 1, n, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func buy(t *testing.T, s *LedgerService, symbol string, quantity, price string, tradeDate time.Time) model.BuyResult {
	t.Helper()
	res, err := s.ExecuteBuy(context.Background(), model.BuyRequest{
		PortfolioID: 1,
		Symbol:      symbol,
		Quantity:    dec(quantity),
		Price:       dec(price),
		Currency:    "USD",
		TradeDate:   tradeDate,
	})
	if err != nil {
		t.Fatalf("ExecuteBuy(%s %s @ %s): %v", symbol, quantity, price, err)
	}
	return res
}

func TestExecuteBuyValidation(t *testing.T) {
	s := newTestService(newMemRepo(), noRateFx{})

	tests := []struct {
		name     string
		quantity string
		price    string
	}{
		{"zero quantity", "0", "10"},
		{"negative quantity", "-5", "10"},
		{"negative price", "10", "-1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ExecuteBuy(context.Background(), model.BuyRequest{
				PortfolioID: 1,
				Symbol:      "AAPL",
				Quantity:    dec(tc.quantity),
				Price:       dec(tc.price),
				Currency:    "USD",
				TradeDate:   day(1),
			})
			var invalidErr *service.InvalidTradeError
			if !errors.As(err, &invalidErr) {
				t.Fatalf("expected InvalidTradeError, got %v", err)
			}
		})
	}
}

func TestExecuteBuyCreatesLotAndTransaction(t *testing.T) {
	repo := newMemRepo()
	s := newTestService(repo, noRateFx{})

	res, err := s.ExecuteBuy(context.Background(), model.BuyRequest{
		PortfolioID: 1,
		Symbol:      "AAPL",
		Quantity:    dec("100"),
		Price:       dec("10"),
		Currency:    "USD",
		TradeDate:   day(1),
		Fees:        dec("5"),
	})
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}

	if !res.TotalCost.Equal(dec("1005")) {
		t.Fatalf("total cost = %s, want 1005", res.TotalCost)
	}
	if !res.FxRateUsed.Equal(dec("1")) {
		t.Fatalf("fx rate = %s, want 1", res.FxRateUsed)
	}

	if len(repo.lots) != 1 || len(repo.transactions) != 1 {
		t.Fatalf("expected 1 lot and 1 transaction, got %d/%d", len(repo.lots), len(repo.transactions))
	}

	lot := repo.lots[0]
	if !lot.QuantityOpen.Equal(dec("100")) || !lot.QuantityOriginal.Equal(dec("100")) {
		t.Fatalf("unexpected lot quantities: %+v", lot)
	}
	if !lot.CostBasis.Equal(dec("1005")) {
		t.Fatalf("lot cost basis = %s, want 1005", lot.CostBasis)
	}
	if !lot.CostBasisPerShare.Equal(dec("10.05")) {
		t.Fatalf("lot cost basis per share = %s, want 10.05", lot.CostBasisPerShare)
	}
	if lot.ClosedDate != nil {
		t.Fatalf("new lot must not carry a closed date")
	}

	tx := repo.transactions[0]
	if tx.Side != model.Buy || !tx.NetAmount.Equal(dec("-1005")) {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if tx.RealizedPnL != nil {
		t.Fatalf("buy transaction must not carry realized pnl")
	}
}

func TestExecuteBuyFxPolicy(t *testing.T) {
	t.Run("strict policy rejects missing rate", func(t *testing.T) {
		s := New(testConfig(false), newMemRepo(), noopCache{}, noRateFx{})
		_, err := s.ExecuteBuy(context.Background(), model.BuyRequest{
			PortfolioID: 1,
			Symbol:      "SAP",
			Quantity:    dec("10"),
			Price:       dec("100"),
			Currency:    "EUR",
			TradeDate:   day(1),
		})
		var invalidErr *service.InvalidTradeError
		if !errors.As(err, &invalidErr) {
			t.Fatalf("expected InvalidTradeError, got %v", err)
		}
	})

	t.Run("parity policy converts at 1.0", func(t *testing.T) {
		repo := newMemRepo()
		s := New(testConfig(true), repo, noopCache{}, noRateFx{})
		res, err := s.ExecuteBuy(context.Background(), model.BuyRequest{
			PortfolioID: 1,
			Symbol:      "SAP",
			Quantity:    dec("10"),
			Price:       dec("100"),
			Currency:    "EUR",
			TradeDate:   day(1),
		})
		if err != nil {
			t.Fatalf("ExecuteBuy: %v", err)
		}
		if !res.FxRateUsed.Equal(dec("1")) {
			t.Fatalf("fx rate = %s, want 1", res.FxRateUsed)
		}
	})

	t.Run("provider rate converts basis into base currency", func(t *testing.T) {
		repo := newMemRepo()
		s := New(testConfig(false), repo, noopCache{}, fixedRateFx{rate: dec("1.1")})
		res, err := s.ExecuteBuy(context.Background(), model.BuyRequest{
			PortfolioID: 1,
			Symbol:      "SAP",
			Quantity:    dec("10"),
			Price:       dec("100"),
			Currency:    "EUR",
			TradeDate:   day(1),
		})
		if err != nil {
			t.Fatalf("ExecuteBuy: %v", err)
		}
		if !res.CostBasisBase.Equal(dec("1100")) {
			t.Fatalf("cost basis in base = %s, want 1100", res.CostBasisBase)
		}
	})

	t.Run("explicit rate wins over provider", func(t *testing.T) {
		repo := newMemRepo()
		s := New(testConfig(false), repo, noopCache{}, fixedRateFx{rate: dec("1.1")})
		rate := dec("1.25")
		res, err := s.ExecuteBuy(context.Background(), model.BuyRequest{
			PortfolioID: 1,
			Symbol:      "SAP",
			Quantity:    dec("10"),
			Price:       dec("100"),
			Currency:    "EUR",
			TradeDate:   day(1),
			FxRate:      &rate,
		})
		if err != nil {
			t.Fatalf("ExecuteBuy: %v", err)
		}
		if !res.CostBasisBase.Equal(dec("1250")) {
			t.Fatalf("cost basis in base = %s, want 1250", res.CostBasisBase)
		}
	})
}

// Two lots: 100 @ $10 on day 1, 50 @ $12 on day 5. These are the worked
// examples the selection methods must reproduce exactly.
func twoLotFixture(t *testing.T) (*memRepo, *LedgerService) {
	t.Helper()
	repo := newMemRepo()
	s := newTestService(repo, noRateFx{})
	buy(t, s, "AAPL", "100", "10", day(1))
	buy(t, s, "AAPL", "50", "12", day(5))
	return repo, s
}

func sell(t *testing.T, s *LedgerService, quantity, price string, selection model.LotSelection) model.SellResult {
	t.Helper()
	res, err := s.ExecuteSell(context.Background(), model.SellRequest{
		PortfolioID: 1,
		Symbol:      "AAPL",
		Quantity:    dec(quantity),
		Price:       dec(price),
		Currency:    "USD",
		TradeDate:   day(10),
		Selection:   selection,
	})
	if err != nil {
		t.Fatalf("ExecuteSell(%s @ %s, %s): %v", quantity, price, selection, err)
	}
	return res
}

func totalClosed(res model.SellResult) (qty, basis decimal.Decimal) {
	for _, c := range res.LotsClosed {
		qty = qty.Add(c.QuantityClosed)
		basis = basis.Add(c.CostBasisClosed)
	}
	return qty, basis
}

func TestSellFIFO(t *testing.T) {
	repo, s := twoLotFixture(t)

	res := sell(t, s, "120", "15", model.FIFO)

	qty, basis := totalClosed(res)
	if !qty.Equal(dec("120")) {
		t.Fatalf("total quantity closed = %s, want 120", qty)
	}
	if !basis.Equal(dec("1240")) {
		t.Fatalf("total cost basis closed = %s, want 1240", basis)
	}
	// proceeds 120*15 = 1800, basis 1240
	if !res.RealizedPnL.Equal(dec("560")) {
		t.Fatalf("realized pnl = %s, want 560", res.RealizedPnL)
	}

	if len(res.LotsClosed) != 2 {
		t.Fatalf("expected 2 lots touched, got %d", len(res.LotsClosed))
	}
	first, second := res.LotsClosed[0], res.LotsClosed[1]
	if first.LotID != 1 || !first.QuantityClosed.Equal(dec("100")) || !first.CostBasisClosed.Equal(dec("1000")) || !first.FullyClosed {
		t.Fatalf("unexpected first closed lot: %+v", first)
	}
	if second.LotID != 2 || !second.QuantityClosed.Equal(dec("20")) || !second.CostBasisClosed.Equal(dec("240")) || second.FullyClosed {
		t.Fatalf("unexpected second closed lot: %+v", second)
	}

	if repo.lots[0].ClosedDate == nil || !repo.lots[0].ClosedDate.Equal(day(10)) {
		t.Fatalf("fully closed lot must be stamped with the trade date")
	}
	if repo.lots[1].ClosedDate != nil {
		t.Fatalf("partially closed lot must not carry a closed date")
	}
	if !repo.lots[1].QuantityOpen.Equal(dec("30")) {
		t.Fatalf("remaining open = %s, want 30", repo.lots[1].QuantityOpen)
	}
}

func TestSellHIFO(t *testing.T) {
	_, s := twoLotFixture(t)

	res := sell(t, s, "120", "15", model.HIFO)

	_, basis := totalClosed(res)
	// HIFO closes the $12 lot first: 50*12 + 70*10 = 1300, more basis than
	// FIFO's 1240, i.e. the smaller taxable gain.
	if !basis.Equal(dec("1300")) {
		t.Fatalf("total cost basis closed = %s, want 1300", basis)
	}
	if !res.RealizedPnL.Equal(dec("500")) {
		t.Fatalf("realized pnl = %s, want 500", res.RealizedPnL)
	}
	if res.LotsClosed[0].LotID != 2 || !res.LotsClosed[0].FullyClosed {
		t.Fatalf("HIFO must close the highest-basis lot first: %+v", res.LotsClosed[0])
	}
}

func TestSellLIFO(t *testing.T) {
	repo, s := twoLotFixture(t)

	res := sell(t, s, "60", "15", model.LIFO)

	if len(res.LotsClosed) != 2 {
		t.Fatalf("expected 2 lots touched, got %d", len(res.LotsClosed))
	}
	if res.LotsClosed[0].LotID != 2 || !res.LotsClosed[0].QuantityClosed.Equal(dec("50")) {
		t.Fatalf("LIFO must consume the newest lot first: %+v", res.LotsClosed[0])
	}
	if res.LotsClosed[1].LotID != 1 || !res.LotsClosed[1].QuantityClosed.Equal(dec("10")) {
		t.Fatalf("unexpected spillover lot: %+v", res.LotsClosed[1])
	}
	if !repo.lots[0].QuantityOpen.Equal(dec("90")) {
		t.Fatalf("oldest lot open = %s, want 90", repo.lots[0].QuantityOpen)
	}
}

func TestSellSpecificLot(t *testing.T) {
	repo, s := twoLotFixture(t)

	res, err := s.ExecuteSell(context.Background(), model.SellRequest{
		PortfolioID:   1,
		Symbol:        "AAPL",
		Quantity:      dec("30"),
		Price:         dec("15"),
		Currency:      "USD",
		TradeDate:     day(10),
		Selection:     model.Specific,
		SpecificLotID: 2,
	})
	if err != nil {
		t.Fatalf("ExecuteSell specific: %v", err)
	}

	if len(res.LotsClosed) != 1 || res.LotsClosed[0].LotID != 2 {
		t.Fatalf("specific sell must only touch the requested lot: %+v", res.LotsClosed)
	}
	if !repo.lots[1].QuantityOpen.Equal(dec("20")) {
		t.Fatalf("specific lot open = %s, want 20", repo.lots[1].QuantityOpen)
	}
	if !repo.lots[0].QuantityOpen.Equal(dec("100")) {
		t.Fatalf("other lot must stay untouched")
	}
}

func TestSellSpecificLotErrors(t *testing.T) {
	_, s := twoLotFixture(t)

	t.Run("unknown lot id", func(t *testing.T) {
		_, err := s.ExecuteSell(context.Background(), model.SellRequest{
			PortfolioID:   1,
			Symbol:        "AAPL",
			Quantity:      dec("10"),
			Price:         dec("15"),
			Currency:      "USD",
			TradeDate:     day(10),
			Selection:     model.Specific,
			SpecificLotID: 99,
		})
		var invalidErr *service.InvalidTradeError
		if !errors.As(err, &invalidErr) {
			t.Fatalf("expected InvalidTradeError, got %v", err)
		}
	})

	t.Run("more than the lot holds", func(t *testing.T) {
		_, err := s.ExecuteSell(context.Background(), model.SellRequest{
			PortfolioID:   1,
			Symbol:        "AAPL",
			Quantity:      dec("51"),
			Price:         dec("15"),
			Currency:      "USD",
			TradeDate:     day(10),
			Selection:     model.Specific,
			SpecificLotID: 2,
		})
		var insufficientErr *service.InsufficientSharesError
		if !errors.As(err, &insufficientErr) {
			t.Fatalf("expected InsufficientSharesError, got %v", err)
		}
	})
}

func TestSellInsufficientSharesLeavesNoMutation(t *testing.T) {
	repo, s := twoLotFixture(t)

	_, err := s.ExecuteSell(context.Background(), model.SellRequest{
		PortfolioID: 1,
		Symbol:      "AAPL",
		Quantity:    dec("151"),
		Price:       dec("15"),
		Currency:    "USD",
		TradeDate:   day(10),
		Selection:   model.FIFO,
	})

	var insufficientErr *service.InsufficientSharesError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientSharesError, got %v", err)
	}
	if !insufficientErr.Requested.Equal(dec("151")) || !insufficientErr.Available.Equal(dec("150")) {
		t.Fatalf("unexpected error payload: %+v", insufficientErr)
	}

	// re-query: the rejected sell must have left nothing behind
	if !repo.lots[0].QuantityOpen.Equal(dec("100")) || !repo.lots[1].QuantityOpen.Equal(dec("50")) {
		t.Fatalf("lot quantities mutated by a rejected sell: %+v", repo.lots)
	}
	if len(repo.transactions) != 2 {
		t.Fatalf("rejected sell must not leave a transaction, got %d", len(repo.transactions))
	}
}

func TestSellCostBasisConservation(t *testing.T) {
	repo, s := twoLotFixture(t)

	res := sell(t, s, "120", "15", model.FIFO)

	for _, closed := range res.LotsClosed {
		var lot model.Lot
		for _, l := range repo.lots {
			if l.LotID == closed.LotID {
				lot = l
			}
		}
		remaining := lot.QuantityOpen.Mul(lot.CostBasisPerShare)
		if !closed.CostBasisClosed.Add(remaining).Equal(lot.CostBasis) {
			t.Fatalf("cost basis not conserved for lot %d: closed %s + remaining %s != %s",
				lot.LotID, closed.CostBasisClosed, remaining, lot.CostBasis)
		}
	}
}

func TestSellAllocatesFeesAcrossLots(t *testing.T) {
	_, s := twoLotFixture(t)

	res := sell(t, s, "120", "15", model.FIFO)
	pnlWithoutFees := res.RealizedPnL

	_, s2 := twoLotFixture(t)
	res2, err := s2.ExecuteSell(context.Background(), model.SellRequest{
		PortfolioID: 1,
		Symbol:      "AAPL",
		Quantity:    dec("120"),
		Price:       dec("15"),
		Currency:    "USD",
		TradeDate:   day(10),
		Selection:   model.FIFO,
		Fees:        dec("12"),
	})
	if err != nil {
		t.Fatalf("ExecuteSell with fees: %v", err)
	}

	if !pnlWithoutFees.Sub(res2.RealizedPnL).Equal(dec("12")) {
		t.Fatalf("fees must reduce realized pnl exactly: %s vs %s", pnlWithoutFees, res2.RealizedPnL)
	}
}

func TestSellAnnotatesTransactionPnL(t *testing.T) {
	repo, s := twoLotFixture(t)

	res := sell(t, s, "120", "15", model.FIFO)

	var sellTx *model.Transaction
	for i := range repo.transactions {
		if repo.transactions[i].TransactionID == res.TransactionID {
			sellTx = &repo.transactions[i]
		}
	}
	if sellTx == nil {
		t.Fatalf("sell transaction not persisted")
	}
	if sellTx.RealizedPnL == nil || !sellTx.RealizedPnL.Equal(res.RealizedPnL) {
		t.Fatalf("sell transaction must carry the realized pnl annotation")
	}
}

func TestPositionsRoundTrip(t *testing.T) {
	repo := newMemRepo()
	s := newTestService(repo, noRateFx{})

	buy(t, s, "AAPL", "100", "10", day(1))
	buy(t, s, "MSFT", "10", "300", day(2))
	sell(t, s, "100", "15", model.FIFO)

	positions, err := s.GetPortfolioPositions(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetPortfolioPositions: %v", err)
	}

	if len(positions) != 1 {
		t.Fatalf("fully sold symbol must drop out, got %+v", positions)
	}
	if positions[0].Symbol != "MSFT" || !positions[0].Quantity.Equal(dec("10")) {
		t.Fatalf("unexpected surviving position: %+v", positions[0])
	}
	if !positions[0].CostBasis.Equal(dec("3000")) {
		t.Fatalf("position cost basis = %s, want 3000", positions[0].CostBasis)
	}
}
