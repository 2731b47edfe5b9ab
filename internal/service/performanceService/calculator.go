package performanceService

import (
	"math"
	"time"

	"github.com/finvault/portfolio-ledger/internal/model"
)

// The calculator half of the service: pure functions over an already-loaded,
// date-ordered valuation series. Statistical math runs on float64; exact
// decimal arithmetic stays on the ledger side where cost basis and P&L are
// computed.

const (
	tradingDaysPerYear = 252
	daysPerYear        = 365.0

	irrInitialGuess  = 0.10
	irrTolerance     = 1e-6
	irrMaxIterations = 100
	irrRateFloor     = -0.99
)

const (
	errInsufficientData = "insufficient data"
	errNoCashFlows      = "no cash flows"
	errNoConvergence    = "irr did not converge"
)

// dailyReturns derives organic day-over-day returns. Cash flows land end of
// day, so the day's flow is backed out of the ending value before dividing by
// the prior value. Days with a non-positive prior value are skipped.
func dailyReturns(series []model.DailyValuation) []float64 {
	returns := make([]float64, 0, len(series))
	for i := 1; i < len(series); i++ {
		prev := series[i-1].TotalValue.InexactFloat64()
		if prev <= 0 {
			continue
		}
		cur := series[i].TotalValue.InexactFloat64()
		flow := series[i].NetCashFlow.InexactFloat64()
		returns = append(returns, (cur-flow-prev)/prev)
	}
	return returns
}

// sampleStdDev is the n-1 standard deviation; 0 with fewer than 2 samples.
func sampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}

	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	sumSq := 0.0
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}

	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func annualize(periodReturn float64, elapsedDays float64) float64 {
	if elapsedDays <= 0 {
		return periodReturn
	}
	return math.Pow(1+periodReturn, daysPerYear/elapsedDays) - 1
}

// ComputeTWR geometrically links daily returns into a time-weighted return
// with its risk figures. Fewer than 2 valuation points is a reported
// condition, not an error: the result carries a zeroed metric and an Err
// string.
func ComputeTWR(series []model.DailyValuation, riskFreeRate float64) model.TWRResult {
	if len(series) < 2 {
		return model.TWRResult{DataPoints: len(series), Err: errInsufficientData}
	}

	returns := dailyReturns(series)

	// Geometric linking: the order-sensitive product of (1 + r_i), not a sum
	// of returns.
	twr := 1.0
	for _, r := range returns {
		twr *= 1 + r
	}
	twr -= 1

	elapsedDays := series[len(series)-1].Date.Sub(series[0].Date).Hours() / 24
	annualized := annualize(twr, elapsedDays)

	volatility := sampleStdDev(returns) * math.Sqrt(tradingDaysPerYear)

	sharpe := 0.0
	if volatility > 0 {
		sharpe = (annualized - riskFreeRate) / volatility
	}

	negatives := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}

	// Downside deviation needs at least 2 negative days to be meaningful;
	// otherwise fall back to full volatility.
	downside := volatility
	if len(negatives) >= 2 {
		downside = sampleStdDev(negatives) * math.Sqrt(tradingDaysPerYear)
	}

	sortino := 0.0
	if downside > 0 {
		sortino = (annualized - riskFreeRate) / downside
	}

	return model.TWRResult{
		TWR:           twr,
		AnnualizedTWR: annualized,
		Volatility:    volatility,
		Sharpe:        sharpe,
		Sortino:       sortino,
		DataPoints:    len(series),
	}
}

// irrFlow is one signed flow at a day offset from the series start.
type irrFlow struct {
	amount float64
	days   float64
}

func npvAndDerivative(flows []irrFlow, rate float64) (npv, derivative float64) {
	for _, f := range flows {
		years := f.days / daysPerYear
		discount := math.Pow(1+rate, years)
		npv += f.amount / discount
		derivative -= f.amount * years / (discount * (1 + rate))
	}
	return npv, derivative
}

// ComputeMWR solves the internal rate of return of the flow series plus the
// terminal value (inserted as a negative flow at the terminal date) via
// Newton-Raphson. Non-convergence within the iteration budget is a reported
// condition in Err, never a panic or unbounded loop.
func ComputeMWR(flows []model.CashFlow, terminalValue float64, terminalDate time.Time) model.MWRResult {
	if len(flows) == 0 {
		return model.MWRResult{Err: errNoCashFlows}
	}

	start := flows[0].Date
	for _, f := range flows {
		if f.Date.Before(start) {
			start = f.Date
		}
	}

	irrFlows := make([]irrFlow, 0, len(flows)+1)
	for _, f := range flows {
		irrFlows = append(irrFlows, irrFlow{
			amount: f.Amount.InexactFloat64(),
			days:   f.Date.Sub(start).Hours() / 24,
		})
	}

	elapsedDays := terminalDate.Sub(start).Hours() / 24
	irrFlows = append(irrFlows, irrFlow{amount: -terminalValue, days: elapsedDays})

	rate := irrInitialGuess
	converged := false
	for i := 0; i < irrMaxIterations; i++ {
		npv, derivative := npvAndDerivative(irrFlows, rate)
		if math.Abs(npv) < irrTolerance {
			converged = true
			break
		}
		if derivative == 0 || math.IsNaN(derivative) {
			break
		}
		rate -= npv / derivative
		if rate < irrRateFloor {
			rate = irrRateFloor
		}
	}

	if !converged {
		return model.MWRResult{Err: errNoConvergence}
	}

	annualized := rate
	if elapsedDays != daysPerYear {
		annualized = annualize(rate, elapsedDays)
	}

	return model.MWRResult{MWR: rate, AnnualizedMWR: annualized}
}

// ComputeMaxDrawdown finds the most negative peak-to-trough excursion over
// the series. RecoveryDays counts days from the trough until the value first
// regains the pre-drawdown peak; -1 when recovery has not happened inside the
// observed window, 0 when the series never draws down.
func ComputeMaxDrawdown(series []model.DailyValuation) model.DrawdownResult {
	if len(series) == 0 {
		return model.DrawdownResult{}
	}

	runningMax := series[0].TotalValue.InexactFloat64()
	maxDrawdown := 0.0
	troughIdx := -1
	peakAtTrough := runningMax

	for i, v := range series {
		value := v.TotalValue.InexactFloat64()
		if value > runningMax {
			runningMax = value
		}
		if runningMax <= 0 {
			continue
		}
		drawdown := (value - runningMax) / runningMax
		if drawdown < maxDrawdown {
			maxDrawdown = drawdown
			troughIdx = i
			peakAtTrough = runningMax
		}
	}

	if troughIdx < 0 {
		last := series[len(series)-1]
		return model.DrawdownResult{
			MaxDrawdownDate: last.Date,
			PeakValue:       runningMax,
			TroughValue:     runningMax,
			RecoveryDays:    0,
		}
	}

	trough := series[troughIdx]

	recoveryDays := -1
	for i := troughIdx + 1; i < len(series); i++ {
		if series[i].TotalValue.InexactFloat64() >= peakAtTrough {
			recoveryDays = int(series[i].Date.Sub(trough.Date).Hours() / 24)
			break
		}
	}

	return model.DrawdownResult{
		MaxDrawdown:     maxDrawdown,
		MaxDrawdownDate: trough.Date,
		PeakValue:       peakAtTrough,
		TroughValue:     trough.TotalValue.InexactFloat64(),
		RecoveryDays:    recoveryDays,
	}
}

// rollingVolatility annualizes the stdev of the trailing window of daily
// returns; 0 when history is too short for the window.
func rollingVolatility(returns []float64, window int) float64 {
	if len(returns) < window || window < 2 {
		return 0
	}
	return sampleStdDev(returns[len(returns)-window:]) * math.Sqrt(tradingDaysPerYear)
}

func ComputeRollingVolatility(series []model.DailyValuation) model.RollingVolResult {
	returns := dailyReturns(series)
	return model.RollingVolResult{
		Vol30d:  rollingVolatility(returns, 30),
		Vol90d:  rollingVolatility(returns, 90),
		Vol252d: rollingVolatility(returns, 252),
	}
}
