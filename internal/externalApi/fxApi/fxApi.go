package fxApi

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/finvault/portfolio-ledger/config"
	"github.com/finvault/portfolio-ledger/internal/externalApi"
	"github.com/finvault/portfolio-ledger/utils"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// FxApi fetches historical FX conversion rates from the configured provider.
// The provider serves frankfurter-style responses:
// GET /{date}?from=EUR&to=USD -> {"rates": {"USD": 1.0834}}.
type FxApi struct {
	client *resty.Client
}

func New(cfg *config.Config) *FxApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout).
		SetBaseURL(cfg.API.FxApi.Url)
	return &FxApi{client: client}
}

type ratesResponse struct {
	Rates map[string]json.Number `json:"rates"`
}

func (a *FxApi) GetRate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "FxApi.GetRate"

	url := "/" + date.Format("2006-01-02")
	params := map[string]string{
		"from": from,
		"to":   to,
	}

	slog.Debug("GetRate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("from", from), slog.String("to", to))

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(params).
		Get(url)
	if err != nil {
		slog.Error("error while dialing fx provider", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return decimal.Decimal{}, err
	}

	rates := ratesResponse{}
	if err := json.Unmarshal(resp.Body(), &rates); err != nil {
		slog.Error("can't unmarshal fx provider response", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return decimal.Decimal{}, err
	}

	raw, ok := rates.Rates[to]
	if !ok {
		slog.Warn("fx rate not found in provider response", slog.String("rqID", rqID), slog.String("op", op), slog.String("from", from), slog.String("to", to))
		return decimal.Decimal{}, externalApi.ErrNotFound
	}

	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		slog.Error("can't parse fx rate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return decimal.Decimal{}, err
	}

	slog.Debug("GetRate completed", slog.String("rqID", rqID), slog.String("op", op), slog.String("rate", rate.String()))

	return rate, nil
}
