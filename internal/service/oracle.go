package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// PriceProvider is the market data surface the rest of the service depends on.
type PriceProvider interface {
	FetchOne(ctx context.Context, ticker string) Quote
	FetchBatch(ctx context.Context, tickers []string) map[string]decimal.Decimal
	FetchHistory(ctx context.Context, ticker string, period Period) History
}

type OracleConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	PriceTTL          time.Duration
	HistoryTTL        time.Duration
}

// PriceOracle reads Yahoo Finance style chart and spark endpoints. It never returns
// errors to callers: every failure becomes an Unavailable result.
type PriceOracle struct {
	baseURL string
	cli     *http.Client
	limiter *rate.Limiter
	latest  *cache.Cache
	history *cache.Cache
	log     *logrus.Logger
}

func NewPriceOracle(cfg OracleConfig, log *logrus.Logger) *PriceOracle {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &PriceOracle{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cli:     &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		latest:  cache.New(cfg.PriceTTL, 2*cfg.PriceTTL),
		history: cache.New(cfg.HistoryTTL, 2*cfg.HistoryTTL),
		log:     log,
	}
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// FetchOne returns the latest close for ticker.
func (o *PriceOracle) FetchOne(ctx context.Context, ticker string) Quote {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return unavailable("", "empty ticker")
	}
	if q, ok := o.latest.Get(ticker); ok {
		return q.(Quote)
	}

	var resp chartResponse
	if err := o.getJSON(ctx, o.chartURL(ticker, Day), &resp); err != nil {
		o.log.WithField("ticker", ticker).Warnf("price fetch failed: %v", err)
		return unavailable(ticker, err.Error())
	}
	if len(resp.Chart.Result) == 0 {
		return unavailable(ticker, resp.Chart.Error.reason())
	}
	price, asOf, ok := resp.Chart.Result[0].latestPrice()
	if !ok {
		return unavailable(ticker, "no valid price in response")
	}
	q := Quote{Ticker: ticker, State: Available, Price: price, AsOf: asOf}
	o.latest.SetDefault(ticker, q)
	return q
}

// FetchBatch resolves many tickers with a single request for those not cached.
// Tickers that cannot be priced are left out of the result.
func (o *PriceOracle) FetchBatch(ctx context.Context, tickers []string) map[string]decimal.Decimal {
	prices := map[string]decimal.Decimal{}
	seen := map[string]bool{}
	var missing []string
	for _, t := range tickers {
		t = normalizeTicker(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if q, ok := o.latest.Get(t); ok {
			prices[t] = q.(Quote).Price
			continue
		}
		missing = append(missing, t)
	}
	if len(missing) == 0 {
		return prices
	}
	sort.Strings(missing)

	var resp sparkResponse
	if err := o.getJSON(ctx, o.sparkURL(missing), &resp); err != nil {
		o.log.Errorf("batch price fetch for %d tickers failed: %v", len(missing), err)
		return prices
	}

	bySymbol := make(map[string][]chartResult, len(resp.Spark.Result))
	for _, r := range resp.Spark.Result {
		bySymbol[normalizeTicker(r.Symbol)] = r.Response
	}
	var failed []string
	for _, t := range missing {
		results := bySymbol[t]
		if len(results) == 0 {
			failed = append(failed, t)
			continue
		}
		price, asOf, ok := results[0].latestPrice()
		if !ok {
			failed = append(failed, t)
			continue
		}
		prices[t] = price
		o.latest.SetDefault(t, Quote{Ticker: t, State: Available, Price: price, AsOf: asOf})
	}
	if len(failed) > 0 {
		o.log.Warnf("could not fetch prices for: %s", strings.Join(failed, ", "))
	}
	return prices
}

// FetchHistory returns the bars for ticker over period, oldest first.
func (o *PriceOracle) FetchHistory(ctx context.Context, ticker string, period Period) History {
	ticker = normalizeTicker(ticker)
	h := History{Ticker: ticker, Period: period, State: Unavailable}
	if _, ok := periodIntervals[period]; !ok {
		h.Reason = ErrUnknownPeriod.Error()
		return h
	}
	if ticker == "" {
		h.Reason = "empty ticker"
		return h
	}
	key := ticker + "|" + string(period)
	if cached, ok := o.history.Get(key); ok {
		return cached.(History)
	}

	var resp chartResponse
	if err := o.getJSON(ctx, o.chartURL(ticker, period), &resp); err != nil {
		o.log.WithField("ticker", ticker).Warnf("history fetch failed: %v", err)
		h.Reason = err.Error()
		return h
	}
	if len(resp.Chart.Result) == 0 {
		h.Reason = resp.Chart.Error.reason()
		return h
	}
	h.Bars = resp.Chart.Result[0].bars()
	if len(h.Bars) == 0 {
		h.Reason = "no chart data"
		return h
	}
	h.State = Available
	o.history.SetDefault(key, h)
	return h
}

// FetchInfo combines the chart metadata (name, price, 52 week range) with the quote
// endpoint's market cap and trailing P/E. A failed quote call only leaves those two
// null. Results share the history cache.
func (o *PriceOracle) FetchInfo(ctx context.Context, ticker string) Info {
	ticker = normalizeTicker(ticker)
	info := Info{Ticker: ticker, State: Unavailable}
	if ticker == "" {
		info.Reason = "empty ticker"
		return info
	}
	key := ticker + "|info"
	if cached, ok := o.history.Get(key); ok {
		return cached.(Info)
	}

	var resp chartResponse
	if err := o.getJSON(ctx, o.chartURL(ticker, Day), &resp); err != nil {
		o.log.WithField("ticker", ticker).Warnf("info fetch failed: %v", err)
		info.Reason = err.Error()
		return info
	}
	if len(resp.Chart.Result) == 0 {
		info.Reason = resp.Chart.Error.reason()
		return info
	}
	r := resp.Chart.Result[0]
	price, _, ok := r.latestPrice()
	if !ok {
		info.Reason = "no valid price in response"
		return info
	}
	info.State = Available
	info.Price = price
	info.Name = firstNonEmpty(r.Meta.LongName, r.Meta.ShortName, ticker)
	info.Currency = r.Meta.Currency
	info.Exchange = r.Meta.ExchangeName
	info.FiftyTwoWeekHigh = nullDecimal(r.Meta.FiftyTwoWeekHigh)
	info.FiftyTwoWeekLow = nullDecimal(r.Meta.FiftyTwoWeekLow)

	var qr quoteResponse
	if err := o.getJSON(ctx, o.quoteURL(ticker), &qr); err != nil {
		o.log.WithField("ticker", ticker).Debugf("quote fundamentals unavailable: %v", err)
	} else {
		for _, q := range qr.QuoteResponse.Result {
			if normalizeTicker(q.Symbol) != ticker {
				continue
			}
			info.MarketCap = nullDecimal(q.MarketCap)
			info.PERatio = nullDecimal(q.TrailingPE)
			if r.Meta.LongName == "" && q.LongName != "" {
				info.Name = q.LongName
			}
		}
	}
	o.history.SetDefault(key, info)
	return info
}

// Stats returns the most recent daily bar.
func (o *PriceOracle) Stats(ctx context.Context, ticker string) (Bar, bool) {
	h := o.FetchHistory(ctx, ticker, Day)
	if !h.OK() {
		return Bar{}, false
	}
	return h.Bars[len(h.Bars)-1], true
}

func (o *PriceOracle) chartURL(ticker string, period Period) string {
	q := url.Values{}
	q.Set("range", string(period))
	q.Set("interval", periodIntervals[period])
	return fmt.Sprintf("%s/v8/finance/chart/%s?%s", o.baseURL, url.PathEscape(ticker), q.Encode())
}

func (o *PriceOracle) sparkURL(tickers []string) string {
	q := url.Values{}
	q.Set("symbols", strings.Join(tickers, ","))
	q.Set("range", string(Day))
	q.Set("interval", "1d")
	return fmt.Sprintf("%s/v7/finance/spark?%s", o.baseURL, q.Encode())
}

func (o *PriceOracle) quoteURL(ticker string) string {
	q := url.Values{}
	q.Set("symbols", ticker)
	return fmt.Sprintf("%s/v7/finance/quote?%s", o.baseURL, q.Encode())
}

func (o *PriceOracle) getJSON(ctx context.Context, addr string, v interface{}) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "investa/1.0")

	resp, err := o.cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market data http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode market data: %w", err)
	}
	return nil
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *apiError) reason() string {
	if e == nil {
		return "no result"
	}
	return e.Code + ": " + e.Description
}

type chartResult struct {
	Meta struct {
		Symbol             string   `json:"symbol"`
		RegularMarketPrice *float64 `json:"regularMarketPrice"`
		RegularMarketTime  int64    `json:"regularMarketTime"`
		LongName           string   `json:"longName"`
		ShortName          string   `json:"shortName"`
		Currency           string   `json:"currency"`
		ExchangeName       string   `json:"exchangeName"`
		FiftyTwoWeekHigh   *float64 `json:"fiftyTwoWeekHigh"`
		FiftyTwoWeekLow    *float64 `json:"fiftyTwoWeekLow"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type sparkResponse struct {
	Spark struct {
		Result []struct {
			Symbol   string        `json:"symbol"`
			Response []chartResult `json:"response"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"spark"`
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol     string   `json:"symbol"`
			LongName   string   `json:"longName"`
			MarketCap  *float64 `json:"marketCap"`
			TrailingPE *float64 `json:"trailingPE"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"quoteResponse"`
}

// latestPrice prefers the regular market price and falls back to the last usable close.
func (r chartResult) latestPrice() (decimal.Decimal, time.Time, bool) {
	if p, ok := toDecimal(r.Meta.RegularMarketPrice); ok && p.IsPositive() && r.Meta.RegularMarketTime > 0 {
		return p, time.Unix(r.Meta.RegularMarketTime, 0).UTC(), true
	}
	if len(r.Indicators.Quote) == 0 {
		return decimal.Zero, time.Time{}, false
	}
	closes := r.Indicators.Quote[0].Close
	for i := len(closes) - 1; i >= 0; i-- {
		p, ok := toDecimal(closes[i])
		if !ok || !p.IsPositive() {
			continue
		}
		asOf := time.Now().UTC()
		if i < len(r.Timestamp) {
			asOf = time.Unix(r.Timestamp[i], 0).UTC()
		}
		return p, asOf, true
	}
	return decimal.Zero, time.Time{}, false
}

func (r chartResult) bars() []Bar {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]
	var res []Bar
	for i, ts := range r.Timestamp {
		open, ok1 := at(q.Open, i)
		high, ok2 := at(q.High, i)
		low, ok3 := at(q.Low, i)
		cl, ok4 := at(q.Close, i)
		if !(ok1 && ok2 && ok3 && ok4) {
			continue
		}
		b := Bar{Time: time.Unix(ts, 0).UTC(), Open: open, High: high, Low: low, Close: cl}
		if v, ok := at(q.Volume, i); ok {
			b.Volume = v.IntPart()
		}
		res = append(res, b)
	}
	return res
}

func at(xs []*float64, i int) (decimal.Decimal, bool) {
	if i >= len(xs) {
		return decimal.Zero, false
	}
	return toDecimal(xs[i])
}

// toDecimal rejects null, NaN and infinite values; decimal.NewFromFloat panics on the latter two.
func toDecimal(f *float64) (decimal.Decimal, bool) {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(*f), true
}

func nullDecimal(f *float64) decimal.NullDecimal {
	d, ok := toDecimal(f)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
