package portfolio

import (
	"sort"

	"investa/internal/models"

	"github.com/shopspring/decimal"
)

type Status string

const (
	Open   Status = "Open"
	Closed Status = "Closed"
)

var hundred = decimal.NewFromInt(100)

// Position is the aggregated holding in one ticker, rebuilt from its full trade history.
type Position struct {
	Ticker           string          `json:"ticker"`
	BoughtShares     decimal.Decimal `json:"bought_shares"`
	SoldShares       decimal.Decimal `json:"sold_shares"`
	NetShares        decimal.Decimal `json:"net_shares"`
	AvgCost          decimal.Decimal `json:"avg_cost"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	PriceFallback    bool            `json:"price_fallback"`
	CurrentValue     decimal.Decimal `json:"current_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	Status           Status          `json:"status"`
}

type lot struct {
	boughtShares, boughtValue decimal.Decimal
	soldShares, soldValue     decimal.Decimal
}

// Aggregate groups trades by ticker and values each position at prices[ticker].
// A ticker missing from prices is valued at its average cost.
func Aggregate(trades []models.Trade, prices map[string]decimal.Decimal) []Position {
	lots := map[string]*lot{}
	for _, t := range trades {
		l, ok := lots[t.Ticker]
		if !ok {
			l = &lot{}
			lots[t.Ticker] = l
		}
		switch t.Side {
		case models.Buy:
			l.boughtShares = l.boughtShares.Add(t.Shares)
			l.boughtValue = l.boughtValue.Add(t.Value())
		case models.Sell:
			l.soldShares = l.soldShares.Add(t.Shares)
			l.soldValue = l.soldValue.Add(t.Value())
		}
	}

	tickers := make([]string, 0, len(lots))
	for ticker := range lots {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	res := make([]Position, 0, len(tickers))
	for _, ticker := range tickers {
		price, ok := prices[ticker]
		res = append(res, lots[ticker].position(ticker, price, ok))
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CurrentValue.GreaterThan(res[j].CurrentValue)
	})
	return res
}

func (l *lot) position(ticker string, price decimal.Decimal, priced bool) Position {
	p := Position{
		Ticker:       ticker,
		BoughtShares: l.boughtShares,
		SoldShares:   l.soldShares,
		NetShares:    l.boughtShares.Sub(l.soldShares),
	}
	if l.boughtShares.IsPositive() {
		p.AvgCost = l.boughtValue.Div(l.boughtShares)
	}
	p.CurrentPrice = price
	if !priced {
		p.CurrentPrice = p.AvgCost
		p.PriceFallback = true
	}

	if p.NetShares.IsZero() && l.boughtShares.IsPositive() {
		p.RealizedPnL = l.soldValue.Sub(l.boughtValue)
	} else {
		p.RealizedPnL = l.soldValue.Sub(l.soldShares.Mul(p.AvgCost))
		basis := p.NetShares.Mul(p.AvgCost)
		p.CurrentValue = p.NetShares.Mul(p.CurrentPrice)
		p.UnrealizedPnL = p.CurrentValue.Sub(basis)
		if basis.IsPositive() {
			p.UnrealizedPnLPct = p.UnrealizedPnL.Div(basis).Mul(hundred)
		}
	}
	p.TotalPnL = p.RealizedPnL.Add(p.UnrealizedPnL)

	p.Status = Open
	if p.NetShares.IsZero() {
		p.Status = Closed
	}
	return p
}

// AllocationSlice is one ticker's share of the open portfolio value.
type AllocationSlice struct {
	Ticker string          `json:"ticker"`
	Value  decimal.Decimal `json:"value"`
	Weight decimal.Decimal `json:"weight_pct"`
}

// Allocation keeps open positions with a positive value, largest first.
func Allocation(positions []Position) []AllocationSlice {
	res := []AllocationSlice{}
	total := decimal.Zero
	for _, p := range positions {
		if p.Status != Open || !p.NetShares.IsPositive() || !p.CurrentValue.IsPositive() {
			continue
		}
		res = append(res, AllocationSlice{Ticker: p.Ticker, Value: p.CurrentValue})
		total = total.Add(p.CurrentValue)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Value.Equal(res[j].Value) {
			return res[i].Ticker < res[j].Ticker
		}
		return res[i].Value.GreaterThan(res[j].Value)
	})
	for i := range res {
		res[i].Weight = res[i].Value.Div(total).Mul(hundred)
	}
	return res
}

// ClosedPositions lists fully sold positions, best realized result first.
func ClosedPositions(positions []Position) []Position {
	res := []Position{}
	for _, p := range positions {
		if p.Status == Closed {
			res = append(res, p)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].RealizedPnL.GreaterThan(res[j].RealizedPnL)
	})
	return res
}
