package portfolio

import (
	"context"
	"testing"
	"time"

	"investa/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(ticker string, side models.Side, shares, price string) models.Trade {
	return models.Trade{Date: time.Now(), Ticker: ticker, Side: side, Shares: d(shares), Price: d(price)}
}

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "%s: expected %s, got %s", field, want, got.String())
}

func TestAggregate_NoPriceFallsBackToAvgCost(t *testing.T) {
	positions := Aggregate([]models.Trade{trade("TICK", models.Buy, "10", "100")}, map[string]decimal.Decimal{})
	require.Len(t, positions, 1)
	p := positions[0]

	assertDec(t, "100", p.AvgCost, "avg cost")
	assertDec(t, "100", p.CurrentPrice, "current price")
	assertDec(t, "1000", p.CurrentValue, "current value")
	assertDec(t, "0", p.UnrealizedPnL, "unrealized")
	assert.True(t, p.PriceFallback)
	assert.Equal(t, Open, p.Status)
}

func TestAggregate_PartialSell(t *testing.T) {
	trades := []models.Trade{
		trade("TICK", models.Buy, "10", "100"),
		trade("TICK", models.Sell, "4", "150"),
	}
	positions := Aggregate(trades, map[string]decimal.Decimal{"TICK": d("120")})
	require.Len(t, positions, 1)
	p := positions[0]

	assertDec(t, "6", p.NetShares, "net shares")
	assertDec(t, "100", p.AvgCost, "avg cost")
	assertDec(t, "200", p.RealizedPnL, "realized")
	assertDec(t, "120", p.UnrealizedPnL, "unrealized")
	assertDec(t, "20", p.UnrealizedPnLPct, "unrealized pct")
	assertDec(t, "320", p.TotalPnL, "total")
	assertDec(t, "720", p.CurrentValue, "current value")
	assert.False(t, p.PriceFallback)
	assert.Equal(t, Open, p.Status)
}

func TestAggregate_ClosedPositionIsFullyRealized(t *testing.T) {
	trades := []models.Trade{
		trade("XYZ", models.Buy, "10", "100"),
		trade("XYZ", models.Buy, "5", "110"),
		trade("XYZ", models.Sell, "15", "120"),
	}
	positions := Aggregate(trades, map[string]decimal.Decimal{"XYZ": d("999")})
	require.Len(t, positions, 1)
	p := positions[0]

	assertDec(t, "0", p.NetShares, "net shares")
	assertDec(t, "250", p.RealizedPnL, "realized")
	assertDec(t, "0", p.CurrentValue, "current value")
	assertDec(t, "0", p.UnrealizedPnL, "unrealized")
	assertDec(t, "250", p.TotalPnL, "total")
	assert.Equal(t, Closed, p.Status)
}

func TestAggregate_AvgCostIgnoresSells(t *testing.T) {
	base := []models.Trade{
		trade("ABC", models.Buy, "3", "10"),
		trade("ABC", models.Buy, "1", "30"),
	}
	withSells := append(append([]models.Trade{}, base...),
		trade("ABC", models.Sell, "2", "50"),
		trade("ABC", models.Sell, "1", "5"),
	)

	for _, trades := range [][]models.Trade{base, withSells} {
		p := Aggregate(trades, nil)[0]
		assertDec(t, "15", p.AvgCost, "avg cost")
	}
}

func TestAggregate_OrdersByCurrentValue(t *testing.T) {
	trades := []models.Trade{
		trade("SMALL", models.Buy, "1", "10"),
		trade("BIG", models.Buy, "10", "100"),
		trade("GONE", models.Buy, "5", "100"),
		trade("GONE", models.Sell, "5", "90"),
		trade("MID", models.Buy, "2", "100"),
	}
	positions := Aggregate(trades, map[string]decimal.Decimal{"MID": d("150")})

	var order []string
	for _, p := range positions {
		order = append(order, p.Ticker)
	}
	assert.Equal(t, []string{"BIG", "MID", "SMALL", "GONE"}, order)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, nil))
}

func TestComputeMetrics(t *testing.T) {
	trades := []models.Trade{
		trade("TICK", models.Buy, "10", "100"),
		trade("TICK", models.Sell, "4", "150"),
	}
	txs := []models.CashTransaction{
		{Kind: models.Income, Amount: d("5000")},
		{Kind: models.Expense, Amount: d("1000")},
	}
	positions := Aggregate(trades, map[string]decimal.Decimal{"TICK": d("120")})
	m := ComputeMetrics(txs, trades, positions)

	assertDec(t, "720", m.TotalAssets, "total assets")
	assertDec(t, "6000", m.CashBalance, "cash balance")
	assertDec(t, "4000", m.NetCashFlow, "net cash flow")
	assertDec(t, "-400", m.TradeCashFlow, "trade cash flow")
	assertDec(t, "1000", m.CostBasis, "cost basis")
	assertDec(t, "120", m.TotalUnrealizedPnL, "unrealized")
	assertDec(t, "200", m.TotalRealizedPnL, "realized")
	assertDec(t, "320", m.TotalPnL, "total pnl")
	assertDec(t, "32", m.ReturnPct, "return pct")
	assertDec(t, "6720", m.PortfolioValue, "portfolio value")
}

func TestComputeMetrics_CashBalanceSumsAmounts(t *testing.T) {
	txs := []models.CashTransaction{
		{Kind: models.Income, Amount: d("1000")},
		{Kind: models.Expense, Amount: d("300")},
	}
	m := ComputeMetrics(txs, nil, nil)

	assertDec(t, "1300", m.CashBalance, "cash balance")
	assertDec(t, "700", m.NetCashFlow, "net cash flow")
	assertDec(t, "1300", m.PortfolioValue, "portfolio value")
}

func TestComputeMetrics_NoCostBasis(t *testing.T) {
	m := ComputeMetrics(nil, nil, nil)
	assertDec(t, "0", m.ReturnPct, "return pct")
	assertDec(t, "0", m.PortfolioValue, "portfolio value")
}

func TestAllocation(t *testing.T) {
	positions := []Position{
		{Ticker: "A", NetShares: d("3"), CurrentValue: d("300"), Status: Open},
		{Ticker: "B", NetShares: d("7"), CurrentValue: d("700"), Status: Open},
		{Ticker: "C", NetShares: d("0"), CurrentValue: d("0"), Status: Closed},
		{Ticker: "D", NetShares: d("1"), CurrentValue: d("0"), Status: Open},
	}
	slices := Allocation(positions)
	require.Len(t, slices, 2)
	assert.Equal(t, "B", slices[0].Ticker)
	assertDec(t, "70", slices[0].Weight, "weight B")
	assert.Equal(t, "A", slices[1].Ticker)
	assertDec(t, "30", slices[1].Weight, "weight A")
}

func TestClosedPositions(t *testing.T) {
	positions := []Position{
		{Ticker: "LOSS", RealizedPnL: d("-50"), Status: Closed},
		{Ticker: "OPEN", RealizedPnL: d("500"), Status: Open},
		{Ticker: "WIN", RealizedPnL: d("80"), Status: Closed},
	}
	closed := ClosedPositions(positions)
	require.Len(t, closed, 2)
	assert.Equal(t, "WIN", closed[0].Ticker)
	assert.Equal(t, "LOSS", closed[1].Ticker)
}

type fakeLedger struct {
	trades []models.Trade
	txs    []models.CashTransaction
}

func (f *fakeLedger) FetchTrades(context.Context) ([]models.Trade, error) { return f.trades, nil }
func (f *fakeLedger) FetchTransactions(context.Context) ([]models.CashTransaction, error) {
	return f.txs, nil
}

type fakePrices struct {
	requested []string
	prices    map[string]decimal.Decimal
}

func (f *fakePrices) FetchBatch(_ context.Context, tickers []string) map[string]decimal.Decimal {
	f.requested = append(f.requested, tickers...)
	return f.prices
}

func TestService_Snapshot(t *testing.T) {
	ledger := &fakeLedger{
		trades: []models.Trade{
			trade("AAPL", models.Buy, "2", "150"),
			trade("MSFT", models.Buy, "1", "300"),
			trade("GONE", models.Buy, "1", "10"),
			trade("GONE", models.Sell, "1", "12"),
		},
		txs: []models.CashTransaction{{Kind: models.Income, Amount: d("1000")}},
	}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"AAPL": d("200")}}

	snap, err := NewService(ledger, prices, logrus.New()).Snapshot(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, prices.requested, "closed positions are not priced")
	assert.Equal(t, []string{"MSFT"}, snap.MissingPrices)
	require.Len(t, snap.Positions, 3)
	assert.Equal(t, "AAPL", snap.Positions[0].Ticker)
	require.Len(t, snap.Closed, 1)
	assert.Equal(t, "GONE", snap.Closed[0].Ticker)
	assertDec(t, "700", snap.Metrics.TotalAssets, "total assets")
	assertDec(t, "1700", snap.Metrics.PortfolioValue, "portfolio value")
	assert.Len(t, snap.Allocation, 2)
}
