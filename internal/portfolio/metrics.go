package portfolio

import (
	"investa/internal/models"

	"github.com/shopspring/decimal"
)

type Metrics struct {
	TotalAssets        decimal.Decimal `json:"total_assets"`
	CashBalance        decimal.Decimal `json:"cash_balance"`
	NetCashFlow        decimal.Decimal `json:"net_cash_flow"`
	TradeCashFlow      decimal.Decimal `json:"trade_cash_flow"`
	CostBasis          decimal.Decimal `json:"cost_basis"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	TotalPnL           decimal.Decimal `json:"total_pnl"`
	ReturnPct          decimal.Decimal `json:"return_pct"`
	PortfolioValue     decimal.Decimal `json:"portfolio_value"`
}

// ComputeMetrics totals the aggregated positions. Cost basis is every buy ever made,
// not netted against sells. CashBalance adds up the recorded amounts regardless of
// kind; NetCashFlow is income minus expense.
func ComputeMetrics(transactions []models.CashTransaction, trades []models.Trade, positions []Position) Metrics {
	var m Metrics
	for _, p := range positions {
		m.TotalAssets = m.TotalAssets.Add(p.CurrentValue)
		m.TotalUnrealizedPnL = m.TotalUnrealizedPnL.Add(p.UnrealizedPnL)
		m.TotalRealizedPnL = m.TotalRealizedPnL.Add(p.RealizedPnL)
	}
	for _, tx := range transactions {
		m.CashBalance = m.CashBalance.Add(tx.Amount)
		m.NetCashFlow = m.NetCashFlow.Add(tx.Signed())
	}
	for _, t := range trades {
		switch t.Side {
		case models.Buy:
			m.CostBasis = m.CostBasis.Add(t.Value())
			m.TradeCashFlow = m.TradeCashFlow.Sub(t.Value())
		case models.Sell:
			m.TradeCashFlow = m.TradeCashFlow.Add(t.Value())
		}
	}
	m.TotalPnL = m.TotalUnrealizedPnL.Add(m.TotalRealizedPnL)
	if m.CostBasis.IsPositive() {
		m.ReturnPct = m.TotalPnL.Div(m.CostBasis).Mul(hundred)
	}
	m.PortfolioValue = m.TotalAssets.Add(m.CashBalance)
	return m
}
