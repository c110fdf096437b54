package portfolio

import (
	"context"
	"fmt"
	"time"

	"investa/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Ledger interface {
	FetchTrades(ctx context.Context) ([]models.Trade, error)
	FetchTransactions(ctx context.Context) ([]models.CashTransaction, error)
}

// PriceSource returns prices only for the tickers it could resolve.
type PriceSource interface {
	FetchBatch(ctx context.Context, tickers []string) map[string]decimal.Decimal
}

type Snapshot struct {
	Positions     []Position        `json:"positions"`
	Metrics       Metrics           `json:"metrics"`
	Allocation    []AllocationSlice `json:"allocation"`
	Closed        []Position        `json:"closed"`
	MissingPrices []string          `json:"missing_prices"`
	AsOf          time.Time         `json:"as_of"`
}

type Service struct {
	ledger Ledger
	prices PriceSource
	log    *logrus.Logger
}

func NewService(l Ledger, p PriceSource, log *logrus.Logger) *Service {
	return &Service{ledger: l, prices: p, log: log}
}

// Snapshot values the whole ledger. Prices are requested only for positions still open.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	trades, err := s.ledger.FetchTrades(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch trades: %w", err)
	}
	txs, err := s.ledger.FetchTransactions(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch transactions: %w", err)
	}

	var open []string
	for _, p := range Aggregate(trades, nil) {
		if p.Status == Open {
			open = append(open, p.Ticker)
		}
	}
	prices := map[string]decimal.Decimal{}
	if len(open) > 0 {
		prices = s.prices.FetchBatch(ctx, open)
	}

	positions := Aggregate(trades, prices)
	snap := Snapshot{
		Positions:     positions,
		Metrics:       ComputeMetrics(txs, trades, positions),
		Allocation:    Allocation(positions),
		Closed:        ClosedPositions(positions),
		MissingPrices: []string{},
		AsOf:          time.Now().UTC(),
	}
	for _, p := range positions {
		if p.Status == Open && p.PriceFallback {
			snap.MissingPrices = append(snap.MissingPrices, p.Ticker)
		}
	}
	if len(snap.MissingPrices) > 0 {
		s.log.Warnf("valued at average cost, no live price: %v", snap.MissingPrices)
	}
	return snap, nil
}
