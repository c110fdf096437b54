package service

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownPeriod = errors.New("unknown period")

// State separates "never asked" from "asked and failed".
type State int

const (
	NotFetched State = iota
	Available
	Unavailable
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	}
	return "not_fetched"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Quote struct {
	Ticker string          `json:"ticker"`
	State  State           `json:"state"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
	Reason string          `json:"reason,omitempty"`
}

func (q Quote) OK() bool { return q.State == Available }

func unavailable(ticker, reason string) Quote {
	return Quote{Ticker: ticker, State: Unavailable, Reason: reason}
}

type Period string

const (
	Day       Period = "1d"
	Week      Period = "5d"
	Month     Period = "1mo"
	Quarter   Period = "3mo"
	HalfYear  Period = "6mo"
	Year      Period = "1y"
	TwoYears  Period = "2y"
	FiveYears Period = "5y"
)

// bar width requested for each range
var periodIntervals = map[Period]string{
	Day:       "5m",
	Week:      "30m",
	Month:     "1d",
	Quarter:   "1d",
	HalfYear:  "1d",
	Year:      "1d",
	TwoYears:  "1wk",
	FiveYears: "1wk",
}

func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if p == "1w" {
		p = Week
	}
	if _, ok := periodIntervals[p]; !ok {
		return "", ErrUnknownPeriod
	}
	return p, nil
}

type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

type History struct {
	Ticker string `json:"ticker"`
	Period Period `json:"period"`
	State  State  `json:"state"`
	Bars   []Bar  `json:"bars"`
	Reason string `json:"reason,omitempty"`
}

func (h History) OK() bool { return h.State == Available && len(h.Bars) > 0 }

// Info is the company snapshot for one ticker. MarketCap and PERatio are null when
// the quote endpoint does not report them.
type Info struct {
	Ticker           string              `json:"ticker"`
	State            State               `json:"state"`
	Name             string              `json:"name"`
	Currency         string              `json:"currency,omitempty"`
	Exchange         string              `json:"exchange,omitempty"`
	Price            decimal.Decimal     `json:"price"`
	FiftyTwoWeekHigh decimal.NullDecimal `json:"fifty_two_week_high"`
	FiftyTwoWeekLow  decimal.NullDecimal `json:"fifty_two_week_low"`
	MarketCap        decimal.NullDecimal `json:"market_cap"`
	PERatio          decimal.NullDecimal `json:"pe_ratio"`
	Reason           string              `json:"reason,omitempty"`
}

func (i Info) OK() bool { return i.State == Available }
