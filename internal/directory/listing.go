package directory

import (
	"strings"
	"time"
)

// Entry is one exchange-listed symbol. Symbol is the identity; everything else may
// change between syncs.
type Entry struct {
	Symbol    string    `db:"symbol" json:"symbol"`
	Name      string    `db:"name" json:"name"`
	IsETF     bool      `db:"is_etf" json:"is_etf"`
	Exchange  string    `db:"exchange" json:"exchange"`
	CreatedAt time.Time `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Listing describes one pipe-delimited symbol file of the exchange feed.
type Listing struct {
	File            string
	Exchange        string
	ETFColumn       int
	TestIssueColumn int
}

// Column indexes follow the published headers:
// nasdaqlisted.txt: Symbol|Security Name|Market Category|Test Issue|Financial Status|Round Lot Size|ETF|NextShares
// otherlisted.txt:  ACT Symbol|Security Name|Exchange|CQS Symbol|ETF|Round Lot Size|Test Issue|NASDAQ Symbol
var (
	NasdaqListed = Listing{File: "nasdaqlisted.txt", Exchange: "NASDAQ", ETFColumn: 6, TestIssueColumn: 3}
	OtherListed  = Listing{File: "otherlisted.txt", Exchange: "OTHER", ETFColumn: 4, TestIssueColumn: 6}
)

const summaryPrefix = "File Creation Time"

// ParseListing turns a feed file into entries. The header and the trailing summary line
// are dropped, and malformed rows and test issues are skipped.
func ParseListing(content string, l Listing) []Entry {
	content = strings.ToValidUTF8(content, "")
	lines := strings.Split(strings.TrimRight(content, "\r\n"), "\n")
	if len(lines) < 2 {
		return nil
	}

	var res []Entry
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, summaryPrefix) {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(parts[0]))
		name := strings.TrimSpace(parts[1])
		if symbol == "" || strings.Contains(name, "Test Issue") || column(parts, l.TestIssueColumn) {
			continue
		}
		res = append(res, Entry{
			Symbol:   symbol,
			Name:     name,
			IsETF:    column(parts, l.ETFColumn),
			Exchange: l.Exchange,
		})
	}
	return res
}

// column reports whether the flag at idx is "Y".
func column(parts []string, idx int) bool {
	return idx < len(parts) && strings.EqualFold(strings.TrimSpace(parts[idx]), "Y")
}

// merge concatenates listings; a symbol seen twice keeps its last row.
func merge(listings ...[]Entry) []Entry {
	pos := map[string]int{}
	var res []Entry
	for _, entries := range listings {
		for _, e := range entries {
			if i, ok := pos[e.Symbol]; ok {
				res[i] = e
				continue
			}
			pos[e.Symbol] = len(res)
			res = append(res, e)
		}
	}
	return res
}
