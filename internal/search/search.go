package search

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"investa/internal/directory"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const DefaultTicker = "AAPL"

const DefaultLimit = 10

//go:embed fallback_tickers.txt
var fallbackFile string

// Directory is the synced ticker directory the searcher prefers over its built-in list.
type Directory interface {
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, query string, limit int) ([]directory.Entry, error)
	List(ctx context.Context, limit int) ([]directory.Entry, error)
}

// Searcher answers ticker lookups from the directory, or from a built-in list of common
// US symbols when the directory is empty or failing.
type Searcher struct {
	dir      Directory
	fallback []string
	limit    int
	cache    *cache.Cache
	log      *logrus.Logger
}

func New(dir Directory, ttl time.Duration, limit int, log *logrus.Logger) *Searcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Searcher{
		dir:      dir,
		fallback: loadFallback(fallbackFile),
		limit:    limit,
		cache:    cache.New(ttl, 2*ttl),
		log:      log,
	}
}

// loadFallback returns the unique non-blank symbols of content, sorted.
func loadFallback(content string) []string {
	seen := map[string]bool{}
	var res []string
	for _, line := range strings.Split(content, "\n") {
		s := strings.ToUpper(strings.TrimSpace(line))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		res = append(res, s)
	}
	sort.Strings(res)
	return res
}

// Reset drops cached results, e.g. after a directory sync.
func (s *Searcher) Reset() {
	s.cache.Flush()
}

// SearchTickers returns up to limit symbols matching query. It never returns an empty
// slice: with no match the default ticker is suggested.
func (s *Searcher) SearchTickers(ctx context.Context, query string, limit int) []string {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return []string{DefaultTicker}
	}
	if limit <= 0 {
		limit = s.limit
	}
	key := fmt.Sprintf("tickers|%s|%d", q, limit)
	if v, ok := s.cache.Get(key); ok {
		return append([]string(nil), v.([]string)...)
	}

	var res []string
	if entries, ok := s.fromDirectory(ctx, q, limit); ok {
		for _, e := range entries {
			res = append(res, e.Symbol)
		}
	}
	if len(res) == 0 {
		res = s.searchFallback(q, limit)
	}
	if len(res) == 0 {
		res = []string{DefaultTicker}
	}
	s.cache.SetDefault(key, res)
	return append([]string(nil), res...)
}

// FormattedOptions returns display strings for the entries matching query. An empty
// query lists entries in symbol order.
func (s *Searcher) FormattedOptions(ctx context.Context, query string, limit int) []string {
	q := strings.ToUpper(strings.TrimSpace(query))
	if limit <= 0 {
		limit = s.limit
	}
	key := fmt.Sprintf("options|%s|%d", q, limit)
	if v, ok := s.cache.Get(key); ok {
		return append([]string(nil), v.([]string)...)
	}

	entries, ok := s.fromDirectory(ctx, q, limit)
	if !ok {
		entries = s.fallbackEntries(q, limit)
	}
	res := make([]string, 0, len(entries))
	for _, e := range entries {
		res = append(res, FormatOption(e))
	}
	s.cache.SetDefault(key, res)
	return append([]string(nil), res...)
}

// fromDirectory reports false when the directory is empty or cannot be queried.
func (s *Searcher) fromDirectory(ctx context.Context, q string, limit int) ([]directory.Entry, bool) {
	n, err := s.dir.Count(ctx)
	if err != nil {
		s.log.Warnf("ticker directory unavailable, using built-in list: %v", err)
		return nil, false
	}
	if n == 0 {
		return nil, false
	}
	var entries []directory.Entry
	if q == "" {
		entries, err = s.dir.List(ctx, limit)
	} else {
		entries, err = s.dir.Search(ctx, q, limit)
	}
	if err != nil {
		s.log.Warnf("ticker directory search failed, using built-in list: %v", err)
		return nil, false
	}
	return entries, true
}

// searchFallback applies the directory ranking to the built-in list: prefix matches
// first, then other substring matches, each in symbol order.
func (s *Searcher) searchFallback(q string, limit int) []string {
	var prefix, contains []string
	for _, sym := range s.fallback {
		switch {
		case q == "" || strings.HasPrefix(sym, q):
			prefix = append(prefix, sym)
		case strings.Contains(sym, q):
			contains = append(contains, sym)
		}
	}
	res := append(prefix, contains...)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

func (s *Searcher) fallbackEntries(q string, limit int) []directory.Entry {
	syms := s.searchFallback(q, limit)
	res := make([]directory.Entry, 0, len(syms))
	for _, sym := range syms {
		res = append(res, directory.Entry{Symbol: sym, Name: sym})
	}
	return res
}

// FormatOption renders an entry as "SYMBOL | Name (ETF)" or "SYMBOL | Name (Stock)".
func FormatOption(e directory.Entry) string {
	kind := "Stock"
	if e.IsETF {
		kind = "ETF"
	}
	return fmt.Sprintf("%s | %s (%s)", e.Symbol, e.Name, kind)
}

// ExtractSymbol returns the symbol of a formatted option.
func ExtractSymbol(option string) (string, bool) {
	sym, _, found := strings.Cut(option, "|")
	sym = strings.TrimSpace(sym)
	if !found || sym == "" {
		return "", false
	}
	return sym, true
}
