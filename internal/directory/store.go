package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const watermarkKey = "last_updated_at"

const baseSchema = `
CREATE TABLE IF NOT EXISTS tickers (
    symbol TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    is_etf BOOLEAN NOT NULL DEFAULT FALSE,
    exchange TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS sync_log (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const searchSchema = `
CREATE TABLE IF NOT EXISTS tickers_search (
    symbol TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    search_name TEXT NOT NULL,
    is_etf BOOLEAN NOT NULL,
    exchange TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickers_search_symbol ON tickers_search (symbol text_pattern_ops);`

const trigramIndex = `CREATE INDEX IF NOT EXISTS idx_tickers_search_name ON tickers_search USING GIN (search_name gin_trgm_ops)`

// symbol prefix hits rank ahead of name substring hits
const searchQuery = `
SELECT symbol, name, is_etf, exchange FROM (
    SELECT symbol, name, is_etf, exchange, 0 AS tier FROM %[1]s
    WHERE symbol LIKE $1
    UNION ALL
    SELECT symbol, name, is_etf, exchange, 1 AS tier FROM %[1]s
    WHERE symbol NOT LIKE $1 AND %[2]s LIKE $2
) hits
ORDER BY tier, symbol COLLATE "C"
LIMIT $3`

// Store keeps the local ticker directory in Postgres. tickers is the source of truth;
// tickers_search is a derived index that can always be rebuilt from it.
type Store struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func NewStore(db *sqlx.DB, log *logrus.Logger) *Store {
	return &Store{db: db, log: log}
}

// EnsureSchema creates the directory tables and brings the search index in line with
// the base table, recreating it when it cannot be read.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("create directory schema: %w", err)
	}
	if err := s.createSearchIndex(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `SELECT count(*) FROM tickers_search`); err != nil {
		s.log.Warnf("search index unreadable, recreating: %v", err)
		if err := s.recreateSearchIndex(ctx); err != nil {
			return err
		}
	}
	n, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return s.RebuildSearchIndex(ctx)
	}
	return nil
}

func (s *Store) createSearchIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, searchSchema); err != nil {
		return fmt.Errorf("create search index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS pg_trgm`); err != nil {
		s.log.Warnf("pg_trgm unavailable, name search will scan: %v", err)
		return nil
	}
	if _, err := s.db.ExecContext(ctx, trigramIndex); err != nil {
		s.log.Warnf("create trigram index: %v", err)
	}
	return nil
}

func (s *Store) recreateSearchIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS tickers_search`); err != nil {
		return fmt.Errorf("drop search index: %w", err)
	}
	return s.createSearchIndex(ctx)
}

// Upsert writes entries in one transaction. Existing symbols keep their created_at.
func (s *Store) Upsert(ctx context.Context, entries []Entry) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO tickers (symbol, name, is_etf, exchange)
VALUES ($1, $2, $3, $4)
ON CONFLICT (symbol) DO UPDATE SET name = EXCLUDED.name, is_etf = EXCLUDED.is_etf, exchange = EXCLUDED.exchange, updated_at = now()`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Symbol, e.Name, e.IsETF, e.Exchange); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", e.Symbol, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// RebuildSearchIndex repopulates tickers_search from tickers. If the rebuild fails the
// index is dropped, recreated and filled once more.
func (s *Store) RebuildSearchIndex(ctx context.Context) error {
	err := s.rebuild(ctx)
	if err == nil {
		return nil
	}
	s.log.Warnf("search index rebuild failed, recreating: %v", err)
	if err := s.recreateSearchIndex(ctx); err != nil {
		return err
	}
	return s.rebuild(ctx)
}

func (s *Store) rebuild(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tickers_search`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO tickers_search (symbol, name, search_name, is_etf, exchange)
SELECT symbol, name, upper(name), is_etf, exchange FROM tickers`); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM tickers`); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, symbol string) (Entry, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e, `SELECT symbol, name, is_etf, exchange, created_at, updated_at FROM tickers WHERE symbol = $1`, strings.ToUpper(symbol))
	return e, err
}

// List returns the directory ordered by symbol. limit <= 0 lists everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	res := []Entry{}
	err := s.db.SelectContext(ctx, &res, `SELECT symbol, name, is_etf, exchange FROM tickers ORDER BY symbol COLLATE "C" LIMIT $1`, lim)
	return res, err
}

// LastSync returns the watermark of the last successful sync, if any.
func (s *Store) LastSync(ctx context.Context) (time.Time, bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM sync_log WHERE key = $1`, watermarkKey)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		s.log.Warnf("ignoring malformed sync watermark %q", v)
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_log (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, watermarkKey, t.Format(time.RFC3339))
	return err
}

// Search ranks symbol prefix matches ahead of name substring matches, each tier sorted
// by symbol. A failing index is rebuilt and, if still unusable, the base table is read.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return []Entry{}, nil
	}
	res, err := s.search(ctx, "tickers_search", "search_name", q, limit)
	if err == nil {
		return res, nil
	}
	s.log.Warnf("search index query failed, rebuilding: %v", err)
	if err := s.recreateSearchIndex(ctx); err == nil {
		if err := s.rebuild(ctx); err == nil {
			if res, err := s.search(ctx, "tickers_search", "search_name", q, limit); err == nil {
				return res, nil
			}
		}
	}
	s.log.Warn("search index still unusable, reading base table")
	return s.search(ctx, "tickers", "upper(name)", q, limit)
}

func (s *Store) search(ctx context.Context, table, nameExpr, q string, limit int) ([]Entry, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	esc := escapeLike(q)
	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf(searchQuery, table, nameExpr), esc+"%", "%"+esc+"%", lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.StructScan(&e); err != nil {
			s.log.Warnf("scan ticker failed: %v", err)
			continue
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
