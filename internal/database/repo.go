package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"investa/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	TableTransactions = "transactions"
	TableInvestments  = "investments"
	TableTags         = "tags"
)

const uniqueViolation = "23505"

type Repo struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Repo {
	return &Repo{db: db, log: log}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (r *Repo) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (r *Repo) InsertTrade(ctx context.Context, t models.Trade) (int64, error) {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return 0, err
	}
	var id int64
	q := `INSERT INTO investments (date, ticker, side, shares, price, currency, note) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7) RETURNING id`
	if err := r.db.QueryRowContext(ctx, q, t.Date, t.Ticker, string(t.Side), t.Shares.String(), t.Price.String(), t.Currency, t.Note).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// FetchTrades returns every trade, most recent first.
func (r *Repo) FetchTrades(ctx context.Context) ([]models.Trade, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, date, ticker, side, shares, price, currency, note, created_at FROM investments ORDER BY date DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.Trade{}
	for rows.Next() {
		var t models.Trade
		if err := rows.StructScan(&t); err != nil {
			r.log.Warnf("scan trade failed: %v", err)
			continue
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r *Repo) InsertTransaction(ctx context.Context, c models.CashTransaction) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if c.Currency == "" {
		c.Currency = models.DefaultCurrency
	}
	var id int64
	q := `INSERT INTO transactions (date, kind, amount, currency, category, tag, note) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7) RETURNING id`
	if err := r.db.QueryRowContext(ctx, q, c.Date, string(c.Kind), c.Amount.String(), c.Currency, c.Category, c.Tag, c.Note).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// FetchTransactions returns every cash transaction, most recent first.
func (r *Repo) FetchTransactions(ctx context.Context) ([]models.CashTransaction, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, date, kind, amount, currency, category, tag, note, created_at FROM transactions ORDER BY date DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.CashTransaction{}
	for rows.Next() {
		var c models.CashTransaction
		if err := rows.StructScan(&c); err != nil {
			r.log.Warnf("scan transaction failed: %v", err)
			continue
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// DeleteRecord removes one row by id from a ledger table.
func (r *Repo) DeleteRecord(ctx context.Context, table string, id int64) error {
	switch table {
	case TableTransactions, TableInvestments, TableTags:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *Repo) FetchTags(ctx context.Context) ([]string, error) {
	res := []string{}
	if err := r.db.SelectContext(ctx, &res, `SELECT name FROM tags ORDER BY name`); err != nil {
		return nil, err
	}
	return res, nil
}

// InsertTag returns the new tag's id. It fails with a *TagError wrapping ErrDuplicateTag
// when the name is taken.
func (r *Repo) InsertTag(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, &TagError{Name: name, Reason: "tag name is required"}
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO tags (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return 0, &TagError{Name: name, Reason: pqErr.Message, Err: ErrDuplicateTag}
	}
	return 0, err
}
