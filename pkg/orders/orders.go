// Package orders persists confirmed payments in SQLite or Postgres.
package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-shopcam/pkg/catalog"
)

// ErrNotFound is returned when no order has the requested id.
var ErrNotFound = errors.New("orders: not found")

// Order is a confirmed payment.
type Order struct {
	ID          string             `json:"id"`
	SessionID   string             `json:"session_id"`
	Amount      float64            `json:"amount"`
	Items       []catalog.PriceRow `json:"items"`
	CodeRef     string             `json:"code_ref"`
	ConfirmedAt time.Time          `json:"confirmed_at"`

	// ReceiptURL is set once the receipt has been exported.
	ReceiptURL string `json:"receipt_url,omitempty"`
}

// Store reads and writes orders through database/sql.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects with driver "sqlite" or "postgres" and migrates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("orders: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("orders: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and migrates the schema.
func New(ctx context.Context, db *sql.DB, driver string) (*Store, error) {
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("orders: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		items TEXT NOT NULL,
		code_ref TEXT NOT NULL DEFAULT '',
		confirmed_at TEXT NOT NULL,
		receipt_url TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save inserts an order.
func (s *Store) Save(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("orders: encode items: %w", err)
	}
	query := s.rebind(`INSERT INTO orders (
		order_id, session_id, amount, items, code_ref, confirmed_at, receipt_url
	) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		o.ID, o.SessionID, o.Amount, string(items), o.CodeRef,
		o.ConfirmedAt.UTC().Format(time.RFC3339Nano), o.ReceiptURL,
	)
	if err != nil {
		return fmt.Errorf("orders: insert %s: %w", o.ID, err)
	}
	return nil
}

// SetReceiptURL records where the order's receipt was exported.
func (s *Store) SetReceiptURL(ctx context.Context, id, url string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE orders SET receipt_url = ? WHERE order_id = ?`), url, id)
	if err != nil {
		return fmt.Errorf("orders: update %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT order_id, session_id, amount, items, code_ref, confirmed_at, receipt_url FROM orders`

// Get returns one order.
func (s *Store) Get(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectColumns+` WHERE order_id = ?`), id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// List returns the most recent orders first.
func (s *Store) List(ctx context.Context, limit int) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectColumns+` ORDER BY confirmed_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (*Order, error) {
	var (
		o           Order
		items       string
		confirmedAt string
	)
	if err := sc.Scan(&o.ID, &o.SessionID, &o.Amount, &items, &o.CodeRef, &confirmedAt, &o.ReceiptURL); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("orders: decode items for %s: %w", o.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, confirmedAt)
	if err != nil {
		return nil, fmt.Errorf("orders: parse confirmed_at for %s: %w", o.ID, err)
	}
	o.ConfirmedAt = t
	return &o, nil
}
