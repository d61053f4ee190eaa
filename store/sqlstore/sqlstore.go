/*
Package sqlstore provides a SQL-backed implementation of ledger.Store.

PURPOSE:
  Persists entries, cash accounts and the cash movement log in SQLite
  (mattn/go-sqlite3) or PostgreSQL (lib/pq). The same schema and queries
  serve both; placeholders are rebound for PostgreSQL.

KEY TABLES:
  entries:              One row per entry; the full entry as a JSON document
                        plus the columns queries filter on
  entry_counterparties: Which counterparties an entry's lines name
  cash_accounts:        Balance per cash account (decimal as text)
  cash_movements:       Append-only log of every balance change
  receipts:             Processed receipts with their line outcomes (JSON)

OPTIMISTIC CONCURRENCY:
  UpdateEntry runs
    UPDATE entries SET ... version = v+1 WHERE id = ? AND version = v
  Zero rows affected means another writer got there first and the call
  fails with ledger.ErrConcurrentModification.

  Cash balances use the same compare-and-swap on the previous balance so
  two processes sharing a PostgreSQL database cannot lose a movement.

ATOMICITY:
  WithTx wraps one *sql.Tx. The entry write and the balance update of a
  payment or settlement commit or roll back together.

SQLITE NOTES:
  ":memory:" databases exist per connection, so the pool is pinned to a
  single connection. Inside WithTx every statement must go through the
  transaction, never the pool, or it would wait on itself.

USAGE:
  st, err := sqlstore.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  engine := ledger.NewEngine(st)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/ledger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// tsLayout sorts lexically in time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store over database/sql.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.RWMutex
}

var _ ledger.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects with the named driver ("sqlite3" or "postgres") and
// migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_journal_mode=WAL"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, driver: driver}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver names the database/sql driver in use.
func (s *Store) Driver() string { return s.driver }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		accrual_date TEXT NOT NULL,
		version INTEGER NOT NULL,
		doc TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_contract
		ON entries(contract_id);
	CREATE INDEX IF NOT EXISTS idx_entries_status
		ON entries(status);
	CREATE INDEX IF NOT EXISTS idx_entries_accrual
		ON entries(accrual_date, id);

	-- Statement lookups go through this table (hot path)
	CREATE TABLE IF NOT EXISTS entry_counterparties (
		entry_id TEXT NOT NULL,
		counterparty_id TEXT NOT NULL,
		PRIMARY KEY (entry_id, counterparty_id)
	);

	CREATE INDEX IF NOT EXISTS idx_entry_counterparties_cp
		ON entry_counterparties(counterparty_id);

	CREATE TABLE IF NOT EXISTS cash_accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		balance TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cash_movements (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		entry_id TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		amount TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cash_movements_account
		ON cash_movements(account_id, at);

	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		cash_account_id TEXT NOT NULL,
		receipt_date TEXT NOT NULL,
		doc TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERY PLUMBING
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rebind turns ? placeholders into $1, $2, ... for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// ENTRIES
// =============================================================================

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEntry(ctx, s.db, id)
}

func (s *Store) ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEntries(ctx, s.db, filter)
}

func (s *Store) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	return s.WithTx(ctx, func(tx ledger.Tx) error { return tx.InsertEntry(ctx, e) })
}

func (s *Store) UpdateEntry(ctx context.Context, e *ledger.Entry, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEntry(ctx, s.db, e, expectedVersion)
}

func (s *Store) getEntry(ctx context.Context, q querier, id ledger.EntryID) (*ledger.Entry, error) {
	var (
		doc     string
		version int64
	)
	err := q.QueryRowContext(ctx, s.rebind(`SELECT doc, version FROM entries WHERE id = ?`), string(id)).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	return decodeEntry(doc, version)
}

func (s *Store) listEntries(ctx context.Context, q querier, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	query := `SELECT doc, version FROM entries WHERE 1=1`
	var args []any
	if filter.ContractID != "" {
		query += ` AND contract_id = ?`
		args = append(args, string(filter.ContractID))
	}
	if filter.AccruedBefore != nil {
		query += ` AND accrual_date <= ?`
		args = append(args, formatTime(*filter.AccruedBefore))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(marks, ", ") + `)`
	}
	if filter.CounterpartyID != "" {
		query += ` AND EXISTS (SELECT 1 FROM entry_counterparties ec
			WHERE ec.entry_id = entries.id AND ec.counterparty_id = ?)`
		args = append(args, string(filter.CounterpartyID))
	}
	query += ` ORDER BY accrual_date ASC, id ASC`

	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	out := make([]ledger.Entry, 0)
	for rows.Next() {
		var (
			doc     string
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		e, err := decodeEntry(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) insertEntry(ctx context.Context, q querier, e *ledger.Entry) error {
	e.Version = 1
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	_, err = q.ExecContext(ctx, s.rebind(`
		INSERT INTO entries (id, contract_id, status, accrual_date, version, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		string(e.ID),
		string(e.ContractID),
		string(e.Status),
		formatTime(e.AccrualDate),
		e.Version,
		string(doc),
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	for _, cp := range e.Counterparties() {
		if _, err := q.ExecContext(ctx, s.rebind(`
			INSERT INTO entry_counterparties (entry_id, counterparty_id) VALUES (?, ?)`),
			string(e.ID), string(cp)); err != nil {
			return fmt.Errorf("failed to index counterparty: %w", err)
		}
	}
	return nil
}

func (s *Store) updateEntry(ctx context.Context, q querier, e *ledger.Entry, expectedVersion int64) error {
	next := *e
	next.Version = expectedVersion + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	res, err := q.ExecContext(ctx, s.rebind(`
		UPDATE entries SET status = ?, accrual_date = ?, version = ?, doc = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		string(e.Status),
		formatTime(e.AccrualDate),
		next.Version,
		string(doc),
		formatTime(e.UpdatedAt),
		string(e.ID),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := q.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM entries WHERE id = ?`), string(e.ID)).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrEntryNotFound
		}
		return ledger.ErrConcurrentModification
	}
	e.Version = next.Version
	return nil
}

func decodeEntry(doc string, version int64) (*ledger.Entry, error) {
	var e ledger.Entry
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	e.Version = version
	return &e, nil
}

// =============================================================================
// CASH ACCOUNTS
// =============================================================================

func (s *Store) UpdateBalance(ctx context.Context, m ledger.CashMovement) error {
	return s.WithTx(ctx, func(tx ledger.Tx) error { return tx.UpdateBalance(ctx, m) })
}

func (s *Store) OpenCashAccount(ctx context.Context, id ledger.CashAccountID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO cash_accounts (id, name, balance) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		string(id), name, decimal.Zero.String())
	if err != nil {
		return fmt.Errorf("failed to open cash account: %w", err)
	}
	return nil
}

func (s *Store) GetCashAccount(ctx context.Context, id ledger.CashAccountID) (*ledger.CashAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		name, balance string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT name, balance FROM cash_accounts WHERE id = ?`), string(id)).Scan(&name, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCashAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cash account: %w", err)
	}
	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for %s: %w", id, err)
	}
	return &ledger.CashAccount{ID: id, Name: name, Balance: bal}, nil
}

func (s *Store) ListMovements(ctx context.Context, id ledger.CashAccountID) ([]ledger.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, account_id, entry_id, direction, amount, reference, at
		FROM cash_movements WHERE account_id = ?
		ORDER BY at ASC, id ASC`), string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()

	var out []ledger.CashMovement
	for rows.Next() {
		var (
			m                 ledger.CashMovement
			amount, at, dir   string
			mid, acc, entryID string
		)
		if err := rows.Scan(&mid, &acc, &entryID, &dir, &amount, &m.Reference, &at); err != nil {
			return nil, err
		}
		m.ID = mid
		m.AccountID = ledger.CashAccountID(acc)
		m.EntryID = ledger.EntryID(entryID)
		m.Direction = ledger.Direction(dir)
		if m.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount for movement %s: %w", mid, err)
		}
		if m.At, err = time.Parse(tsLayout, at); err != nil {
			return nil, fmt.Errorf("corrupt timestamp for movement %s: %w", mid, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// RECEIPTS
// =============================================================================

func (s *Store) SaveReceipt(ctx context.Context, rc *ledger.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO receipts (id, cash_account_id, receipt_date, doc) VALUES (?, ?, ?, ?)`),
		rc.ID, string(rc.CashAccountID), formatTime(rc.Date), string(doc))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrReceiptExists
		}
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*ledger.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT doc FROM receipts WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt: %w", err)
	}
	var rc ledger.Receipt
	if err := json.Unmarshal([]byte(doc), &rc); err != nil {
		return nil, fmt.Errorf("corrupt receipt %s: %w", id, err)
	}
	return &rc, nil
}

func (s *Store) updateBalance(ctx context.Context, q querier, m ledger.CashMovement) error {
	var balance string
	err := q.QueryRowContext(ctx, s.rebind(`SELECT balance FROM cash_accounts WHERE id = ?`), string(m.AccountID)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrCashAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load cash account: %w", err)
	}
	cur, err := decimal.NewFromString(balance)
	if err != nil {
		return fmt.Errorf("corrupt balance for %s: %w", m.AccountID, err)
	}

	next := cur
	switch m.Direction {
	case ledger.Inflow:
		next = cur.Add(m.Amount)
	case ledger.Outflow:
		next = cur.Sub(m.Amount)
	default:
		return fmt.Errorf("unknown movement direction %q", m.Direction)
	}

	res, err := q.ExecContext(ctx, s.rebind(`UPDATE cash_accounts SET balance = ? WHERE id = ? AND balance = ?`),
		next.String(), string(m.AccountID), balance)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrConcurrentModification
	}

	_, err = q.ExecContext(ctx, s.rebind(`
		INSERT INTO cash_movements (id, account_id, entry_id, direction, amount, reference, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		m.ID,
		string(m.AccountID),
		string(m.EntryID),
		string(m.Direction),
		m.Amount.String(),
		m.Reference,
		formatTime(m.At),
	)
	if err != nil {
		return fmt.Errorf("failed to record movement: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	return ts.parent.getEntry(ctx, ts.tx, id)
}

func (ts *txStore) ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	return ts.parent.listEntries(ctx, ts.tx, filter)
}

func (ts *txStore) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	return ts.parent.insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) UpdateEntry(ctx context.Context, e *ledger.Entry, expectedVersion int64) error {
	return ts.parent.updateEntry(ctx, ts.tx, e, expectedVersion)
}

func (ts *txStore) UpdateBalance(ctx context.Context, m ledger.CashMovement) error {
	return ts.parent.updateBalance(ctx, ts.tx, m)
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"receipts", "cash_movements", "cash_accounts", "entry_counterparties", "entries"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
