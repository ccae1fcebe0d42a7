package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps history in a WAL-mode SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS calls (
		id           TEXT PRIMARY KEY,
		call_id      TEXT NOT NULL UNIQUE,
		operator     TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		caller_name  TEXT NOT NULL DEFAULT '',
		cached       INTEGER NOT NULL DEFAULT 0,
		data         TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calls_operator ON calls(operator, created_at);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Insert(ctx context.Context, rec Record) (bool, error) {
	if err := validate(rec); err != nil {
		return false, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data := string(rec.Data)
	if data == "" {
		data = "null"
	}

	var inserted bool
	err := retryOp(defaultRetryConfig, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO calls (id, call_id, operator, phone_number, caller_name, cached, data, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.CallID, rec.Operator, rec.PhoneNumber, rec.CallerName,
			boolToInt(rec.Cached), data, rec.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert call %s: %w", rec.CallID, err)
	}
	return inserted, nil
}

func (s *SQLiteStore) ByOperator(ctx context.Context, operator string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, operator, phone_number, caller_name, cached, data, created_at
		 FROM calls WHERE operator = ? ORDER BY created_at DESC LIMIT ?`,
		operator, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query calls for %s: %w", operator, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, call_id, operator, phone_number, caller_name, cached, data, created_at
		 FROM calls WHERE id = ? OR call_id = ? LIMIT 1`,
		key, key,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec     Record
		cached  int
		data    string
		created string
	)
	if err := sc.Scan(&rec.ID, &rec.CallID, &rec.Operator, &rec.PhoneNumber, &rec.CallerName, &cached, &data, &created); err != nil {
		return Record{}, err
	}
	rec.Cached = cached != 0
	rec.Data = []byte(data)
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	rec.CreatedAt = t
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
