package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteSink implements Sink using SQLite.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the audit database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	sink := &SQLiteSink{db: db}

	if err := sink.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return sink, nil
}

// Migrate runs database migrations.
func (s *SQLiteSink) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			profile TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			status TEXT NOT NULL,
			group_id TEXT,
			order_id INTEGER,
			price TEXT NOT NULL DEFAULT '0',
			note TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_symbol ON audit_log(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_group ON audit_log(group_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// Append inserts one audit record.
func (s *SQLiteSink) Append(ctx context.Context, rec Record) error {
	query := `INSERT INTO audit_log (timestamp, profile, symbol, quantity, status, group_id, order_id, price, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.Timestamp,
		rec.Profile,
		rec.Symbol,
		rec.Quantity,
		rec.Status,
		rec.GroupID,
		rec.OrderID,
		rec.Price.String(),
		rec.Note,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return nil
}

// Recent returns the newest records, most recent first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT timestamp, profile, symbol, quantity, status, group_id, order_id, price, note
		FROM audit_log ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var r Record
		var groupID, note sql.NullString
		var orderID sql.NullInt64
		var price string

		if err := rows.Scan(&r.Timestamp, &r.Profile, &r.Symbol, &r.Quantity, &r.Status, &groupID, &orderID, &price, &note); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		r.GroupID = groupID.String
		r.OrderID = orderID.Int64
		r.Price, _ = decimal.NewFromString(price)
		r.Note = note.String

		records = append(records, r)
	}

	return records, rows.Err()
}

// BySymbol returns records for a symbol, most recent first.
func (s *SQLiteSink) BySymbol(ctx context.Context, symbol string, limit int) ([]Record, error) {
	query := `SELECT timestamp, profile, symbol, quantity, status, group_id, order_id, price, note
		FROM audit_log WHERE symbol = ? ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log by symbol: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var r Record
		var groupID, note sql.NullString
		var orderID sql.NullInt64
		var price string

		if err := rows.Scan(&r.Timestamp, &r.Profile, &r.Symbol, &r.Quantity, &r.Status, &groupID, &orderID, &price, &note); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		r.GroupID = groupID.String
		r.OrderID = orderID.Int64
		r.Price, _ = decimal.NewFromString(price)
		r.Note = note.String

		records = append(records, r)
	}

	return records, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Ensure SQLiteSink implements Sink
var _ Sink = (*SQLiteSink)(nil)
