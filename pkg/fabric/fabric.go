// Package fabric is the secondary analytics data source used when the
// remote natural-language data agent reports a soft failure. It exposes a
// SQL query interface returning rows as dictionaries.
package fabric

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultMaxRows caps how many rows a single query returns.
const DefaultMaxRows = 100

// Source answers analytics queries with rows keyed by column name.
type Source interface {
	Query(ctx context.Context, query string) ([]map[string]any, error)
	Close() error
}

// SQLSource implements Source over database/sql. Supports PostgreSQL,
// MySQL, and SQLite.
type SQLSource struct {
	db      *sql.DB
	driver  string
	maxRows int
}

var _ Source = (*SQLSource)(nil)

// NewSQLSource creates a source on an open connection.
func NewSQLSource(db *sql.DB, driver string) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLSource{db: db, driver: driver, maxRows: DefaultMaxRows}, nil
}

// OpenSQLSource opens a connection for the given driver ("postgres",
// "mysql", or "sqlite") and returns a ping-verified source.
func OpenSQLSource(driver, dsn string) (*SQLSource, error) {
	driverName := driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open analytics database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping analytics database: %w", err)
	}

	return NewSQLSource(db, driver)
}

// SetMaxRows overrides the per-query row cap. Zero or negative disables
// the cap.
func (s *SQLSource) SetMaxRows(n int) {
	s.maxRows = n
}

// Query runs the given SQL and returns each row as a column-keyed map.
func (s *SQLSource) Query(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		record := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			switch v := values[i].(type) {
			case []byte:
				// MySQL returns TEXT columns as byte slices
				record[col] = string(v)
			default:
				record[col] = v
			}
		}
		out = append(out, record)

		if s.maxRows > 0 && len(out) >= s.maxRows {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

// Close implements Source.
func (s *SQLSource) Close() error {
	return s.db.Close()
}
