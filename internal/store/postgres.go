package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresSink inserts records into a Postgres table, one multi-row
// statement per batch. Duplicate (device, timestamp_ns) rows are ignored.
type PostgresSink struct {
	db        *sql.DB
	tableName string
}

// OpenPostgres connects with the lib/pq driver.
func OpenPostgres(dsn, table string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return NewPostgresSink(db, table), nil
}

// NewPostgresSink wraps an open database handle.
func NewPostgresSink(db *sql.DB, table string) *PostgresSink {
	return &PostgresSink{db: db, tableName: table}
}

// Name identifies the sink in logs.
func (p *PostgresSink) Name() string { return "postgres" }

// Migrate creates the table if it does not exist.
func (p *PostgresSink) Migrate() error {
	_, err := p.db.Exec("CREATE TABLE IF NOT EXISTS " + p.tableName + ` (
	received_at  TIMESTAMPTZ NOT NULL,
	device       TEXT        NOT NULL,
	timestamp_ns BIGINT      NOT NULL,
	temp_mc      INTEGER     NOT NULL,
	flags        INTEGER     NOT NULL,
	PRIMARY KEY (device, timestamp_ns)
)`)
	return err
}

// WriteBatch inserts recs with one multi-row INSERT.
func (p *PostgresSink) WriteBatch(recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.tableName)
	b.WriteString(" (received_at, device, timestamp_ns, temp_mc, flags) VALUES ")

	args := make([]any, 0, len(recs)*5)
	for i, r := range recs {
		if i > 0 {
			b.WriteString(",")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args,
			r.Time,
			r.Device,
			int64(r.Sample.Timestamp),
			r.Sample.TempMC,
			int64(r.Sample.Flags),
		)
	}

	b.WriteString(" ON CONFLICT (device, timestamp_ns) DO NOTHING")

	if _, err := p.db.Exec(b.String(), args...); err != nil {
		return fmt.Errorf("store: insert %d records: %w", len(recs), err)
	}
	return nil
}

// Close closes the database handle.
func (p *PostgresSink) Close() error { return p.db.Close() }

var _ Sink = (*PostgresSink)(nil)
