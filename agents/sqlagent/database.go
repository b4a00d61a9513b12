package sqlagent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sampleRows = 3
	maxRows    = 100
)

// ErrNotReadOnly is returned by Query for statements other than SELECT.
var ErrNotReadOnly = errors.New("only read-only SELECT queries are allowed")

// Database gives the agent a read-only view of a SQLite database.
type Database struct {
	db *sql.DB
}

// OpenSQLite opens the SQLite database at path. The pool holds a single
// connection, so ":memory:" databases work too.
func OpenSQLite(path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	return &Database{db: db}, nil
}

// NewDatabase wraps an open SQLite connection pool.
func NewDatabase(db *sql.DB) *Database {
	return &Database{db: db}
}

// Dialect names the SQL dialect for prompts.
func (d *Database) Dialect() string { return "sqlite" }

// DB returns the underlying pool.
func (d *Database) DB() *sql.DB { return d.db }

// Close closes the database.
func (d *Database) Close() error { return d.db.Close() }

// Tables lists the user tables in name order.
func (d *Database) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Schema returns the CREATE statement of each table followed by a few
// sample rows.
func (d *Database) Schema(ctx context.Context, tables []string) (string, error) {
	var sb strings.Builder
	for i, table := range tables {
		var ddl string
		err := d.db.QueryRowContext(ctx,
			`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&ddl)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("table %q not found", table)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read schema of %s: %w", table, err)
		}

		sample, err := d.query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), sampleRows))
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s\n\n/*\n%d rows from %s table:\n%s*/", strings.TrimSpace(ddl), sampleRows, table, sample)
	}
	return sb.String(), nil
}

// Query runs a read-only query and returns the rows as tab separated text
// with a header line. At most 100 rows are returned.
func (d *Database) Query(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if err := checkReadOnly(query); err != nil {
		return "", err
	}
	return d.query(ctx, query)
}

// query runs inside a transaction that is always rolled back.
func (d *Database) query(ctx context.Context, query string) (string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(cols, "\t"))
	sb.WriteString("\n")

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	cells := make([]string, len(cols))
	for n := 0; rows.Next(); n++ {
		if n == maxRows {
			sb.WriteString("...\n")
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		for i, v := range values {
			cells[i] = formatValue(v)
		}
		sb.WriteString(strings.Join(cells, "\t"))
		sb.WriteString("\n")
	}
	return sb.String(), rows.Err()
}

func checkReadOnly(query string) error {
	if strings.Contains(query, ";") {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty query", ErrNotReadOnly)
	}
	switch fields[0] {
	case "select", "with":
	default:
		return fmt.Errorf("%w: %s", ErrNotReadOnly, strings.ToUpper(fields[0]))
	}
	for _, f := range fields {
		switch f {
		case "insert", "update", "delete", "drop", "alter", "create", "replace", "attach", "pragma":
			return fmt.Errorf("%w: %s", ErrNotReadOnly, strings.ToUpper(f))
		}
	}
	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
