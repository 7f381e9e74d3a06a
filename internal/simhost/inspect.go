package simhost

import (
	"database/sql"
	"fmt"
	"strings"
)

// ColumnInfo describes one table column
type ColumnInfo struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
}

// TableInfo is a table's schema, row count and first rows
type TableInfo struct {
	Name    string
	Rows    int
	Columns []ColumnInfo
	Sample  [][]any
}

// OpenReadOnly opens an existing simulated host without creating it
func OpenReadOnly(path string) (*Host, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open simulated host: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("simulated host ping failed: %w", err)
	}
	return &Host{db: db, path: path}, nil
}

// Inspect describes every table, with up to sample rows each
func (h *Host) Inspect(sample int) ([]TableInfo, error) {
	tables, err := h.tables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	out := make([]TableInfo, 0, len(tables))
	for _, name := range tables {
		info := TableInfo{Name: name}
		if err := h.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %q", name)).Scan(&info.Rows); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", name, err)
		}
		if info.Columns, err = h.columns(name); err != nil {
			return nil, fmt.Errorf("failed to read schema of %s: %w", name, err)
		}
		if sample > 0 && info.Rows > 0 {
			if info.Sample, err = h.sample(name, info.Columns, sample); err != nil {
				return nil, fmt.Errorf("failed to sample %s: %w", name, err)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func (h *Host) tables() ([]string, error) {
	rows, err := h.db.Query(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (h *Host) columns(table string) ([]ColumnInfo, error) {
	rows, err := h.db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []ColumnInfo
	for rows.Next() {
		var (
			col          ColumnInfo
			cid          int
			notNull, pk  int
			defaultValue sql.NullString
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		col.NotNull = notNull == 1
		col.PrimaryKey = pk > 0
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (h *Host) sample(table string, columns []ColumnInfo, limit int) ([][]any, error) {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = fmt.Sprintf("%q", c.Name)
	}
	rows, err := h.db.Query(fmt.Sprintf("SELECT %s FROM %q LIMIT %d", strings.Join(names, ", "), table, limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, rows.Err()
}
