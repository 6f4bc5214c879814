// Package rowstore provides uniform access to the two logical tables the bot
// keeps its data in. The contract is deliberately weak: no transactions, no
// uniqueness enforcement, no atomic read-modify-write. Reads are linear scans
// and the first matching row is authoritative; callers that need
// read-check-write semantics must arbitrate on their own.
package rowstore

import (
	"context"
	"errors"
	"strings"
)

// Row is a single positional record, one cell per column. Rows written by
// older code may be shorter than the table layout; missing cells read as "".
type Row []string

// Table describes one logical table. KeyColumn is the column lookups match
// on, HeaderRows is the number of leading title rows a scan must skip.
type Table struct {
	Name       string
	KeyColumn  int
	HeaderRows int
}

// Layouts of the two tables.
//
//	Users:    name, phone, department, floor, telegram_id, username, created_at
//	Requests: request_id, user_id, name, department, floor, topic, description,
//	          created_at, status, accepted_by
var (
	Users    = Table{Name: "Users", KeyColumn: 4}
	Requests = Table{Name: "Requests", KeyColumn: 0, HeaderRows: 1}
)

// RequestsHeader is the title row backends seed into an empty Requests table.
var RequestsHeader = Row{
	"request_id", "user_id", "name", "department", "floor",
	"topic", "description", "created_at", "status", "accepted_by",
}

var (
	// ErrUnavailable reports a transport or backend fault. Callers surface
	// it to the user as a retry-later message; nothing retries automatically.
	ErrUnavailable = errors.New("row store unavailable")

	// ErrRowNotFound reports that no row matched the key.
	ErrRowNotFound = errors.New("row not found")
)

// Store is the capability the rest of the system depends on.
type Store interface {
	// List returns every row of the table, header included, in append order.
	List(ctx context.Context, table Table) ([]Row, error)
	// Append adds a row at the end of the table. Nothing checks for
	// duplicate keys.
	Append(ctx context.Context, table Table, row Row) error
	// Update overwrites the given cells (column index -> value) of the
	// first row whose key column matches key. Later rows with the same key
	// are left untouched. Returns ErrRowNotFound when no row matches.
	Update(ctx context.Context, table Table, key string, cells map[int]string) error
}

// Find scans the table linearly, skipping header rows, and returns the first
// row whose key column matches key. Returns ErrRowNotFound otherwise.
func Find(ctx context.Context, s Store, table Table, key string) (Row, error) {
	rows, err := s.List(ctx, table)
	if err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	for i, row := range rows {
		if i < table.HeaderRows {
			continue
		}
		if strings.TrimSpace(row.Cell(table.KeyColumn)) == key {
			return row, nil
		}
	}
	return nil, ErrRowNotFound
}

// Cell returns the i-th cell or "" when the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// applyCells returns a copy of row with the given cells overwritten,
// extending the row when an index lies beyond its current length.
func applyCells(row Row, cells map[int]string) Row {
	width := len(row)
	for i := range cells {
		if i+1 > width {
			width = i + 1
		}
	}
	out := make(Row, width)
	copy(out, row)
	for i, v := range cells {
		out[i] = v
	}
	return out
}
