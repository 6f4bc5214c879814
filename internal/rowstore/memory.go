package rowstore

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Store with the same weak semantics as the SQLite
// backend. It backs the test suites and documents the contract's reference
// behaviour.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]Row
	fail   error
}

func NewMemory() *Memory {
	m := &Memory{tables: make(map[string][]Row)}
	m.tables[Requests.Name] = []Row{cloneRow(RequestsHeader)}
	return m
}

// Fail makes every subsequent call return err. Used by tests to simulate a
// backend outage; pass nil to recover.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *Memory) List(_ context.Context, table Table) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	rows := m.tables[table.Name]
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = cloneRow(row)
	}
	return out, nil
}

func (m *Memory) Append(_ context.Context, table Table, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.tables[table.Name] = append(m.tables[table.Name], cloneRow(row))
	return nil
}

func (m *Memory) Update(_ context.Context, table Table, key string, cells map[int]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	key = strings.TrimSpace(key)
	rows := m.tables[table.Name]
	for i, row := range rows {
		if i < table.HeaderRows {
			continue
		}
		if strings.TrimSpace(row.Cell(table.KeyColumn)) != key {
			continue
		}
		rows[i] = applyCells(row, cells)
		return nil
	}
	return ErrRowNotFound
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	copy(out, row)
	return out
}
