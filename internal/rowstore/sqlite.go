package rowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sheetRow is the persisted form of one table row. Cells are kept as a JSON
// array so the table stays positional: append order is the primary key order
// and nothing stops two rows from sharing a key.
type sheetRow struct {
	ID        uint   `gorm:"primaryKey"`
	TableName string `gorm:"index"`
	Cells     string
}

// SQLite is the production Store backend.
type SQLite struct {
	db *gorm.DB
}

// NewSQLite opens a SQLite database, runs migrations and seeds the Requests
// header row when the table is empty.
func NewSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		dsn = "helpdesk.db"
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.AutoMigrate(&sheetRow{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.seedHeader(Requests, RequestsHeader); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle so main can close the connection.
func (s *SQLite) DB() *gorm.DB {
	return s.db
}

func (s *SQLite) seedHeader(table Table, header Row) error {
	var count int64
	if err := s.db.Model(&sheetRow{}).Where("table_name = ?", table.Name).Count(&count).Error; err != nil {
		return fmt.Errorf("count %s: %v: %w", table.Name, err, ErrUnavailable)
	}
	if count > 0 {
		return nil
	}
	return s.Append(context.Background(), table, header)
}

func (s *SQLite) List(ctx context.Context, table Table) ([]Row, error) {
	var records []sheetRow
	err := s.db.WithContext(ctx).
		Where("table_name = ?", table.Name).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %v: %w", table.Name, err, ErrUnavailable)
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row, err := decodeCells(rec.Cells)
		if err != nil {
			return nil, fmt.Errorf("decode %s row %d: %v: %w", table.Name, rec.ID, err, ErrUnavailable)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *SQLite) Append(ctx context.Context, table Table, row Row) error {
	cells, err := encodeCells(row)
	if err != nil {
		return fmt.Errorf("encode %s row: %v: %w", table.Name, err, ErrUnavailable)
	}
	rec := sheetRow{TableName: table.Name, Cells: cells}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append %s: %v: %w", table.Name, err, ErrUnavailable)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, table Table, key string, cells map[int]string) error {
	var records []sheetRow
	err := s.db.WithContext(ctx).
		Where("table_name = ?", table.Name).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return fmt.Errorf("scan %s: %v: %w", table.Name, err, ErrUnavailable)
	}

	key = strings.TrimSpace(key)
	for i, rec := range records {
		if i < table.HeaderRows {
			continue
		}
		row, err := decodeCells(rec.Cells)
		if err != nil {
			return fmt.Errorf("decode %s row %d: %v: %w", table.Name, rec.ID, err, ErrUnavailable)
		}
		if strings.TrimSpace(row.Cell(table.KeyColumn)) != key {
			continue
		}

		encoded, err := encodeCells(applyCells(row, cells))
		if err != nil {
			return fmt.Errorf("encode %s row %d: %v: %w", table.Name, rec.ID, err, ErrUnavailable)
		}
		if err := s.db.WithContext(ctx).Model(&sheetRow{}).
			Where("id = ?", rec.ID).
			Update("cells", encoded).Error; err != nil {
			return fmt.Errorf("update %s row %d: %v: %w", table.Name, rec.ID, err, ErrUnavailable)
		}
		return nil
	}
	return ErrRowNotFound
}

func encodeCells(row Row) (string, error) {
	if row == nil {
		row = Row{}
	}
	data, err := json.Marshal([]string(row))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCells(raw string) (Row, error) {
	var cells []string
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return nil, err
	}
	return Row(cells), nil
}

// ensureDirForSQLite creates the parent dir for the SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}
