// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/mofa-org/mofa/pkg/types"
)

// SQLiteStore keeps records as JSON rows in one SQLite table.
// Uses WAL mode for concurrent read/write access.
type SQLiteStore[T any] struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewSQLiteStore opens dbPath and creates the records table if missing.
// table must be a plain identifier.
func NewSQLiteStore[T any](ctx context.Context, dbPath, table string, logger *zap.Logger) (*SQLiteStore[T], error) {
	if table == "" || SanitizeID(table) != table || table[0] == '.' || table[0] == '-' {
		return nil, fmt.Errorf("invalid table name %q: %w", table, types.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore[T]{db: db, table: table, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[T]) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %q (
		id TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`, s.table)
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save upserts the record for id in a transaction.
func (s *SQLiteStore[T]) Save(ctx context.Context, id string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return types.WithCategory(types.ErrSerialization,
			fmt.Errorf("failed to serialize record %q: %w", id, err))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		INSERT INTO %q (id, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
		s.table)
	if _, err := tx.ExecContext(ctx, query, SanitizeID(id), string(data), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save record %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record %q: %w", id, err)
	}
	return nil
}

// Get loads the record for id.
func (s *SQLiteStore[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	var raw string
	query := fmt.Sprintf(`SELECT value_json FROM %q WHERE id = ?`, s.table)
	err := s.db.QueryRowContext(ctx, query, SanitizeID(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to get record %q: %w", id, err)
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return zero, false, types.WithCategory(types.ErrSerialization,
			fmt.Errorf("failed to parse record %q: %w", id, err))
	}
	return v, true, nil
}

// List returns every parseable record ordered by id. Corrupt rows are logged and skipped.
func (s *SQLiteStore[T]) List(ctx context.Context) ([]Record[T], error) {
	query := fmt.Sprintf(`SELECT id, value_json FROM %q ORDER BY id`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []Record[T]
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.logger.Warn("store_record_corrupt", zap.String("id", id), zap.Error(err))
			continue
		}
		records = append(records, Record[T]{ID: id, Value: v})
	}
	return records, rows.Err()
}

// Delete removes the record and reports whether it existed.
func (s *SQLiteStore[T]) Delete(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, s.table)
	res, err := s.db.ExecContext(ctx, query, SanitizeID(id))
	if err != nil {
		return false, fmt.Errorf("failed to delete record %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the database.
func (s *SQLiteStore[T]) Close() error {
	return s.db.Close()
}

var _ Repository[int] = (*SQLiteStore[int])(nil)
