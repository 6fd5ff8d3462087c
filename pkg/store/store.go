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
// Package store persists JSON records keyed by id.
//
// Store writes one pretty-printed file per record at <dir>/<sanitized-id>.json
// using write-to-temp, fsync, rename, so a crash leaves either the previous or
// the new content on disk and never a partial file. SQLiteStore keeps the same
// records in a single database file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/types"
)

const fileExt = ".json"

// Repository is the record API shared by the file and SQLite stores.
type Repository[T any] interface {
	Save(ctx context.Context, id string, value T) error
	Get(ctx context.Context, id string) (T, bool, error)
	List(ctx context.Context) ([]Record[T], error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Record pairs a stored value with its sanitized id.
type Record[T any] struct {
	ID    string
	Value T
}

// Store is a directory of JSON files. It keeps no in-memory state, so
// concurrent writers need no coordination beyond the rename.
type Store[T any] struct {
	dir    string
	logger *zap.Logger
}

// New opens (creating if needed) a file store rooted at dir.
func New[T any](dir string, logger *zap.Logger) (*Store[T], error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is empty: %w", types.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, types.WithCategory(types.ErrCapabilityUnavailable,
			fmt.Errorf("failed to create store directory %s: %w", dir, err))
	}
	return &Store[T]{dir: dir, logger: logger}, nil
}

// Dir returns the root directory.
func (s *Store[T]) Dir() string {
	return s.dir
}

// SanitizeID maps every character outside [A-Za-z0-9._-] to '_'. An empty
// result becomes "_".
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// Path returns the file path for id.
func (s *Store[T]) Path(id string) string {
	return filepath.Join(s.dir, SanitizeID(id)+fileExt)
}

// Save atomically replaces the record for id.
func (s *Store[T]) Save(ctx context.Context, id string, value T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return types.WithCategory(types.ErrSerialization,
			fmt.Errorf("failed to serialize record %q: %w", id, err))
	}
	target := s.Path(id)
	if err := WriteFileAtomic(target, data, 0o640); err != nil {
		return err
	}
	s.logger.Debug("store_saved", zap.String("id", id), zap.String("path", target))
	return nil
}

// WriteFileAtomic writes data to a temp file in the target's directory, syncs
// it and renames it over path. The temp file is removed on any failure.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return types.WithCategory(types.ErrCapabilityUnavailable,
			fmt.Errorf("failed to create temp file in %s: %w", dir, err))
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}

// Get loads the record for id. Missing records return found=false and no error.
func (s *Store[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to read record %q: %w", id, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, types.WithCategory(types.ErrSerialization,
			fmt.Errorf("failed to parse record %q: %w", id, err))
	}
	return v, true, nil
}

// List returns every parseable record sorted by id. Corrupt files are logged
// and skipped.
func (s *Store[T]) List(ctx context.Context) ([]Record[T], error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	records := make([]Record[T], 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || isTempFile(name) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("store_record_unreadable", zap.String("path", path), zap.Error(err))
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			s.logger.Warn("store_record_corrupt", zap.String("path", path), zap.Error(err))
			continue
		}
		records = append(records, Record[T]{ID: strings.TrimSuffix(name, fileExt), Value: v})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Delete removes the record and reports whether it existed.
func (s *Store[T]) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := os.Remove(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete record %q: %w", id, err)
	}
	s.logger.Debug("store_deleted", zap.String("id", id))
	return true, nil
}

// RemoveStaleTemps deletes temp files left behind by a crash between create
// and rename. It returns how many were removed.
func (s *Store[T]) RemoveStaleTemps() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isTempFile(name) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("store_temps_removed", zap.String("dir", s.dir), zap.Int("count", removed))
	}
	return removed, nil
}

// isTempFile matches names produced by WriteFileAtomic: "."+base+".tmp-"
// followed by digits. Record files always end in fileExt, so a record whose
// id merely looks like a temp name is never matched.
func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".") &&
		strings.Contains(name, fileExt+".tmp-") &&
		!strings.HasSuffix(name, fileExt)
}

var _ Repository[int] = (*Store[int])(nil)
