// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps checkpoints in a single table. Every save is its own transaction and
// synchronous=FULL makes a committed save survive power loss.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens dsn and applies pending migrations. Use ":memory:" in tests.
func OpenSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=FULL", "PRAGMA busy_timeout=5000"} {
		if _, err = db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err = goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set goose dialect: %w", err)
	}

	if err = goose.UpContext(ctx, db, "migrations"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, batch string) (Checkpoint, error) {
	var (
		index   int
		updated string
	)

	err := s.db.QueryRowContext(ctx, `SELECT last_index, updated_at FROM checkpoints WHERE batch = ?`, batch).Scan(&index, &updated)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Checkpoint{Batch: batch}, nil
	}

	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint %q: %w", batch, err)
	}

	updatedAt, _ := time.Parse(time.RFC3339Nano, updated)

	return Checkpoint{Batch: batch, Index: index, UpdatedAt: updatedAt}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint save: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var stored int

	err = tx.QueryRowContext(ctx, `SELECT last_index FROM checkpoints WHERE batch = ?`, cp.Batch).Scan(&stored)

	switch {
	case stderrors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read checkpoint %q: %w", cp.Batch, err)
	case cp.Index < stored:
		return regress(cp.Batch, stored, cp.Index)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (batch, last_index, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(batch) DO UPDATE SET last_index = excluded.last_index, updated_at = excluded.updated_at`,
		cp.Batch, cp.Index, cp.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", cp.Batch, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint %q: %w", cp.Batch, err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
