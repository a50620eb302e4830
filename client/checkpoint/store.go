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

// Package checkpoint persists, per batch, how many records the remote service has confirmed.
//
// Index is a count: 0 means nothing confirmed, N means records 0..N-1 are done and the next
// run resumes at N. Stores only move an index forward.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/croessner/batchpost/client/config"
	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/errors"

	"github.com/redis/go-redis/v9"
)

// Checkpoint is the durable progress of one batch.
type Checkpoint struct {
	Batch     string
	Index     int
	UpdatedAt time.Time
}

// Store is a durable map from batch name to Checkpoint.
type Store interface {
	// Load returns the checkpoint of batch, or a zero Index if none was saved yet.
	Load(ctx context.Context, batch string) (Checkpoint, error)

	// Save persists cp before returning. A lower Index than the stored one fails with
	// errors.ErrCheckpointRegress.
	Save(ctx context.Context, cp Checkpoint) error

	Close() error
}

// Open returns the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.CheckpointSection) (Store, error) {
	switch cfg.Backend {
	case definitions.BackendFile, "":
		return OpenFileStore(cfg.Path)
	case definitions.BackendSQLite:
		return OpenSQLiteStore(ctx, cfg.Path)
	case definitions.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()

			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
		}

		return NewRedisStore(client, cfg.Redis.Key), nil
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownBackend, cfg.Backend)
	}
}

func regress(batch string, stored, next int) error {
	return fmt.Errorf("%w: batch %q at %d, refusing %d", errors.ErrCheckpointRegress, batch, stored, next)
}
