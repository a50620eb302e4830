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
	stderrors "errors"
	"fmt"
	"time"

	"github.com/croessner/batchpost/client/errors"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

type redisEntry struct {
	LastConfirmedIndex int    `json:"last_confirmed_index"`
	UpdatedAt          string `json:"updated_at"`
}

// RedisStore keeps checkpoints as fields of one hash. Durability follows the server's
// persistence settings (appendfsync always gives per-save durability).
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = "batchpost:checkpoints"
	}

	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context, batch string) (Checkpoint, error) {
	raw, err := s.client.HGet(ctx, s.key, batch).Result()
	if stderrors.Is(err, redis.Nil) {
		return Checkpoint{Batch: batch}, nil
	}

	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint %q: %w", batch, err)
	}

	var entry redisEntry

	if err = jsoniter.UnmarshalFromString(raw, &entry); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %s/%s: %w", errors.ErrCorruptCheckpoint, s.key, batch, err)
	}

	updatedAt, _ := time.Parse(time.RFC3339Nano, entry.UpdatedAt)

	return Checkpoint{Batch: batch, Index: entry.LastConfirmedIndex, UpdatedAt: updatedAt}, nil
}

// Save reads before it writes. A batch has exactly one driver, so no other writer can race
// between the two commands.
func (s *RedisStore) Save(ctx context.Context, cp Checkpoint) error {
	current, err := s.Load(ctx, cp.Batch)
	if err != nil {
		return err
	}

	if cp.Index < current.Index {
		return regress(cp.Batch, current.Index, cp.Index)
	}

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}

	data, err := jsoniter.MarshalToString(redisEntry{
		LastConfirmedIndex: cp.Index,
		UpdatedAt:          cp.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	if err = s.client.HSet(ctx, s.key, cp.Batch, data).Err(); err != nil {
		return fmt.Errorf("save checkpoint %q: %w", cp.Batch, err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
