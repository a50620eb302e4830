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
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/croessner/batchpost/client/errors"

	"github.com/google/renameio/v2"
	jsoniter "github.com/json-iterator/go"
)

// fileEntry is the on-disk form of one batch. last_row is the key written by older tools and
// carries the same meaning; both are written so either reader can resume.
type fileEntry struct {
	LastConfirmedIndex int       `json:"last_confirmed_index"`
	LastRow            int       `json:"last_row"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (e fileEntry) index() int {
	return max(e.LastConfirmedIndex, e.LastRow)
}

// FileStore keeps all checkpoints in one JSON document that is replaced atomically on save.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]fileEntry
}

var _ Store = (*FileStore)(nil)

// OpenFileStore reads path if it exists. A missing file is an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	store := &FileStore{path: path, entries: map[string]fileEntry{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return store, nil
		}

		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	if len(data) == 0 {
		return store, nil
	}

	if err = jsoniter.Unmarshal(data, &store.entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrCorruptCheckpoint, path, err)
	}

	return store, nil
}

func (s *FileStore) Load(_ context.Context, batch string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[batch]
	if !ok {
		return Checkpoint{Batch: batch}, nil
	}

	return Checkpoint{Batch: batch, Index: entry.index(), UpdatedAt: entry.UpdatedAt}, nil
}

func (s *FileStore) Save(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.entries[cp.Batch]
	if ok && cp.Index < previous.index() {
		return regress(cp.Batch, previous.index(), cp.Index)
	}

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}

	next := make(map[string]fileEntry, len(s.entries)+1)
	for name, entry := range s.entries {
		next[name] = entry
	}

	next[cp.Batch] = fileEntry{LastConfirmedIndex: cp.Index, LastRow: cp.Index, UpdatedAt: cp.UpdatedAt.UTC()}

	data, err := jsoniter.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}

	if err = s.write(data); err != nil {
		return err
	}

	s.entries = next

	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// write replaces the file via a synced temp file and rename, then syncs the directory so the
// rename itself survives a power loss.
func (s *FileStore) write(data []byte) error {
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint file: %w", err)
	}

	dir, err := os.Open(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("open checkpoint directory: %w", err)
	}

	defer dir.Close()

	if err = dir.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint directory: %w", err)
	}

	return nil
}
