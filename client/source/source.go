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

// Package source reads the tabular records of a batch. Sources are fully loaded so that any
// record can be addressed by its 0-based position, which is what checkpoints refer to.
package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/croessner/batchpost/client/errors"
)

// Record maps a header name to the cell text of one row.
type Record map[string]string

// Get returns the value of column. Without an exact match the header is matched
// case-insensitively; when several headers differ only by case, the lowest in byte order wins.
func (r Record) Get(column string) (string, bool) {
	if value, ok := r[column]; ok {
		return value, true
	}

	match, found := "", false

	for key := range r {
		if strings.EqualFold(key, column) && (!found || key < match) {
			match, found = key, true
		}
	}

	if !found {
		return "", false
	}

	return r[match], true
}

// RecordSource is an ordered, randomly indexable sequence of records.
type RecordSource interface {
	Len() int
	Record(i int) (Record, error)
}

type Options struct {
	// Delimiter is comma, semicolon, tab or empty for auto detection (CSV only).
	Delimiter string

	// Sheet names the worksheet to read; empty selects the first one (XLSX only).
	Sheet string

	// Limit keeps only the first Limit records when positive.
	Limit int
}

// Open selects the reader by file extension.
func Open(path string, opts Options) (RecordSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".tsv":
		return OpenCSV(path, opts)
	case ".xlsx", ".xlsm":
		return OpenXLSX(path, opts)
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedSource, path)
	}
}

// memorySource is the loaded form shared by all readers.
type memorySource struct {
	records []Record
}

var _ RecordSource = (*memorySource)(nil)

// FromRecords wraps already loaded records.
func FromRecords(records []Record) RecordSource {
	return &memorySource{records: records}
}

func (s *memorySource) Len() int {
	return len(s.records)
}

func (s *memorySource) Record(i int) (Record, error) {
	if i < 0 || i >= len(s.records) {
		return nil, fmt.Errorf("%w: %d of %d", errors.ErrIndexOutOfRange, i, len(s.records))
	}

	return s.records[i], nil
}

// buildRecords turns raw rows into records. The first row is the header.
func buildRecords(rows [][]string, limit int) ([]Record, error) {
	if len(rows) == 0 {
		return nil, errors.ErrNoRecords
	}

	header := normalizeHeader(rows[0])

	var records []Record

	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}

		record := make(Record, len(header))

		for col, name := range header {
			if name == "" {
				continue
			}

			if _, dup := record[name]; dup {
				continue
			}

			value := ""
			if col < len(row) {
				value = strings.TrimSpace(row[col])
			}

			record[name] = value
		}

		records = append(records, record)

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, nil
}

func normalizeHeader(row []string) []string {
	header := make([]string, len(row))

	for i, name := range row {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}

		header[i] = strings.TrimSpace(name)
	}

	return header
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}

	return true
}
