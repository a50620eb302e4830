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

package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
)

// OpenCSV loads a delimited text file.
func OpenCSV(path string, opts Options) (RecordSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter(opts.Delimiter, data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	records, err := buildRecords(rows, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return FromRecords(records), nil
}

// delimiter resolves the configured name or picks the most frequent candidate in the first line.
func delimiter(name string, data []byte) rune {
	switch name {
	case "comma":
		return ','
	case "semicolon":
		return ';'
	case "tab":
		return '\t'
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() {
		return ','
	}

	line := scanner.Bytes()
	best, bestCount := ',', bytes.Count(line, []byte{','})

	for _, candidate := range []rune{';', '\t'} {
		if count := bytes.Count(line, []byte(string(candidate))); count > bestCount {
			best, bestCount = candidate, count
		}
	}

	return best
}
