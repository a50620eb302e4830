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

package mapper

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/croessner/batchpost/client/errors"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""

		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*f = flexString(text)

		return nil
	}

	var number jsoniter.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}

	*f = flexString(number.String())

	return nil
}

// regionEntry is either a district ({value,text}) or a subdistrict with its district.
type regionEntry struct {
	Value         flexString `json:"value"`
	Text          string     `json:"text"`
	DistrictID    flexString `json:"kecamatan_id"`
	DistrictName  string     `json:"kecamatan_nama"`
	SubdistrictID flexString `json:"kelurahan_id"`
	Subdistrict   string     `json:"kelurahan_nama"`
}

// RegionTable maps district and subdistrict names to the ids of the remote service.
type RegionTable struct {
	districts map[string]string

	// subdistricts is keyed by district id, then by normalized name.
	subdistricts map[string]map[string]string

	// byName holds every id seen for a subdistrict name across districts.
	byName map[string][]string
}

// LoadRegionTable reads a JSON array of region entries.
func LoadRegionTable(path string) (*RegionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []regionEntry

	if err = json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	table := &RegionTable{
		districts:    make(map[string]string),
		subdistricts: make(map[string]map[string]string),
		byName:       make(map[string][]string),
	}

	for _, entry := range entries {
		table.add(entry)
	}

	return table, nil
}

func (t *RegionTable) add(entry regionEntry) {
	if entry.Value != "" && entry.Text != "" {
		t.districts[normalizeName(entry.Text)] = string(entry.Value)

		return
	}

	if entry.DistrictID == "" {
		return
	}

	districtID := string(entry.DistrictID)

	if entry.DistrictName != "" {
		t.districts[normalizeName(entry.DistrictName)] = districtID
	}

	if entry.SubdistrictID == "" || entry.Subdistrict == "" {
		return
	}

	name := normalizeName(entry.Subdistrict)

	if t.subdistricts[districtID] == nil {
		t.subdistricts[districtID] = make(map[string]string)
	}

	t.subdistricts[districtID][name] = string(entry.SubdistrictID)
	t.byName[name] = append(t.byName[name], string(entry.SubdistrictID))
}

// Districts resolves district names. The parent is ignored.
func (t *RegionTable) Districts() Resolver {
	return ResolverFunc(func(_ context.Context, _, name string) (string, error) {
		if id, ok := t.districts[normalizeName(name)]; ok {
			return id, nil
		}

		if isID(name) {
			return name, nil
		}

		return "", fmt.Errorf("%w: district %q", errors.ErrLookupMiss, name)
	})
}

// Subdistricts resolves subdistrict names within the parent district. Without a parent the name
// must be unique across all districts.
func (t *RegionTable) Subdistricts() Resolver {
	return ResolverFunc(func(_ context.Context, parent, name string) (string, error) {
		key := normalizeName(name)

		if parent != "" {
			if id, ok := t.subdistricts[parent][key]; ok {
				return id, nil
			}

			return "", fmt.Errorf("%w: subdistrict %q in district %s", errors.ErrLookupMiss, name, parent)
		}

		switch ids := t.byName[key]; len(ids) {
		case 1:
			return ids[0], nil
		case 0:
			return "", fmt.Errorf("%w: subdistrict %q", errors.ErrLookupMiss, name)
		default:
			return "", fmt.Errorf("%w: subdistrict %q is ambiguous without a district", errors.ErrLookupMiss, name)
		}
	})
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// isID lets already numeric references pass through unchanged.
func isID(value string) bool {
	_, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)

	return err == nil
}
