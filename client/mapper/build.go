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
	"github.com/croessner/batchpost/client/config"
)

// FromConfig builds the mapper for the global field rules of cfg. client is used for remote
// lookups.
func FromConfig(cfg *config.Config, client Doer) (*RuleMapper, error) {
	resolvers, err := Resolvers(cfg, client)
	if err != nil {
		return nil, err
	}

	return NewRuleMapper(cfg.Fields, resolvers)
}

// Resolvers builds the region and remote lookups of cfg. The result can be shared by several
// mappers so that all batches of a run use one region table and one lookup cache.
func Resolvers(cfg *config.Config, client Doer) (map[string]Resolver, error) {
	resolvers := make(map[string]Resolver, len(cfg.Lookups)+2)

	if cfg.Regions.File != "" {
		table, err := LoadRegionTable(cfg.Regions.File)
		if err != nil {
			return nil, err
		}

		resolvers[config.LookupDistrict] = table.Districts()
		resolvers[config.LookupSubdistrict] = table.Subdistricts()
	}

	for name, src := range cfg.Lookups {
		resolvers[name] = NewRemoteLookup(src, client)
	}

	return resolvers, nil
}
