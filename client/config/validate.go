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

package config

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/croessner/batchpost/client/definitions"
	"github.com/croessner/batchpost/client/errors"
	"github.com/croessner/batchpost/client/log"

	"github.com/go-playground/validator/v10"
)

// Region lookups served by the local reference table.
const (
	LookupDistrict    = "region.kecamatan"
	LookupSubdistrict = "region.kelurahan"
)

// Derivations computed from other columns.
const (
	DeriveBMI       = "bmi"
	DeriveAgeYears  = "age_years"
	DeriveAgeMonths = "age_months"
)

// Validate checks field constraints and the rules that span several sections.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(cfg); err != nil {
		return describeValidation(err)
	}

	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}

	switch cfg.Mode {
	case definitions.ModeProbe:
		if cfg.TargetURL == "" {
			return fmt.Errorf("%w: probe mode needs target_url", errors.ErrNoTargetURL)
		}
	default:
		if len(cfg.Batches) == 0 {
			return errors.ErrNoBatches
		}

		seen := make(map[string]struct{}, len(cfg.Batches))

		for _, batch := range cfg.Batches {
			if cfg.BatchTarget(batch) == "" {
				return fmt.Errorf("%w: %s", errors.ErrNoTargetURL, batch.Name)
			}

			if _, dup := seen[batch.Name]; dup {
				return fmt.Errorf("duplicate batch name %q", batch.Name)
			}

			seen[batch.Name] = struct{}{}

			if len(batch.Fields) > 0 {
				if err := validateFields(cfg, batch.Fields); err != nil {
					return fmt.Errorf("batch %s: %w", batch.Name, err)
				}
			}
		}
	}

	if cfg.Checkpoint.Backend == definitions.BackendRedis && cfg.Checkpoint.Redis.Address == "" {
		return fmt.Errorf("%w: redis backend needs checkpoint.redis.address", errors.ErrUnknownBackend)
	}

	return validateFields(cfg, cfg.Fields)
}

// validateFields checks one rule set. Lookups are resolved against the global sections of cfg.
func validateFields(cfg *Config, rules []FieldRule) error {
	names := make(map[string]struct{}, len(rules))

	for _, rule := range rules {
		if _, dup := names[rule.Name]; dup {
			return fmt.Errorf("field %q: defined twice", rule.Name)
		}

		names[rule.Name] = struct{}{}

		if rule.Value == "" && rule.Column == "" && rule.Derive == "" && rule.Default == "" {
			return fmt.Errorf("field %q: needs one of value, column, derive or default", rule.Name)
		}

		switch rule.Derive {
		case DeriveBMI:
			if rule.Weight == "" || rule.Height == "" {
				return fmt.Errorf("field %q: derive %s needs weight and height columns", rule.Name, rule.Derive)
			}
		case DeriveAgeYears, DeriveAgeMonths:
			if rule.Column == "" {
				return fmt.Errorf("field %q: derive %s needs the birth date column", rule.Name, rule.Derive)
			}
		}

		if rule.Lookup == "" {
			continue
		}

		switch rule.Lookup {
		case LookupDistrict, LookupSubdistrict:
			if cfg.Regions.File == "" {
				return fmt.Errorf("field %q: %w %s without regions.file", rule.Name, errors.ErrUnknownLookup, rule.Lookup)
			}
		default:
			if _, ok := cfg.Lookups[rule.Lookup]; !ok {
				return fmt.Errorf("field %q: %w %s", rule.Name, errors.ErrUnknownLookup, rule.Lookup)
			}
		}
	}

	for _, rule := range rules {
		if rule.Parent == "" {
			continue
		}

		if _, ok := names[rule.Parent]; !ok {
			return fmt.Errorf("field %q: parent field %q is not defined", rule.Name, rule.Parent)
		}
	}

	return nil
}

func describeValidation(err error) error {
	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))

	for _, fieldErr := range validationErrors {
		msg := fmt.Sprintf("%s: failed %q", fieldErr.Namespace(), fieldErr.Tag())
		if fieldErr.Param() != "" {
			msg += " (" + fieldErr.Param() + ")"
		}

		messages = append(messages, msg)
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}
