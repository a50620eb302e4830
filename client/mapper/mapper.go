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

// Package mapper turns source records into the form payload of the remote service.
package mapper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/croessner/batchpost/client/config"
	"github.com/croessner/batchpost/client/errors"
	"github.com/croessner/batchpost/client/source"
)

// FieldMapper builds the payload for the record at index. An error means the record can not be
// submitted at all.
type FieldMapper interface {
	Map(ctx context.Context, index int, rec source.Record) (url.Values, error)
}

// Resolver translates a human readable reference value into the id the remote service expects.
// parent carries the already resolved id of the enclosing entity, if any.
type Resolver interface {
	Resolve(ctx context.Context, parent, name string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, parent, name string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, parent, name string) (string, error) {
	return f(ctx, parent, name)
}

// RuleMapper applies an ordered list of field rules.
type RuleMapper struct {
	rules     []config.FieldRule
	resolvers map[string]Resolver

	// Now is the reference time for age derivations.
	Now func() time.Time
}

var _ FieldMapper = (*RuleMapper)(nil)

// NewRuleMapper returns a mapper for rules. Every lookup named by a rule must have a resolver.
func NewRuleMapper(rules []config.FieldRule, resolvers map[string]Resolver) (*RuleMapper, error) {
	for _, rule := range rules {
		if rule.Lookup == "" {
			continue
		}

		if _, ok := resolvers[rule.Lookup]; !ok {
			return nil, fmt.Errorf("field %q: %w %s", rule.Name, errors.ErrUnknownLookup, rule.Lookup)
		}
	}

	return &RuleMapper{rules: rules, resolvers: resolvers, Now: time.Now}, nil
}

func (m *RuleMapper) Map(ctx context.Context, index int, rec source.Record) (url.Values, error) {
	out := make(url.Values, len(m.rules))

	for _, rule := range m.rules {
		value, err := m.field(ctx, rule, index, rec, out)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", rule.Name, err)
		}

		out.Set(rule.Name, value)
	}

	return out, nil
}

func (m *RuleMapper) field(ctx context.Context, rule config.FieldRule, index int, rec source.Record, done url.Values) (string, error) {
	value, err := m.raw(rule, index, rec)
	if err != nil {
		return "", err
	}

	value = strings.TrimSpace(value)

	if value == "" {
		value = rule.Default
	}

	if value != "" {
		if value, err = transform(rule, value); err != nil {
			return "", err
		}
	}

	if value != "" && rule.Lookup != "" {
		value, err = m.resolvers[rule.Lookup].Resolve(ctx, done.Get(rule.Parent), value)
		if err != nil {
			return "", err
		}
	}

	if value == "" && rule.Required {
		return "", errors.ErrMissingField
	}

	return value, nil
}

// raw produces the untransformed value of a rule.
func (m *RuleMapper) raw(rule config.FieldRule, index int, rec source.Record) (string, error) {
	switch {
	case rule.Value != "":
		return strings.NewReplacer(
			"{index}", strconv.Itoa(index),
			"{row}", strconv.Itoa(index+1),
		).Replace(rule.Value), nil
	case rule.Derive != "":
		return m.derive(rule, rec)
	}

	value, ok := rec.Get(rule.Column)
	if !ok && rule.Required && rule.Default == "" {
		return "", fmt.Errorf("%w: %s", errors.ErrUnknownColumn, rule.Column)
	}

	return value, nil
}

func (m *RuleMapper) derive(rule config.FieldRule, rec source.Record) (string, error) {
	switch rule.Derive {
	case config.DeriveBMI:
		weight, _ := rec.Get(rule.Weight)
		height, _ := rec.Get(rule.Height)

		if weight == "" || height == "" {
			return "", nil
		}

		return bmi(weight, height)
	case config.DeriveAgeYears, config.DeriveAgeMonths:
		birth, _ := rec.Get(rule.Column)
		if birth == "" {
			return "", nil
		}

		parsed, err := parseDate(birth)
		if err != nil {
			return "", err
		}

		years, months := age(parsed, m.Now())
		if rule.Derive == config.DeriveAgeMonths {
			return strconv.Itoa(months), nil
		}

		return strconv.Itoa(years), nil
	}

	return "", fmt.Errorf("unknown derivation %q", rule.Derive)
}

// transform applies map, case and format in that order.
func transform(rule config.FieldRule, value string) (string, error) {
	if len(rule.Map) > 0 {
		if mapped, ok := lookupFold(rule.Map, value); ok {
			value = mapped
		}
	}

	switch rule.Case {
	case "upper":
		value = strings.ToUpper(value)
	case "lower":
		value = strings.ToLower(value)
	}

	switch rule.Format {
	case "int":
		return formatInt(value)
	case "float1":
		number, err := parseNumber(value)
		if err != nil {
			return "", err
		}

		return formatFloat1(number), nil
	case "date":
		return formatDate(value)
	}

	return value, nil
}

func lookupFold(table map[string]string, key string) (string, bool) {
	if mapped, ok := table[key]; ok {
		return mapped, true
	}

	for candidate, mapped := range table {
		if strings.EqualFold(candidate, strings.TrimSpace(key)) {
			return mapped, true
		}
	}

	return "", false
}
