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
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	LoginURL  string `mapstructure:"login_url" validate:"required,url"`
	TargetURL string `mapstructure:"target_url" validate:"omitempty,url"`
	Username  string `mapstructure:"username" validate:"required"`
	Password  string `mapstructure:"password" validate:"required"`
	Instance  string `mapstructure:"instance"`
	Mode      string `mapstructure:"mode" validate:"oneof=submit probe"`

	Session    SessionSection          `mapstructure:"session"`
	Rate       RateSection             `mapstructure:"rate"`
	Checkpoint CheckpointSection       `mapstructure:"checkpoint"`
	Log        LogSection              `mapstructure:"log"`
	Metrics    MetricsSection          `mapstructure:"metrics"`
	Regions    RegionsSection          `mapstructure:"regions"`
	Probe      ProbeSection            `mapstructure:"probe"`
	Batches    []BatchSection          `mapstructure:"batches" validate:"omitempty,dive"`
	Fields     []FieldRule             `mapstructure:"fields" validate:"omitempty,dive"`
	Lookups    map[string]LookupSource `mapstructure:"lookups" validate:"omitempty,dive"`

	ShowVersion bool `mapstructure:"-"`
}

// SessionSection controls login, classification and the HTTP transport.
type SessionSection struct {
	UsernameField        string        `mapstructure:"username_field" validate:"required"`
	PasswordField        string        `mapstructure:"password_field" validate:"required"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	TLSVerify            bool          `mapstructure:"tls_verify"`
	UserAgent            string        `mapstructure:"user_agent"`
	Tracing              bool          `mapstructure:"tracing"`
	LoginAcceptStatus    []int         `mapstructure:"login_accept_status" validate:"min=1,dive,gte=100,lte=599"`
	SubmitAcceptStatus   []int         `mapstructure:"accept_status" validate:"min=1,dive,gte=100,lte=599"`
	LoginPathIndicators  []string      `mapstructure:"login_path_indicators"`
	LoginPageMarkers     []string      `mapstructure:"login_page_markers"`
	AuthenticatedMarkers []string      `mapstructure:"authenticated_markers"`
	ExpiredPhrases       [][]string    `mapstructure:"expired_phrases"`
	RejectMarkers        []string      `mapstructure:"reject_markers"`
	ReloginDelay         time.Duration `mapstructure:"relogin_delay" validate:"gte=0"`
	MaxBodyBytes         int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
}

// RateSection holds the governor bounds.
type RateSection struct {
	InterDelayMin  time.Duration `mapstructure:"inter_delay_min" validate:"gte=0"`
	InterDelayMax  time.Duration `mapstructure:"inter_delay_max" validate:"gtefield=InterDelayMin"`
	BurstSize      int           `mapstructure:"burst_size" validate:"gte=0"`
	BurstPause     time.Duration `mapstructure:"burst_pause" validate:"gte=0"`
	NetworkRetries int           `mapstructure:"network_retries" validate:"gte=0"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial" validate:"gt=0"`
	BackoffMax     time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffInitial"`
}

// CheckpointSection selects and configures the checkpoint backend.
type CheckpointSection struct {
	Backend string       `mapstructure:"backend" validate:"oneof=file sqlite redis"`
	Path    string       `mapstructure:"path"`
	Redis   RedisSection `mapstructure:"redis"`
}

type RedisSection struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Key      string `mapstructure:"key"`
}

type LogSection struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	Color string `mapstructure:"color" validate:"oneof=auto always never"`
}

type MetricsSection struct {
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
}

// RegionsSection points at the region reference table.
type RegionsSection struct {
	File string `mapstructure:"file"`
}

// ProbeSection controls the session lifetime probe. Counts runs one probe per entry, each with
// a fresh session; an empty list runs a single probe of Count requests.
type ProbeSection struct {
	Count   int   `mapstructure:"count" validate:"gte=1"`
	Counts  []int `mapstructure:"counts" validate:"omitempty,dive,gte=1"`
	Relogin bool  `mapstructure:"relogin"`
}

// RunCounts returns the request count of every probe run.
func (p ProbeSection) RunCounts() []int {
	if len(p.Counts) > 0 {
		return p.Counts
	}

	return []int{p.Count}
}

// BatchSection is one independently checkpointed unit of work.
type BatchSection struct {
	Name      string `mapstructure:"name" validate:"required"`
	Path      string `mapstructure:"path" validate:"required"`
	Sheet     string `mapstructure:"sheet"`
	TargetURL string `mapstructure:"target_url" validate:"omitempty,url"`
	Limit     int    `mapstructure:"limit" validate:"gte=0"`
	Delimiter string `mapstructure:"delimiter" validate:"omitempty,oneof=comma semicolon tab"`

	// Fields replaces the global field rules for this batch when set.
	Fields []FieldRule `mapstructure:"fields" validate:"omitempty,dive"`
}

// FieldRule describes how one remote form field is produced from a record. Rules are a list
// because remote field names are case sensitive and map keys are folded by the loader.
type FieldRule struct {
	Name     string            `mapstructure:"name" validate:"required"`
	Value    string            `mapstructure:"value"`
	Column   string            `mapstructure:"column"`
	Default  string            `mapstructure:"default"`
	Required bool              `mapstructure:"required"`
	Map      map[string]string `mapstructure:"map"`
	Case     string            `mapstructure:"case" validate:"omitempty,oneof=upper lower"`
	Format   string            `mapstructure:"format" validate:"omitempty,oneof=int float1 date"`
	Lookup   string            `mapstructure:"lookup"`
	Parent   string            `mapstructure:"parent"`
	Derive   string            `mapstructure:"derive" validate:"omitempty,oneof=bmi age_years age_months"`
	Weight   string            `mapstructure:"weight"`
	Height   string            `mapstructure:"height"`
}

// LookupSource is a remote LookupData style reference endpoint.
type LookupSource struct {
	URL         string        `mapstructure:"url" validate:"required,url"`
	ParentField string        `mapstructure:"parent_field" validate:"required"`
	ValueField  string        `mapstructure:"value_field"`
	TextField   string        `mapstructure:"text_field"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

// BatchFields returns the field rules used by batch b.
func (c *Config) BatchFields(b BatchSection) []FieldRule {
	if len(b.Fields) > 0 {
		return b.Fields
	}

	return c.Fields
}

// BatchTarget returns the endpoint used by batch b.
func (c *Config) BatchTarget(b BatchSection) string {
	if b.TargetURL != "" {
		return b.TargetURL
	}

	return c.TargetURL
}
