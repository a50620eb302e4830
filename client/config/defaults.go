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

	"github.com/croessner/batchpost/client/definitions"

	"github.com/spf13/viper"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// defaults lists every known key. Registering all keys lets AutomaticEnv resolve nested
// BATCHPOST_* variables during Unmarshal.
var defaults = map[string]any{
	"login_url":  "",
	"target_url": "",
	"username":   "",
	"password":   "",
	"instance":   definitions.InstanceName,
	"mode":       definitions.ModeSubmit,

	"session.username_field":        "username",
	"session.password_field":        "password",
	"session.request_timeout":       15 * time.Second,
	"session.tls_verify":            true,
	"session.user_agent":            defaultUserAgent,
	"session.tracing":               false,
	"session.login_accept_status":   []int{200, 302},
	"session.accept_status":         []int{200, 201},
	"session.login_path_indicators": []string{"login"},
	"session.login_page_markers":    []string{"login"},
	"session.authenticated_markers": []string{"selamat datang di sistem informasi tuberkulosis", "logout"},
	"session.expired_phrases":       [][]string{{"session expired"}, {"sesi", "expired"}},
	"session.reject_markers":        []string{},
	"session.relogin_delay":         time.Second,
	"session.max_body_bytes":        int64(1 << 20),

	"rate.inter_delay_min": 200 * time.Millisecond,
	"rate.inter_delay_max": 700 * time.Millisecond,
	"rate.burst_size":      1000,
	"rate.burst_pause":     15 * time.Second,
	"rate.network_retries": 3,
	"rate.backoff_initial": time.Second,
	"rate.backoff_max":     30 * time.Second,

	"checkpoint.backend":        definitions.BackendFile,
	"checkpoint.path":           "",
	"checkpoint.redis.address":  "127.0.0.1:6379",
	"checkpoint.redis.username": "",
	"checkpoint.redis.password": "",
	"checkpoint.redis.db":       0,
	"checkpoint.redis.key":      "batchpost:checkpoints",

	"log.level": "info",
	"log.json":  false,
	"log.color": "auto",

	"metrics.address": "",
	"regions.file":    "",
	"probe.count":     10,
	"probe.counts":    []int{},
	"probe.relogin":   true,
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
