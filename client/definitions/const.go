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

// Package definitions holds constants shared by all batchpost packages.
package definitions

// Version of the program.
const Version = "1.0.0"

// InstanceName is the default instance name used in log lines.
const InstanceName = "batchpost"

// Log keys.
const (
	LogKeyMsg        = "msg"
	LogKeyError      = "error"
	LogKeyInstance   = "instance"
	LogKeyRunID      = "run_id"
	LogKeyBatch      = "batch"
	LogKeyIndex      = "index"
	LogKeyTotal      = "total"
	LogKeyState      = "state"
	LogKeyStatus     = "status"
	LogKeyResult     = "result"
	LogKeyReason     = "reason"
	LogKeyAttempt    = "attempt"
	LogKeyDelay      = "delay"
	LogKeyEndpoint   = "endpoint"
	LogKeySession    = "session"
	LogKeyCheckpoint = "checkpoint"
	LogKeyBackend    = "backend"
	LogKeyDetail     = "detail"
	LogKeyElapsed    = "elapsed"
)

// Log levels.
const (
	LogLevelNone = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// Checkpoint backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Run modes.
const (
	ModeSubmit = "submit"
	ModeProbe  = "probe"
)

// Exit codes reported through the fx shutdowner.
const (
	ExitOK     = 0
	ExitConfig = 1
	ExitHalted = 2
)
