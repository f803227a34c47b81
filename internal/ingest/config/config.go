// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the process configuration snapshot.
//
// Sources, in order of precedence:
//  1. SWGTS_* environment variables
//  2. The overlay config file named by CONFIG_FILE (if it exists)
//  3. Built-in defaults
//
// The snapshot is immutable after Load; handlers receive it by value or
// behind the owning component, never through globals.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Snapshot is the complete, validated process configuration.
type Snapshot struct {
	// MaximumPendingBytes is the per-session upload budget in bytes.
	MaximumPendingBytes int64 `mapstructure:"maximum_pending_bytes" validate:"required,gt=0"`

	// ContextTimeout is the session key TTL in seconds.
	ContextTimeout int64 `mapstructure:"context_timeout" validate:"required,gt=0"`

	// HandsOff disables file output on close; session state is still deleted.
	HandsOff bool `mapstructure:"hands_off"`

	// UploadDirectory is the root under which per-session output
	// directories are created on close.
	UploadDirectory string `mapstructure:"upload_directory" validate:"required"`

	// RequestSizeFactor is the number of parallel dataRequest messages
	// emitted when a session is created over the message transport.
	RequestSizeFactor int64 `mapstructure:"request_size_factor" validate:"required,gt=0"`

	// RequestSize is the byte count solicited by each dataRequest.
	RequestSize int64 `mapstructure:"request_size" validate:"required,gt=0"`

	// RedisServer is the host[:port] of the state store.
	RedisServer string `mapstructure:"redis_server" validate:"required"`

	// HTTPAddr is the listen address of the ingest API.
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`

	// MetricsAddr optionally exposes Prometheus /metrics on its own
	// listener. Empty disables the metrics server.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// LogFile is an optional file the logger tees into.
	LogFile string `mapstructure:"log_file"`

	// LogLevel is the minimum level logged (DEBUG, INFO, WARN, ERROR).
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// ConfigFile is the overlay config path probed at load time.
	ConfigFile string `mapstructure:"config_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("maximum_pending_bytes", 8*1024*1024)
	v.SetDefault("context_timeout", 300)
	v.SetDefault("hands_off", false)
	v.SetDefault("upload_directory", "/tmp/swgts-uploads")
	v.SetDefault("request_size_factor", 4)
	v.SetDefault("request_size", 1024*1024)
	v.SetDefault("redis_server", "127.0.0.1:6379")
	v.SetDefault("http_addr", ":5000")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("config_file", "")
}

// Load builds the snapshot. overlayPath overrides the CONFIG_FILE default
// when non-empty; a missing overlay file is not an error, matching the
// "use it if it exists" contract.
func Load(overlayPath string) (Snapshot, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SWGTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if overlayPath == "" {
		overlayPath = v.GetString("config_file")
	}
	if overlayPath != "" {
		if _, err := os.Stat(overlayPath); err == nil {
			v.SetConfigFile(overlayPath)
			if err := v.ReadInConfig(); err != nil {
				return Snapshot{}, fmt.Errorf("read config file %s: %w", overlayPath, err)
			}
		}
	}

	var snap Snapshot
	if err := v.Unmarshal(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal config: %w", err)
	}
	snap.ConfigFile = overlayPath

	if err := validator.New().Struct(snap); err != nil {
		return Snapshot{}, fmt.Errorf("invalid config: %w", err)
	}
	return snap, nil
}

// LogFields renders the snapshot as alternating key/value pairs for one
// startup log line per setting.
func (s Snapshot) LogFields() [][2]string {
	return [][2]string{
		{"MAXIMUM_PENDING_BYTES", fmt.Sprintf("%d", s.MaximumPendingBytes)},
		{"CONTEXT_TIMEOUT", fmt.Sprintf("%d", s.ContextTimeout)},
		{"HANDS_OFF", fmt.Sprintf("%t", s.HandsOff)},
		{"UPLOAD_DIRECTORY", s.UploadDirectory},
		{"REQUEST_SIZE_FACTOR", fmt.Sprintf("%d", s.RequestSizeFactor)},
		{"REQUEST_SIZE", fmt.Sprintf("%d", s.RequestSize)},
		{"REDIS_SERVER", s.RedisServer},
		{"HTTP_ADDR", s.HTTPAddr},
		{"METRICS_ADDR", s.MetricsAddr},
		{"LOG_FILE", s.LogFile},
		{"LOG_LEVEL", s.LogLevel},
		{"CONFIG_FILE", s.ConfigFile},
	}
}
