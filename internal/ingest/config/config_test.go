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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	snap, err := Load("")
	require.NoError(t, err)

	require.Equal(t, int64(8*1024*1024), snap.MaximumPendingBytes)
	require.Equal(t, int64(300), snap.ContextTimeout)
	require.False(t, snap.HandsOff)
	require.Equal(t, int64(4), snap.RequestSizeFactor)
	require.Equal(t, int64(1024*1024), snap.RequestSize)
	require.Equal(t, "127.0.0.1:6379", snap.RedisServer)
	require.Equal(t, ":5000", snap.HTTPAddr)
	require.Equal(t, "INFO", snap.LogLevel)
}

func TestLoad_OverlayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swgts.yaml")
	overlay := []byte("maximum_pending_bytes: 1024\nhands_off: true\nredis_server: redis.internal:6380\n")
	require.NoError(t, os.WriteFile(path, overlay, 0o644))

	snap, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, int64(1024), snap.MaximumPendingBytes)
	require.True(t, snap.HandsOff)
	require.Equal(t, "redis.internal:6380", snap.RedisServer)
	// Untouched settings keep their defaults.
	require.Equal(t, int64(300), snap.ContextTimeout)
	require.Equal(t, path, snap.ConfigFile)
}

func TestLoad_MissingOverlayIsNotAnError(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, int64(8*1024*1024), snap.MaximumPendingBytes)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("SWGTS_MAXIMUM_PENDING_BYTES", "2048")
	t.Setenv("SWGTS_LOG_LEVEL", "DEBUG")

	snap, err := Load("")
	require.NoError(t, err)
	require.Equal(t, int64(2048), snap.MaximumPendingBytes)
	require.Equal(t, "DEBUG", snap.LogLevel)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swgts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maximum_pending_bytes: -5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("SWGTS_LOG_LEVEL", "verbose")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_MalformedOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swgts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
