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

// Package logger configures the process-wide structured logger.
//
// Log lines go to stderr; when a log file is configured they are
// additionally appended there. All packages log through the helpers in
// this package so the whole process shares one handler and level.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds the logging knobs read from the process configuration.
type Config struct {
	Level string // DEBUG, INFO, WARN or ERROR (case-insensitive)
	File  string // optional log file path; empty means stderr only
}

var (
	mu      sync.RWMutex
	slogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	logFile *os.File
)

// Init builds the shared handler from cfg. When cfg.File is set the file
// is opened in append mode and every line is written to both the file and
// stderr.
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	var f *os.File
	if cfg.File != "" {
		f, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	slogger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return nil
}

// Close releases the log file, if any. Safe to call when Init never ran.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with alternating key/value pairs.
func Debug(msg string, args ...any) { current().Debug(msg, args...) }

// Info logs at info level with alternating key/value pairs.
func Info(msg string, args ...any) { current().Info(msg, args...) }

// Warn logs at warn level with alternating key/value pairs.
func Warn(msg string, args ...any) { current().Warn(msg, args...) }

// Error logs at error level with alternating key/value pairs.
func Error(msg string, args ...any) { current().Error(msg, args...) }
