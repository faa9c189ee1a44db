// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package logger provides the structured logger used across the client
// libraries. It is a thin adapter over log/slog so applications plug in
// whatever slog handler they already run.
package logger

import (
	"context"
	"fmt"
	"log/slog"
)

// Level names a log severity.
type Level string

const (
	Info  Level = "info"
	Err   Level = "error"
	Warn  Level = "warn"
	Debug Level = "debug"
)

// Logger wraps a *slog.Logger.
type Logger struct {
	logging *slog.Logger
}

// New creates a new logger instance. slogLogger must not be nil.
func New(slogLogger *slog.Logger) (*Logger, error) {
	if slogLogger == nil {
		return nil, fmt.Errorf("logger: expected a *slog.Logger, got nil")
	}
	return &Logger{logging: slogLogger}, nil
}

// Log logs message at level with optional slog key/value fields. A nil
// Logger discards everything.
func (a *Logger) Log(level Level, message string, fields ...any) {
	if a == nil || a.logging == nil {
		return
	}
	var slogLevel slog.Level
	switch level {
	case Info:
		slogLevel = slog.LevelInfo
	case Err:
		slogLevel = slog.LevelError
	case Warn:
		slogLevel = slog.LevelWarn
	case Debug:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}
	a.logging.Log(context.Background(), slogLevel, message, fields...)
}
