// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package logger

import (
	"log/slog"
	"os"
	"sync/atomic"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	level  atomic.Int32
	logger atomic.Pointer[slog.Logger]
)

func init() {
	level.Store(int32(INFO))
	logger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

// SetLevel sets the minimum level emitted by the package-level helpers.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// SetOutput replaces the underlying handler, mainly for tests.
func SetOutput(l *slog.Logger) {
	logger.Store(l)
}

func enabled(l Level) bool {
	return int32(l) >= level.Load()
}

func attrs(component string, fields map[string]interface{}) []any {
	out := make([]any, 0, 2+2*len(fields))
	out = append(out, "component", component)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

func DebugC(component, msg string) {
	DebugCF(component, msg, nil)
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	if !enabled(DEBUG) {
		return
	}
	logger.Load().Debug(msg, attrs(component, fields)...)
}

func InfoC(component, msg string) {
	InfoCF(component, msg, nil)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	if !enabled(INFO) {
		return
	}
	logger.Load().Info(msg, attrs(component, fields)...)
}

func WarnC(component, msg string) {
	WarnCF(component, msg, nil)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	if !enabled(WARN) {
		return
	}
	logger.Load().Warn(msg, attrs(component, fields)...)
}

func ErrorC(component, msg string) {
	ErrorCF(component, msg, nil)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	if !enabled(ERROR) {
		return
	}
	logger.Load().Error(msg, attrs(component, fields)...)
}
