package cctesting

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

// NewLogger returns a logger for tests. Output is suppressed below error
// unless DEBUG=1 (info) or DEBUG=2 (debug) is set.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelFromEnv()}))
}

// NewTestLogger routes log output through t.Log so it is attached to the
// test that produced it.
func NewTestLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(tbWriter{t}, &slog.HandlerOptions{Level: levelFromEnv()}))
}

func levelFromEnv() slog.Level {
	switch os.Getenv("DEBUG") {
	case "2":
		return slog.LevelDebug
	case "1":
		return slog.LevelInfo
	default:
		return slog.LevelError
	}
}

type tbWriter struct {
	t testing.TB
}

func (w tbWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
