package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	if logger := New("", "text"); logger == nil {
		t.Fatal("expected non-nil logger for default level")
	}

	debug := New("debug", "text")
	if !debug.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}

	errOnly := New("error", "json")
	if errOnly.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled at error level")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RequestID(ctx); id != "" {
		t.Errorf("expected empty request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("expected req-123, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-456")
	if id := RequestID(ctx); id != "req-456" {
		t.Errorf("expected latest request ID to win, got %q", id)
	}
}

func TestLoggerFromContext(t *testing.T) {
	ctx := context.Background()

	if FromContext(ctx) == nil {
		t.Fatal("expected default logger when none set")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	if FromContext(ctx) != custom {
		t.Error("expected custom logger from context")
	}

	if L(WithRequestID(ctx, "req-789")) == nil {
		t.Fatal("expected non-nil logger from L()")
	}
}
