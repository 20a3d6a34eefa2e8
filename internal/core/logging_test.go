package core

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{})).With("run_id", "run-1")

	ctx := WithLogger(context.Background(), logger)
	LoggerFromContext(ctx).Info("processing")

	if !strings.Contains(buf.String(), "run_id=run-1") {
		t.Fatalf("expected correlation field in output, got %q", buf.String())
	}
}

func TestLoggerFromContextDefaults(t *testing.T) {
	if LoggerFromContext(context.Background()) == nil {
		t.Fatalf("expected the default logger for a bare context")
	}
	var missing context.Context
	if LoggerFromContext(missing) == nil {
		t.Fatalf("expected the default logger for a nil context")
	}
}

func TestRunIDContextRoundTrip(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	if got := RunIDFromContext(ctx); got != "run-1" {
		t.Fatalf("expected run-1, got %q", got)
	}
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty run id for a bare context, got %q", got)
	}
}
