package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(NewHandler(&buf, slog.LevelInfo, true))

	Component("reconcile").Info("flushed", "rows", 3)

	out := buf.String()
	if !strings.Contains(out, `"component":"reconcile"`) {
		t.Errorf("missing component attribute: %s", out)
	}
	if !strings.Contains(out, `"rows":3`) {
		t.Errorf("missing rows attribute: %s", out)
	}
}

func TestTextHandlerNoColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(NewHandler(&buf, slog.LevelInfo, false))

	Info("hello", "k", "v")

	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Errorf("expected no ANSI escapes when writing to a buffer: %q", out)
	}
	if !strings.Contains(out, "hello") || !strings.Contains(out, "k=v") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(NewHandler(&buf, slog.LevelDebug, true))

	ctx := ContextWithChannel(context.Background(), "py_x")
	ctx = ContextWithClientID(ctx, "client-1")
	WithContext(ctx).Debug("update")

	out := buf.String()
	if !strings.Contains(out, `"channel":"py_x"`) || !strings.Contains(out, `"client_id":"client-1"`) {
		t.Errorf("missing context attributes: %s", out)
	}
}
