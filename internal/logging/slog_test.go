package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	l := slog.New(h)
	return NewSlogLogger(l), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "claimed batch", "size", 3)
	log.Info(ctx, "drain finished", "synced", 2)
	log.Warn(ctx, "operation failed", "retries", 1)
	log.Error(ctx, "sync tick failed", "error", "boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		`level=DEBUG msg="claimed batch" size=3`,
		`level=INFO msg="drain finished" synced=2`,
		`level=WARN msg="operation failed" retries=1`,
		`level=ERROR msg="sync tick failed" error=boom`,
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got:\n%s", len(want), buf.String())
	}
	for i, w := range want {
		if !strings.Contains(lines[i], w) {
			t.Fatalf("line %d = %q, want it to contain %q", i, lines[i], w)
		}
	}
}

func TestSlogLogger_WithKeepsModule(t *testing.T) {
	log, buf := newTestLogger(t)

	scoped := log.With("module", "sync_queue")
	scoped.Info(context.TODO(), "tick", "pending", 4)
	log.Info(context.TODO(), "unscoped")

	out := buf.String()
	for _, s := range []string{"module=sync_queue", "pending=4"} {
		if !strings.Contains(out, s) {
			t.Fatalf("expected %q in output, got:\n%s", s, out)
		}
	}
	if strings.Count(out, "module=") != 1 {
		t.Fatalf("With must not change the parent logger, got:\n%s", out)
	}
}

func TestNew_JSONFormatAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)
	ctx := context.Background()

	log.Info(ctx, "hidden")
	log.Warn(ctx, "shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info must be filtered at warn level, got:\n%s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("expected JSON record, got:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNop_DiscardsAll(t *testing.T) {
	log := Nop()
	log.Error(context.Background(), "nothing")
	log.With("a", 1).Info(context.Background(), "nothing")
}
