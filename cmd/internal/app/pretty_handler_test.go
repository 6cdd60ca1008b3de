package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.With("component", "chat").Info("chat.message.sent",
		"conversation_id", "c1",
		"content", "Is this still available?",
		"duration_ms", int64(12),
	)

	line := buf.String()
	for _, want := range []string{
		"INFO",
		"chat.message.sent",
		"component=chat",
		"conversation_id=c1",
		`content="Is this still available?"`,
		"duration=12ms",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("uncolored handler must not emit ANSI codes: %q", line)
	}
}

func TestPrettyHandler_ColoredLineStripsToPlain(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Warn("http.request", "method", "post", "status", 404)

	line := buf.String()
	if !strings.Contains(line, ansiYellow) {
		t.Fatalf("expected colored output, got %q", line)
	}
	plain := stripANSI(line)
	if !strings.Contains(plain, "method=POST") || !strings.Contains(plain, "status=404") {
		t.Fatalf("unexpected plain line %q", plain)
	}
}

func TestPrettyHandler_LevelFilterAndGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	log := slog.New(h).WithGroup("ws")

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}

	log.Warn("ws.ping.fail", "failures", 2)
	if !strings.Contains(buf.String(), "ws.failures=2") {
		t.Fatalf("expected grouped key, got %q", buf.String())
	}
}
