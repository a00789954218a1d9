package logx

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alarmd/internal/transport"
)

type chanSender struct{ got chan string }

func (s chanSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	s.got <- text
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (chanSender) DeleteMessage(context.Context, transport.MessageRef) error { return nil }

func TestFormatRecord(t *testing.T) {
	line := `{"level":"warn","time":"x","message":"alarm fired","slot":1012}`
	got := formatRecord([]byte(line))
	if !strings.HasPrefix(got, "[WARN] alarm fired") || !strings.Contains(got, "- slot=1012") {
		t.Fatalf("formatRecord = %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time leaked into chat text: %q", got)
	}
	if got := formatRecord([]byte("not json\n")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghijklmnop", 12, "abcdefghi..."},
		{"abcdef", 4, "abcd"},
		{"abc", 0, "abc"},
	}
	for _, c := range cases {
		if got := truncate(c.in, c.n); got != c.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel(" warning ", zerolog.InfoLevel) != zerolog.WarnLevel {
		t.Fatal("warning not parsed")
	}
	if parseLevel("bogus", zerolog.ErrorLevel) != zerolog.ErrorLevel {
		t.Fatal("default not used")
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop logger is configured")
	}
	if Nop().Enabled(LevelError) {
		t.Fatal("Nop logger should be disabled")
	}
}

func TestFileOutputAndWith(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarmd.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}, nil)
	log.With(String("component", "timer")).Debug("armed", Int("slot", 1013))
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(b))), &rec); err != nil {
		t.Fatalf("log line is not json: %q", b)
	}
	if rec["message"] != "armed" || rec["component"] != "timer" || rec["slot"] != float64(1013) {
		t.Fatalf("record = %v", rec)
	}
	if c, _ := rec["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %v", rec["caller"])
	}
}

func TestChatForwardingRespectsMinLevel(t *testing.T) {
	sender := chanSender{got: make(chan string, 4)}
	path := filepath.Join(t.TempDir(), "alarmd.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
		Chat:  ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, sender)
	defer svc.Close()
	svc.SetChatTarget(42, 0)

	log.Info("quiet")
	log.Warn("delivery failed", String("sink", "chat"))

	select {
	case text := <-sender.got:
		if !strings.HasPrefix(text, "[WARN] delivery failed") {
			t.Fatalf("chat text = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("warning was not forwarded")
	}
	select {
	case text := <-sender.got:
		t.Fatalf("unexpected extra chat message %q", text)
	case <-time.After(50 * time.Millisecond):
	}
}
