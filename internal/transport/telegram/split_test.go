package telegram

import (
	"strings"
	"testing"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "hard cut", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "newline preferred", in: "aaaa\nbbbbbb", limit: 8, want: []string{"aaaa", "bbbbbb"}},
		{name: "html tag kept whole", in: "abc<b>def</b>", limit: 5, parseMode: "HTML", want: []string{"abc", "<b>de", "f</b>"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tt.in, tt.limit, tt.parseMode)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("split = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		ok   bool
		name string
		args string
	}{
		{in: "/remind 2025-01-02 09:30 stand-up", ok: true, name: "remind", args: "2025-01-02 09:30 stand-up"},
		{in: "/Alarms@alarmd_bot", ok: true, name: "alarms"},
		{in: "  /cancel   repeating ", ok: true, name: "cancel", args: "repeating"},
		{in: "remind me", ok: false},
		{in: "/", ok: false},
	}
	for _, tt := range tests {
		cmd, ok := ParseCommand(tt.in)
		if ok != tt.ok {
			t.Fatalf("ParseCommand(%q) ok = %v", tt.in, ok)
		}
		if ok && (cmd.Name != tt.name || cmd.Args != tt.args) {
			t.Fatalf("ParseCommand(%q) = %+v", tt.in, cmd)
		}
	}
}
