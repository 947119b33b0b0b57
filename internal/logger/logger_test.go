package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileOutputWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.log")
	l, err := New(Options{Level: "info", Output: "file", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("task created")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"message":"task created"`) || !strings.Contains(line, `"level":"INFO"`) {
		t.Fatalf("unexpected log line %q", line)
	}
}

func TestFileOutputNeedsPath(t *testing.T) {
	if _, err := New(Options{Output: "file"}); err == nil {
		t.Fatal("expected error for empty file path")
	}
}
