package logger

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestShouldLog(t *testing.T) {
	tests := []struct {
		current string
		message string
		want    bool
	}{
		{LogLevelInfo, LogLevelError, true},
		{LogLevelInfo, LogLevelDebug, false},
		{LogLevelDebug, LogLevelDebug, true},
		{LogLevelError, LogLevelWarn, false},
		{"bogus", LogLevelTrace, true},
	}

	for _, tt := range tests {
		if got := shouldLog(tt.current, tt.message); got != tt.want {
			t.Errorf("shouldLog(%q, %q) = %v, want %v", tt.current, tt.message, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if level, ok := ParseLevel(" DEBUG "); !ok || level != LogLevelDebug {
		t.Errorf("Expected debug, got %q (ok=%v)", level, ok)
	}
	if level, ok := ParseLevel(""); !ok || level != LogLevelInfo {
		t.Errorf("Expected empty level to default to info, got %q", level)
	}
	if _, ok := ParseLevel("verbose"); ok {
		t.Error("Expected unknown level to be rejected")
	}
}

func TestMockLoggerConcurrentUse(t *testing.T) {
	mock := NewMockLogger()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			mock.LogWarn("unit %d failed", n)
		}(i)
	}
	wg.Wait()

	if len(mock.WarnMessages) != 20 {
		t.Errorf("Expected 20 warnings, got %d", len(mock.WarnMessages))
	}
	if !mock.Contains("unit 7 failed") {
		t.Error("Expected formatted message to be recorded")
	}

	mock.Reset()
	if mock.HasWarnMessage() {
		t.Error("Expected no warnings after reset")
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	r, err := openRotatingFile(path, 64, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatal(err)
		}
	}

	rotated, _ := filepath.Glob(path + ".*")
	if len(rotated) == 0 {
		t.Fatal("Expected the log to be rotated")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 64 {
		t.Errorf("Expected current log under max size, got %d bytes", info.Size())
	}
}

func TestRotatingFilePrunesOld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")
	old := path + ".20200101-000000.000"
	if err := os.WriteFile(old, []byte("old\n"), 0600); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	r, err := openRotatingFile(path, 8, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	for i := 0; i < 2; i++ {
		if _, err := r.Write([]byte("12345678\n")); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("Expected the expired rotated file to be removed")
	}
}

func TestLoggerLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l := NewLogger(&LoggingConfig{Level: "warn", File: path})
	t.Cleanup(func() {
		_ = l.Close()
		log.SetOutput(os.Stderr)
		GlobalLogging = nil
	})

	l.LogInfo("hidden")
	l.LogWarn("shown %d", 1)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("Expected info to be filtered at warn level")
	}
	if !strings.Contains(string(data), "⚠️ shown 1") {
		t.Errorf("Expected warning in log, got %q", data)
	}
}
