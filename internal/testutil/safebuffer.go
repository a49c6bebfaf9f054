// Package testutil holds fixtures shared by package and integration tests:
// a thread-safe log buffer, throwaway projects and shell stand-ins for the
// package installer, the test suite and the application server.
package testutil

import (
	"bytes"
	"log/slog"
	"os"
	"sync"
	"testing"
)

// LogsEnvVar, when set to "true", dumps captured logs at the end of a test.
const LogsEnvVar = "STAGEGATE_TEST_LOGS"

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// NewLogger returns a debug-level text logger writing into a SafeBuffer. The
// buffer is logged when the test ends and LogsEnvVar is "true".
func NewLogger(t *testing.T) (*slog.Logger, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() { DumpLogs(t, buf) })
	return logger, buf
}

// DumpLogs logs buf when LogsEnvVar is "true".
func DumpLogs(t *testing.T, buf *SafeBuffer) {
	t.Helper()
	if os.Getenv(LogsEnvVar) == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
	}
}
