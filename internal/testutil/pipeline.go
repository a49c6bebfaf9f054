package testutil

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
)

// DefinitionFileName is the file WriteDefinition creates.
const DefinitionFileName = "stagegate.hcl"

// ShellPipeline renders a pipeline definition equivalent to the built-in one
// but driven by the scripts in toolsDir instead of pip, pytest and uvicorn.
func ShellPipeline(toolsDir string, port int) string {
	return fmt.Sprintf(`
layer "base" {
  install {
    command       = ["sh", "%[1]s/install.sh", "{requirement}", "{deps}"]
    no_cache_args = []
    cache_args    = []
    inventory     = ["sh", "-c", "cat {deps}/installed.txt"]
  }
}

stage "test" {
  layer = "base"
  gate {
    command = ["sh", "%[1]s/suite.sh"]
  }
}

stage "prod" {
  layer   = "base"
  require = "test"
  launch {
    command      = ["sh", "%[1]s/server.sh", "{entrypoint}", "--host", "{host}", "--port", "{port}"]
    host         = "127.0.0.1"
    port         = %[2]d
    grace_period = "1s"

    var "OPENAI_API_KEY" {
      fallback  = "mock_key"
      sensitive = true
    }
    var "DATABASE_URL" {
      fallback = "sqlite:///./telemetry_ai.db"
    }
  }
}
`, toolsDir, port)
}

// WriteDefinition writes a ShellPipeline using fresh stand-in scripts into
// its own temporary directory and returns the file path.
func WriteDefinition(t *testing.T, port int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefinitionFileName)
	if err := os.WriteFile(path, []byte(ShellPipeline(NewToolsDir(t), port)), 0o644); err != nil {
		t.Fatalf("failed to write pipeline definition: %v", err)
	}
	return path
}

// FreePort returns a TCP port that was free on 127.0.0.1 a moment ago.
func FreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
