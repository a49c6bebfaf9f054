package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFiles writes files (relative slash paths to contents) under root.
// Paths ending in ".sh" are made executable.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		perm := os.FileMode(0o644)
		if filepath.Ext(path) == ".sh" {
			perm = 0o755
		}
		require.NoError(t, os.WriteFile(path, []byte(content), perm))
	}
}

// ProjectFiles is a minimal service: a manifest, a secrets file, an ASGI
// entry point and a passing test suite.
func ProjectFiles() map[string]string {
	return map[string]string{
		"requirements.txt":     "fastapi==0.110.0\nuvicorn==0.29.0\n",
		".env":                 "OPENAI_API_KEY=sk-from-file\nDEBUG=false\n",
		"app/__init__.py":      "",
		"app/main.py":          "from fastapi import FastAPI\n\napp = FastAPI()\n",
		"app/tests/test_ok.sh": "echo 'collected 2 items'\necho '2 passed'\n",
	}
}

// NewProject writes ProjectFiles, overlaid with overrides, into a fresh
// temporary directory and returns it. An override with an empty value
// removes the file.
func NewProject(t *testing.T, overrides map[string]string) string {
	t.Helper()
	files := ProjectFiles()
	for k, v := range overrides {
		if v == "" {
			delete(files, k)
			continue
		}
		files[k] = v
	}
	root := t.TempDir()
	WriteFiles(t, root, files)
	return root
}

// InstallerScript is a stand-in package installer. Called as
// `sh install.sh <requirement> <deps-dir>`, it records the requirement in the
// deps dir and fails for names starting with "nonexistent".
const InstallerScript = `#!/bin/sh
case "$1" in
  nonexistent*) echo "ERROR: Could not find a version that satisfies the requirement $1" >&2; exit 1 ;;
esac
mkdir -p "$2"
echo "$1" >> "$2/installed.txt"
echo "Successfully installed $1"
`

// SuiteScript is a stand-in test runner. It runs every app/tests/*.sh file
// and fails when any of them does.
const SuiteScript = `#!/bin/sh
status=0
for t in app/tests/*.sh; do
  sh "$t" || status=1
done
exit $status
`

// ServerScript is a stand-in application server. It prints its arguments and
// the runtime configuration it received, then exits. A crash_on_start file in
// the working directory makes it exit with status 3 after starting.
const ServerScript = `#!/bin/sh
echo "serving $*"
if [ -f crash_on_start ]; then
  echo "worker crashed" >&2
  exit 3
fi
echo "OPENAI_API_KEY=$OPENAI_API_KEY"
echo "DATABASE_URL=$DATABASE_URL"
`

// ToolFiles returns the stand-in scripts keyed by their file name.
func ToolFiles() map[string]string {
	return map[string]string{
		"install.sh": InstallerScript,
		"suite.sh":   SuiteScript,
		"server.sh":  ServerScript,
	}
}

// NewToolsDir writes the stand-in scripts into a fresh directory.
func NewToolsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	WriteFiles(t, dir, ToolFiles())
	return dir
}
