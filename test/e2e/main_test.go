package e2e

import (
	"os"
	"os/exec"
	"testing"
)

var simplesyncBin string

func TestMain(m *testing.M) {
	simplesyncBin = envOrLookPath("SIMPLESYNC_BIN", "simplesync")
	os.Exit(m.Run())
}

func envOrLookPath(envVar, name string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return ""
}

func requireServer(t *testing.T) {
	t.Helper()
	if simplesyncBin == "" {
		t.Skip("simplesync binary not available (set SIMPLESYNC_BIN or add to PATH)")
	}
}
