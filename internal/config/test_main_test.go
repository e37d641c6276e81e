package config

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	cwd, _ := os.Getwd()
	tmpDir, err := os.MkdirTemp("", "bdimport-config-test")
	if err == nil {
		_ = os.Chdir(tmpDir)
	}
	_ = os.Setenv("XDG_CONFIG_HOME", tmpDir)
	_ = os.Setenv("HOME", tmpDir)
	ResetForTesting()

	code := m.Run()

	ResetForTesting()
	if err == nil {
		_ = os.Chdir(cwd)
		_ = os.RemoveAll(tmpDir)
	}
	os.Exit(code)
}
