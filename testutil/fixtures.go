package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/SanGraphic/gamemode/internal/simhost"
)

// WriteHostFixture writes a simulated host fixture as YAML under dir
func WriteHostFixture(t *testing.T, dir string, f *simhost.Fixture) string {
	t.Helper()
	data, err := yaml.Marshal(f)
	if err != nil {
		t.Fatalf("Failed to marshal fixture: %v", err)
	}
	path := filepath.Join(dir, "host.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write fixture %s: %v", path, err)
	}
	return path
}

// WriteConfig writes a configuration file under dir
func WriteConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config %s: %v", path, err)
	}
	return path
}
