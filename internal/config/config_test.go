package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4871 {
		t.Fatalf("Port = %d, want default 4871", cfg.Port)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wired.toml")
	content := `
name = "Test Server"
port = 5000
total_downloads = 3
category = ["chat", "files"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "Test Server" || cfg.Port != 5000 || cfg.TotalDownloads != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Category) != 2 {
		t.Fatalf("Category = %v", cfg.Category)
	}
	// Fields not present in the file keep their defaults.
	if cfg.NewsLimit != 30 {
		t.Fatalf("NewsLimit = %d, want default 30", cfg.NewsLimit)
	}
}
