package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsSane(t *testing.T) {
	cfg := Default()
	if cfg.WriteBuffer.BufferSizeBytes == 0 {
		t.Fatal("default write buffer must be enabled")
	}
	if cfg.Compaction.NumLevels < 3 {
		t.Fatal("default level count too small")
	}
	if cfg.Compaction.SpaceAmpPercent < 110 || cfg.Compaction.SpaceAmpPercent > 200 {
		t.Fatalf("default space amp out of range: %d", cfg.Compaction.SpaceAmpPercent)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("a missing file is not an error: %v", err)
	}
	if cfg.Compaction.NumLevels != Default().Compaction.NumLevels {
		t.Fatal("missing file should fall back to the default config")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
logger:
  level: DEBUG
  json: true
write_buffer:
  buffer_size: 1048576
  allow_stall: true
compaction:
  num_levels: 42
  write_buffer_size: 1048576
  space_amp_percent: 120
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WriteBuffer.BufferSizeBytes != 1048576 {
		t.Fatalf("buffer_size not applied: %d", cfg.WriteBuffer.BufferSizeBytes)
	}
	if !cfg.WriteBuffer.AllowStall {
		t.Fatal("allow_stall not applied")
	}
	if cfg.Compaction.SpaceAmpPercent != 120 {
		t.Fatalf("space_amp_percent not applied: %d", cfg.Compaction.SpaceAmpPercent)
	}
	if !cfg.Logger.JSON || cfg.Logger.Level != "DEBUG" {
		t.Fatal("logger overrides not applied")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml must error")
	}
}
