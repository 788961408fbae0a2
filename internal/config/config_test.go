package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PageCapacity != 12 || cfg.GridColumns != 3 {
		t.Errorf("unexpected layout defaults: %d/%d", cfg.PageCapacity, cfg.GridColumns)
	}
	if cfg.Export.Format != "a3" || cfg.Export.Orientation != "landscape" {
		t.Errorf("unexpected page defaults: %+v", cfg.Export)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms = %o, want 600", perm)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
listen: ":9090"
page_capacity: 6
export:
  orientation: sideways
  scale: 3
branding:
  title: "Agenda"
feed:
  events_file: ./data/eventos.json
  ics:
    - id: provas
      url: https://example.com/provas.ics
      category: Prova
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.PageCapacity != 6 {
		t.Errorf("explicit values lost: %+v", cfg)
	}
	if cfg.Export.Orientation != "landscape" {
		t.Errorf("unknown orientation should fall back to landscape, got %q", cfg.Export.Orientation)
	}
	if cfg.Export.Scale != 3 || cfg.Export.Format != "a3" {
		t.Errorf("export = %+v", cfg.Export)
	}
	if cfg.Branding.Title != "Agenda" || cfg.Branding.Heading == "" {
		t.Errorf("branding = %+v", cfg.Branding)
	}
	if cfg.MinYear != 1971 || cfg.Timezone != "America/Sao_Paulo" {
		t.Errorf("defaults not applied: %d %q", cfg.MinYear, cfg.Timezone)
	}
	if len(cfg.Feed.ICS) != 1 || cfg.Feed.ICS[0].Category != "Prova" {
		t.Errorf("ics = %+v", cfg.Feed.ICS)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Feed.Period = "2025.1"
	cfg.BasicAuth = &BasicAuthConfig{Username: "coord", Password: "secret"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Feed.Period != "2025.1" || got.BasicAuth == nil || got.BasicAuth.Username != "coord" {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestSaveRejectsEmptyInputs(t *testing.T) {
	if err := Save("", DefaultConfig()); err == nil {
		t.Error("expected error for empty path")
	}
	if err := Save(filepath.Join(t.TempDir(), "c.yaml"), nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"background": "export:\n  background_color: red\n",
		"columns":    "grid_columns: 12\n",
		"ics url":    "feed:\n  ics:\n    - id: x\n      url: not-a-url\n",
		"log level":  "log_level: verbose\n",
		"unit":       "export:\n  unit: furlong\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("expected validation error for %q", body)
			}
		})
	}
}

func TestLoadLowercasesLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: DEBUG\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}
