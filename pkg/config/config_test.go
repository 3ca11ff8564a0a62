package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "rewind")
	p := writeFile(t, "c.yaml", "name: ${SAMPLE_NAME}\nport: 9000\n")

	var cfg sample
	if err := Load(p, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "rewind" || cfg.Port != 9000 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_KeepsDefaults(t *testing.T) {
	p := writeFile(t, "c.yaml", "port: 9000\n")

	cfg := sample{Name: "default"}
	if err := Load(p, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "default" {
		t.Errorf("name = %q, want default kept", cfg.Name)
	}
}

func TestLoad_RunsValidator(t *testing.T) {
	p := writeFile(t, "c.yaml", "name: x\n")

	var cfg sample
	err := Load(p, &cfg)
	if err == nil || !strings.Contains(err.Error(), "port is required") {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	p := writeFile(t, "c.yaml", "port: [\n")

	var cfg sample
	if err := Load(p, &cfg); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadWithDefaults_Fallback(t *testing.T) {
	def := writeFile(t, "default.yaml", "port: 7000\n")

	var cfg sample
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), def, &cfg); err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("port = %d, want 7000 from default file", cfg.Port)
	}

	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), "", &cfg); err == nil {
		t.Error("expected error without a default file")
	}
}
