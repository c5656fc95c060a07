package configloader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sample struct {
	Name     string        `mapstructure:"name"`
	Interval time.Duration `mapstructure:"interval"`
	Enabled  bool          `mapstructure:"enabled"`
	Count    int           `mapstructure:"count"`
	Brokers  []string      `mapstructure:"brokers"`
	Nested   struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"nested"`
}

func (s *sample) Validate() error {
	if s.Name == "bad" {
		return errors.New("bad name")
	}
	return nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"name":       "svc",
		"interval":   "500ms",
		"enabled":    false,
		"count":      10,
		"brokers":    []string{"localhost:9092"},
		"nested.url": "http://localhost:3000",
	}
}

func TestLoad_Defaults(t *testing.T) {
	var s sample
	if err := Load(Options{EnvPrefix: "CLTEST1", Defaults: defaults()}, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "svc" || s.Interval != 500*time.Millisecond || s.Count != 10 {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if len(s.Brokers) != 1 || s.Brokers[0] != "localhost:9092" {
		t.Errorf("brokers = %v", s.Brokers)
	}
	if s.Nested.URL != "http://localhost:3000" {
		t.Errorf("nested.url = %q", s.Nested.URL)
	}
}

func TestLoad_FileEnvAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "name: from-file\ninterval: 2s\nnested:\n  url: http://file:3000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CLTEST2_COUNT", "42")
	t.Setenv("CLTEST2_ENABLED", "true")
	t.Setenv("CLTEST2_BROKERS", "a:1,b:2")

	var s sample
	err := Load(Options{
		Path:      path,
		EnvPrefix: "CLTEST2",
		Defaults:  defaults(),
		Overrides: map[string]interface{}{"nested.url": "http://flag:3000"},
	}, &s)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "from-file" || s.Interval != 2*time.Second {
		t.Errorf("file values not applied: %+v", s)
	}
	if s.Count != 42 || !s.Enabled {
		t.Errorf("env values not applied: count=%d enabled=%v", s.Count, s.Enabled)
	}
	if len(s.Brokers) != 2 || s.Brokers[1] != "b:2" {
		t.Errorf("brokers = %v", s.Brokers)
	}
	if s.Nested.URL != "http://flag:3000" {
		t.Errorf("override not applied: %q", s.Nested.URL)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	var s sample
	err := Load(Options{
		EnvPrefix: "CLTEST3",
		Defaults:  defaults(),
		Overrides: map[string]interface{}{"name": "bad"},
	}, &s)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var s sample
	if err := Load(Options{Path: "/nonexistent/config.yaml", Defaults: defaults()}, &s); err == nil {
		t.Fatal("expected read error")
	}
}

func TestLoad_Strict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("name: x\nnmae: typo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var s sample
	if err := Load(Options{Path: path, EnvPrefix: "CLTEST4", Defaults: defaults()}, &s); err != nil {
		t.Fatalf("lenient Load: %v", err)
	}
	if err := Load(Options{Path: path, EnvPrefix: "CLTEST4", Defaults: defaults(), Strict: true}, &s); err == nil {
		t.Fatal("strict Load accepted unknown key")
	}
}

func TestDecodeHooks(t *testing.T) {
	var s sample
	in := map[string]interface{}{"brokers": " a:1 , ,b:2", "enabled": " "}
	if err := decode(in, &s, false); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(s.Brokers) != 2 || s.Brokers[0] != "a:1" || s.Brokers[1] != "b:2" {
		t.Errorf("brokers = %q", s.Brokers)
	}
	if s.Enabled {
		t.Error("blank bool must decode as false")
	}
	if err := decode(map[string]interface{}{"enabled": "maybe"}, &s, false); err == nil {
		t.Error("expected bool parse error")
	}
}
