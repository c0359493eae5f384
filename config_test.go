package main

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Seednode/towerbox/internal/render"
	"github.com/Seednode/towerbox/internal/shapes"
)

func validConfig() Config {
	return Config{
		port:             8080,
		reapInterval:     time.Minute,
		sessionTimeout:   time.Hour,
		shapeScale:       3,
		slackConnections: 1,
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *Config){
		"tls cert without key":  func(c *Config) { c.tlsCert = "cert.pem" },
		"port out of range":     func(c *Config) { c.port = 70000 },
		"slack app token alone": func(c *Config) { c.slackAppToken = "xapp" },
		"no connections":        func(c *Config) { c.slackConnections = 0 },
		"zero scale":            func(c *Config) { c.shapeScale = 0 },
		"zero timeout":          func(c *Config) { c.sessionTimeout = 0 },
	}

	c := validConfig()
	if err := c.validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(&c)
			if err := c.validate(); err == nil {
				t.Fatal("validate accepted an invalid config")
			}
		})
	}
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("TOWERBOX_PORT", "9090")
	t.Setenv("TOWERBOX_SLACK_CONNECTIONS", "3")

	cfg := &Config{}
	newCmd(cfg)

	if cfg.port != 9090 || cfg.slackConnections != 3 {
		t.Fatalf("port = %d, connections = %d", cfg.port, cfg.slackConnections)
	}
	if cfg.bind != "0.0.0.0" {
		t.Fatalf("bind = %q", cfg.bind)
	}
}

func TestLoadEnvFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")
	if err := loadEnvFile(missing, false); err != nil {
		t.Fatalf("implicit missing file: %v", err)
	}
	if err := loadEnvFile(missing, true); err == nil {
		t.Fatal("explicit missing file was accepted")
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TOWERBOX_TEST_VALUE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOWERBOX_TEST_VALUE", "")
	os.Unsetenv("TOWERBOX_TEST_VALUE")

	if err := loadEnvFile(path, true); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("TOWERBOX_TEST_VALUE"); got != "loaded" {
		t.Fatalf("TOWERBOX_TEST_VALUE = %q", got)
	}
}

func TestLoadCatalogRejectsUnknownExtension(t *testing.T) {
	cfg := validConfig()
	cfg.shapes = "shapes.json"
	if _, err := loadCatalog(&cfg); err == nil {
		t.Fatal("loadCatalog accepted a .json file")
	}

	cfg.shapes = ""
	catalog, err := loadCatalog(&cfg)
	if err != nil || catalog.Len() == 0 {
		t.Fatalf("built-in catalog: %v", err)
	}
}

func TestFavicon(t *testing.T) {
	catalog, err := shapes.Default(shapes.Options{})
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	data, err := newFavicon(catalog, render.New(nil))
	if err != nil {
		t.Fatalf("newFavicon: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != faviconSize || b.Dy() != faviconSize {
		t.Fatalf("favicon bounds = %v", b)
	}
}

func TestHumanReadableSize(t *testing.T) {
	tests := map[int64]string{
		0:             "0 B",
		999:           "999 B",
		1000:          "1.0 kB",
		1_536_000:     "1.5 MB",
		3_000_000_000: "3.0 GB",
	}
	for in, want := range tests {
		if got := humanReadableSize(in); got != want {
			t.Fatalf("humanReadableSize(%d) = %q, want %q", in, got, want)
		}
	}
	if got := humanReadableSize(len("abc")); got != "3 B" {
		t.Fatalf("humanReadableSize(int) = %q", got)
	}
}
