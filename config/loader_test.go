package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saiset-co/sai-og/types"
)

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("OG_REDIS_ADDR", "cache.internal:6380")

	cfg, err := NewLoader().Load([]byte(`
name: og
limits:
  max_width: 2048
render:
  unsupported_policy: fail
cache:
  memory:
    ttl: 30s
  persistent:
    type: redis
    config:
      addr: ${OG_REDIS_ADDR}
generator:
  timeout: 2s
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Name != "og" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.Limits.MaxWidth != 2048 || cfg.Limits.MaxHeight != 4096 {
		t.Errorf("limits = %+v, want overridden width and default height", cfg.Limits)
	}
	if cfg.Render.UnsupportedPolicy != types.UnsupportedPolicyFail {
		t.Errorf("unsupported policy = %q", cfg.Render.UnsupportedPolicy)
	}
	if cfg.Cache.Memory.TTL != 30*time.Second || cfg.Cache.Memory.MaxEntries != 1024 {
		t.Errorf("memory cache = %+v", cfg.Cache.Memory)
	}
	if cfg.Generator.Timeout != 2*time.Second {
		t.Errorf("timeout = %s", cfg.Generator.Timeout)
	}

	store, ok := cfg.Cache.Persistent.Config.(map[string]interface{})
	if !ok || store["addr"] != "cache.internal:6380" {
		t.Errorf("persistent config = %#v, want expanded addr", cfg.Cache.Persistent.Config)
	}
}

func TestLoadDefaultsUnsupportedPolicyToSkip(t *testing.T) {
	cfg, err := NewLoader().Load([]byte("name: og\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Render.UnsupportedPolicy != types.UnsupportedPolicySkip {
		t.Errorf("unsupported policy = %q, want skip", cfg.Render.UnsupportedPolicy)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{name: "bad yaml", yaml: "limits: [", want: types.ErrConfigParseFailed},
		{name: "bad policy", yaml: "render:\n  unsupported_policy: explode\n", want: types.ErrConfigValidateFailed},
		{name: "bad tier", yaml: "cache:\n  persistent:\n    type: memcached\n", want: types.ErrConfigValidateFailed},
		{name: "bad quality", yaml: "encoder:\n  jpeg_quality: 101\n", want: types.ErrConfigValidateFailed},
		{name: "file output without path", yaml: "logger:\n  output: file\n", want: types.ErrConfigValidateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Load([]byte(tt.yaml))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	l := NewLoader()

	if _, err := l.LoadFromFile(""); !errors.Is(err, types.ErrConfigNotFound) {
		t.Errorf("empty path err = %v", err)
	}
	if _, err := l.LoadFromFile(filepath.Join(t.TempDir(), "missing.yml")); !errors.Is(err, types.ErrConfigInvalidPath) {
		t.Errorf("missing file err = %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := l.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Host != "localhost" {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestParserPaths(t *testing.T) {
	p := NewParser(NewLoader().Defaults())

	if got := p.GetValue("limits.max_width", nil); got != 4096 {
		t.Errorf("limits.max_width = %#v", got)
	}
	if got := p.GetValue("limits.nope", "fallback"); got != "fallback" {
		t.Errorf("missing path = %#v", got)
	}

	var memory types.MemoryCacheConfig
	if err := p.GetAs("cache.memory", &memory); err != nil {
		t.Fatalf("GetAs: %v", err)
	}
	if memory.TTL != time.Hour {
		t.Errorf("ttl = %s", memory.TTL)
	}

	found := false
	for _, path := range p.Paths() {
		if path == "render.unsupported_policy" {
			found = true
		}
	}
	if !found {
		t.Error("render.unsupported_policy not listed")
	}
}
