package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestReadConfig(t *testing.T) {
	cfg, err := readConfig(strings.NewReader(`
server_url = "https://sync.example.com"
content_debounce = "250ms"
`))
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.ServerURL, "https://sync.example.com")
	assert.Equal(t, cfg.RealtimeURL, "")

	d, err := cfg.Debounce()
	assert.Equal(t, err, nil)
	assert.Equal(t, d, 250*time.Millisecond)
}

func TestReadConfig_Invalid(t *testing.T) {
	_, err := readConfig(strings.NewReader(`server_url = `))
	assert.NotEqual(t, err, nil)
}

func TestDebounce(t *testing.T) {
	tests := []struct {
		value   string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"2s", 2 * time.Second, false},
		{"soon", 0, true},
		{"-1s", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := (&Config{ContentDebounce: tt.value}).Debounce()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Debounce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Debounce() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg, DefaultConfig())
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsync", "config.toml")
	want := DefaultConfig()
	want.Token = "abc"

	assert.Equal(t, initConfig(path, want), nil)

	got, err := loadConfig(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, got, want)

	info, err := os.Stat(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, info.Mode().Perm(), os.FileMode(0o600))

	assert.NotEqual(t, initConfig(path, want), nil)
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("DEVSYNC_CONFIG", "/tmp/explicit.toml")
	p, err := defaultConfigPath()
	assert.Equal(t, err, nil)
	assert.Equal(t, p, "/tmp/explicit.toml")

	t.Setenv("DEVSYNC_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	p, err = defaultConfigPath()
	assert.Equal(t, err, nil)
	assert.Equal(t, p, filepath.Join("/xdg", "devsync", "config.toml"))
}
