package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nested struct {
	Addr string `yaml:"addr"`
	Port uint16 `yaml:"port"`
}

type sample struct {
	Name    string  `yaml:"name" env:"SAMPLE_NAME"`
	Enabled bool    `yaml:"enabled"`
	Count   int     `yaml:"count"`
	Ratio   float64 `yaml:"ratio"`
	Skipped string  `yaml:"skipped" env:"-"`
	Nested  nested  `yaml:"nested"`
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SAMPLE_NAME", "meters")
	t.Setenv("ENABLED", "true")
	t.Setenv("COUNT", "7")
	t.Setenv("RATIO", "0.5")
	t.Setenv("NESTED_ADDR", "localhost:1883")
	t.Setenv("NESTED_PORT", "1883")
	t.Setenv("SKIPPED", "ignored")

	var cfg sample
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, "meters", cfg.Name)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 7, cfg.Count)
	assert.InDelta(t, 0.5, cfg.Ratio, 1e-9)
	assert.Equal(t, "localhost:1883", cfg.Nested.Addr)
	assert.Equal(t, uint16(1883), cfg.Nested.Port)
	assert.Empty(t, cfg.Skipped)
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	body := "name: from-file\ncount: 3\nnested:\n  addr: file:1883\n  port: 1883\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("COUNT", "9")

	var cfg sample
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, 9, cfg.Count)
	assert.Equal(t, "file:1883", cfg.Nested.Addr)
	assert.Equal(t, uint16(1883), cfg.Nested.Port)
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SAMPLE_NAME=dotenv\nCOUNT=4\n"), 0o600))
	t.Setenv("COUNT", "5")
	t.Cleanup(func() { os.Unsetenv("SAMPLE_NAME") })

	var cfg sample
	require.NoError(t, LoadConfig(&cfg))

	assert.Equal(t, "dotenv", cfg.Name)
	assert.Equal(t, 5, cfg.Count, "already-set variables win over .env")
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.Error(t, LoadConfig(nil))
	var notStruct int
	assert.Error(t, LoadConfig(&notStruct))

	t.Setenv("COUNT", "many")
	var cfg sample
	assert.Error(t, LoadConfig(&cfg))

	t.Setenv("COUNT", "1")
	t.Setenv("NESTED_PORT", "70000")
	assert.Error(t, LoadConfig(&cfg), "values overflowing the field are rejected")
}

func TestLoadConfigRejectsUnsupportedFieldType(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TAGS", "a,b")

	var cfg struct {
		Tags []string `yaml:"tags"`
	}
	assert.ErrorContains(t, LoadConfig(&cfg), "unsupported field type")
}
