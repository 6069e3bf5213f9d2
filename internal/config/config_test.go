package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no stray config.yaml is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sh3llcod3/codegolf-box", cfg.ImageName)
	assert.True(t, cfg.PullImage)
	assert.Equal(t, int64(65536), cfg.MaxOutputBytes)
	assert.Equal(t, int64(24*1024*1024), cfg.MemoryBytes())
	assert.Equal(t, 45*time.Second, cfg.Lifetime())
	assert.Equal(t, "none", cfg.NetworkMode)
	assert.Equal(t, "nobody", cfg.ContainerUser)
	assert.Equal(t, ":memory:", cfg.JournalPath)
	assert.Equal(t, "@every 10m", cfg.PruneSchedule)
	assert.Equal(t, "0.0.0.0:5050", cfg.Addr())
	assert.False(t, cfg.DisplayTokens)

	assert.True(t, cfg.AdminTokenGenerated)
	assert.Regexp(t, `^[0-9a-f]{64}$`, cfg.AdminToken)
}

func TestLoad_GeneratedTokensDiffer(t *testing.T) {
	chdir(t)

	a, err := Load("")
	require.NoError(t, err)
	b, err := Load("")
	require.NoError(t, err)
	assert.NotEqual(t, a.AdminToken, b.AdminToken)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	chdir(t)
	t.Setenv("ADMIN_TOKEN", "hunter2")
	t.Setenv("CONTAINER_LIFETIME", "10")
	t.Setenv("MEM_MAX", "64m")
	t.Setenv("MAX_OUTPUT_BYTES", "100")
	t.Setenv("INGEST_SERVER_PORT", "9000")
	t.Setenv("DISPLAY_TOKENS", "true")
	t.Setenv("JOURNAL_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.AdminToken)
	assert.False(t, cfg.AdminTokenGenerated)
	assert.Equal(t, 10*time.Second, cfg.Lifetime())
	assert.Equal(t, int64(64*1024*1024), cfg.MemoryBytes())
	assert.Equal(t, int64(100), cfg.MaxOutputBytes)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.DisplayTokens)
	assert.Empty(t, cfg.JournalPath, "an empty env var disables the journal")
}

func TestLoad_File(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"image_name: custom/box\nnetwork_mode: bridge\nprune_schedule: \"\"\nlog_format: json\n",
	), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom/box", cfg.ImageName)
	assert.Equal(t, "bridge", cfg.NetworkMode)
	assert.Empty(t, cfg.PruneSchedule)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("image_name: from/file\n"), 0o644))
	t.Setenv("IMAGE_NAME", "from/env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from/env", cfg.ImageName)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	chdir(t)
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ImageName:         "img",
			MaxOutputBytes:    1,
			MemMax:            "24m",
			ContainerLifetime: 1,
			NetworkMode:       "none",
			ContainerUser:     "nobody",
			TempDir:           "/tmp/x",
			Port:              5050,
			LogLevel:          "info",
			LogFormat:         "text",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty image", mutate: func(c *Config) { c.ImageName = "" }, wantErr: true},
		{name: "zero output cap", mutate: func(c *Config) { c.MaxOutputBytes = 0 }, wantErr: true},
		{name: "bad mem_max", mutate: func(c *Config) { c.MemMax = "lots" }, wantErr: true},
		{name: "zero lifetime", mutate: func(c *Config) { c.ContainerLifetime = 0 }, wantErr: true},
		{name: "empty network", mutate: func(c *Config) { c.NetworkMode = "" }, wantErr: true},
		{name: "empty user", mutate: func(c *Config) { c.ContainerUser = "" }, wantErr: true},
		{name: "port too high", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "unknown level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: true},
		{name: "unknown format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
