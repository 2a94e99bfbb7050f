package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/carstudio/rembg"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1920, cfg.Canvas.Width)
	assert.Equal(t, 1080, cfg.Canvas.Height)
	assert.Equal(t, int64(10<<20), cfg.Limits.MaxUpload)
	assert.Equal(t, int64(20<<20), cfg.Limits.MaxBackground)
	assert.Equal(t, int64(50_000_000), cfg.Limits.MaxPixels)
	assert.Equal(t, 3*time.Second, cfg.AutoBG.PollInterval)
	assert.Equal(t, 120*time.Second, cfg.AutoBG.Deadline)
	assert.Equal(t, 60*time.Second, cfg.RemoveBG.Timeout)
	assert.Equal(t, []string{"i", "{input}", "{output}"}, cfg.Local.Args)
	assert.True(t, cfg.Pipeline.TemplateFallback)
	assert.Equal(t, "auto", cfg.Remover.Primary)
	assert.Equal(t, cfg.Server.PublicURL, cfg.Storage.PublicURL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := `
server:
  addr: ":9000"
remover:
  primary: autobg
  fallback: local
autobg:
  poll_interval: 2s
  deadline: 90s
canvas:
  width: 1280
  height: 720
storage:
  retention: 48h
`
	path := filepath.Join(dir, "carstudio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("CARSTUDIO_SERVER_ADDR", ":9100")
	t.Setenv("REMOVEBG_API_KEY", "legacy-key")
	t.Setenv("STORAGE_URL", "https://files.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "autobg", cfg.Remover.Primary)
	assert.Equal(t, 2*time.Second, cfg.AutoBG.PollInterval)
	assert.Equal(t, 1280, cfg.Canvas.Width)
	assert.Equal(t, 48*time.Hour, cfg.Storage.Retention)
	assert.Equal(t, "legacy-key", cfg.RemoveBG.APIKey)
	assert.Equal(t, "https://files.example.com", cfg.Storage.PublicURL)
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTOBG_API_KEY", "old")
	t.Setenv("CARSTUDIO_AUTOBG_API_KEY", "new")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.AutoBG.APIKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "canvas", mutate: func(c *Config) { c.Canvas.Width = 0 }},
		{name: "poll interval", mutate: func(c *Config) { c.AutoBG.PollInterval = c.AutoBG.Deadline }},
		{name: "strategy", mutate: func(c *Config) { c.Remover.Primary = "magic" }},
		{name: "backend", mutate: func(c *Config) { c.Storage.Backend = "tape" }},
		{name: "minio", mutate: func(c *Config) { c.Storage.Backend = "minio" }},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "limits", mutate: func(c *Config) { c.Limits.MaxUpload = 0 }},
		{name: "pixels", mutate: func(c *Config) { c.Limits.MaxPixels = 0 }},
	}

	for _, tt := range tests {
		cfg := *base
		tt.mutate(&cfg)
		assert.Error(t, cfg.Validate(), tt.name)
	}
	assert.NoError(t, base.Validate())
}

func TestRemoverResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		remover      Remover
		av           Availability
		wantPrimary  rembg.Strategy
		wantFallback rembg.Strategy
	}{
		{
			name:         "auto prefers sync api",
			remover:      Remover{Primary: "auto", Fallback: "auto"},
			av:           Availability{Local: true, RemoveBG: true},
			wantPrimary:  rembg.StrategySyncRemote,
			wantFallback: rembg.StrategyLocal,
		},
		{
			name:         "auto without keys uses local",
			remover:      Remover{Primary: "auto", Fallback: "auto"},
			av:           Availability{Local: true},
			wantPrimary:  rembg.StrategyLocal,
			wantFallback: rembg.StrategyNone,
		},
		{
			name:         "explicit choices",
			remover:      Remover{Primary: "autobg", Fallback: "removebg"},
			wantPrimary:  rembg.StrategyAsyncRemote,
			wantFallback: rembg.StrategySyncRemote,
		},
		{
			name:         "same fallback is dropped",
			remover:      Remover{Primary: "local", Fallback: "local"},
			wantPrimary:  rembg.StrategyLocal,
			wantFallback: rembg.StrategyNone,
		},
		{
			name:         "nothing available",
			remover:      Remover{Primary: "auto", Fallback: "none"},
			wantPrimary:  rembg.StrategyNone,
			wantFallback: rembg.StrategyNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary, fallback, err := tt.remover.Resolve(tt.av)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrimary, primary)
			assert.Equal(t, tt.wantFallback, fallback)
		})
	}

	_, _, err := Remover{Primary: "magic"}.Resolve(Availability{})
	assert.Error(t, err)
}
