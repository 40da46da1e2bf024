package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "installments.db", cfg.Database.DSN)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "0 6 * * *", cfg.Scheduler.Cron)
	assert.Equal(t, 1, cfg.Scheduler.LookaheadDays)
	assert.Equal(t, int64(500), cfg.Allocation.MinReferenceAmount)
	assert.Equal(t, 5, cfg.Allocation.MaxReferences)
	assert.Equal(t, time.UTC, cfg.Allocation.Location())
}

func TestAllocationConfig_Location(t *testing.T) {
	loc := AllocationConfig{Timezone: "America/Sao_Paulo"}.Location()
	assert.Equal(t, "America/Sao_Paulo", loc.String())

	assert.Equal(t, time.UTC, AllocationConfig{Timezone: "Nowhere/Else"}.Location())
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A YAML file and an env override
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9090"
  mode: debug
database:
  driver: postgres
  dsn: postgres://localhost/installments
allocation:
  max_references: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("INSTALLMENTS_SERVER_PORT", "7070")

	// WHEN: Loading
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: Env beats file, file beats defaults
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/installments", cfg.Database.DSN)
	assert.Equal(t, 3, cfg.Allocation.MaxReferences)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("INSTALLMENTS_SCHEDULER_LOOKAHEAD_DAYS=3\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("INSTALLMENTS_SCHEDULER_LOOKAHEAD_DAYS") })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Scheduler.LookaheadDays)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load("does-not-exist.yaml")

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		Database:   DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		Allocation: AllocationConfig{MinReferenceAmount: 500, MaxReferences: 5},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"zero max references", func(c *Config) { c.Allocation.MaxReferences = 0 }},
		{"too many references", func(c *Config) { c.Allocation.MaxReferences = 6 }},
		{"unknown timezone", func(c *Config) { c.Allocation.Timezone = "Mars/Olympus" }},
		{"negative minimum", func(c *Config) { c.Allocation.MinReferenceAmount = -1 }},
		{"negative lookahead", func(c *Config) { c.Scheduler.LookaheadDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
