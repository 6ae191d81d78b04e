package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8990, cfg.Server.Port)
	assert.InDelta(t, 0.6, cfg.Deliberation.SupportThreshold, 1e-9)
	assert.InDelta(t, 0.8, cfg.Deliberation.VetoThreshold, 1e-9)
	assert.Equal(t, 3, cfg.Deliberation.MaxTurns)
	assert.Equal(t, 5, cfg.Intake.MaxAttempts)
	assert.Equal(t, 20, cfg.Checkpoint.Retention)
	assert.Equal(t, 10240, cfg.Checkpoint.MaxSnapshotBytes)
	assert.Equal(t, 30*time.Second, cfg.AgentTimeout())
	assert.Equal(t, 60*time.Second, cfg.LeaseTTL())
	assert.Contains(t, cfg.Agents.Roster, "moderator")
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boardroom.toml")
	content := `
[deliberation]
max_turns = 5
support_threshold = 0.7

[lease]
ttl_seconds = 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Deliberation.MaxTurns)
	assert.InDelta(t, 0.7, cfg.Deliberation.SupportThreshold, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.LeaseTTL())
	// untouched keys keep their defaults
	assert.InDelta(t, 0.8, cfg.Deliberation.VetoThreshold, 1e-9)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Error(t, Validate(cfg)) // no database URL by default

	cfg.Database.URL = "postgres://localhost/boardroom"
	require.NoError(t, Validate(cfg))

	cfg.Deliberation.MaxTurns = 0
	require.Error(t, Validate(cfg))
	cfg.Deliberation.MaxTurns = 3

	cfg.Agents.Roster = nil
	require.Error(t, Validate(cfg))
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boardroom.toml")
	require.NoError(t, InitConfig(path))
	require.Error(t, InitConfig(path))
}
