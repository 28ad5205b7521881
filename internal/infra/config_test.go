package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
)

const validYAML = `
mode: DEMO
symbols: [BTCUSDT]
api:
  ws_demo: wss://stream.binancefuture.com/ws
  ws_real: wss://fstream.binance.com/ws
risk:
  max_daily_loss_pct: 3.0
  max_positions: 3
execution:
  edge_safety_factor: 0.7
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "DEMO", cfg.Mode)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DANBOT_API_KEY", "env-key")
	t.Setenv("DANBOT_API_SECRET", "env-secret")
	t.Setenv("DANBOT_MODE", "real")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.API.Key)
	assert.Equal(t, "env-secret", cfg.API.Secret)
	assert.Equal(t, "REAL", cfg.Mode)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad mode", `
mode: PAPER
symbols: [BTCUSDT]
risk: {max_daily_loss_pct: 3, max_positions: 3}
execution: {edge_safety_factor: 0.7}
`},
		{"no symbols", `
mode: DEMO
symbols: []
risk: {max_daily_loss_pct: 3, max_positions: 3}
execution: {edge_safety_factor: 0.7}
`},
		{"bad ws url", `
mode: DEMO
symbols: [BTCUSDT]
api: {ws_demo: "http://not-a-ws"}
risk: {max_daily_loss_pct: 3, max_positions: 3}
execution: {edge_safety_factor: 0.7}
`},
		{"zero loss limit", `
mode: DEMO
symbols: [BTCUSDT]
risk: {max_daily_loss_pct: 0, max_positions: 3}
execution: {edge_safety_factor: 0.7}
`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, c.yaml))
			require.Error(t, err)

			var cfgErr *domain.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "validation failures carry the offending field")
			assert.False(t, domain.IsRetriable(err))
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}
