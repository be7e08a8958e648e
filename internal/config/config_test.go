package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 30, cfg.Storage.AutosaveSec)
	assert.Equal(t, "configs/recipes.json", cfg.Level.RecipesPath)
	assert.Equal(t, 64, cfg.Grid.Width)
	assert.InDelta(t, 2.5, cfg.Interact.GrabRange, 1e-9)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  rest_port: 9000
grid:
  width: 128
storage:
  backend: redis
  redis_url: localhost:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.GetRESTPort())
	assert.Equal(t, 128, cfg.Grid.Width)
	assert.Equal(t, "redis", cfg.Storage.Backend)

	// Незатронутые секции сохраняют дефолты
	assert.Equal(t, 30, cfg.Storage.AutosaveSec)
	assert.Equal(t, "configs/placements.json", cfg.Level.PlacementsPath)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "no_such.yml"))
	assert.Error(t, err)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("BASECRAFT_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestServerConfig_PortFallbacks(t *testing.T) {
	s := &ServerConfig{}

	t.Setenv("BASECRAFT_REST_PORT", "")
	assert.Equal(t, 8088, s.GetRESTPort(), "Без конфига и ENV — дефолт")
	assert.Equal(t, 2112, s.GetMetricsPort())

	t.Setenv("BASECRAFT_REST_PORT", "9999")
	assert.Equal(t, 9999, s.GetRESTPort(), "ENV перекрывает дефолт")

	s.RESTPort = 8100
	assert.Equal(t, 8100, s.GetRESTPort(), "Конфиг перекрывает ENV")

	t.Setenv("BASECRAFT_METRICS_PORT", "not-a-port")
	assert.Equal(t, 2112, s.GetMetricsPort(), "Невалидный ENV игнорируется")
}
