package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/interact"
)

// Config корневая структура конфигурации сервера симуляции.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Grid     grid.Config     `yaml:"grid"`
	Interact interact.Config `yaml:"interact"`
	Level    LevelConfig     `yaml:"level"`
	EventBus EventBusConfig  `yaml:"eventbus"`
	Storage  StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
	// Адрес OTLP коллектора ("host:4318"). Пусто — переменные OTEL_*.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LevelConfig — пути к данным уровня.
type LevelConfig struct {
	RecipesPath    string `yaml:"recipes_path"`
	PlacementsPath string `yaml:"placements_path"`
	StartPhase     int32  `yaml:"start_phase"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`    // пусто — in-memory шина
	Stream    string `yaml:"stream"` // имя JetStream стрима
	Retention int    `yaml:"retention_hours"`
}

// StorageConfig выбирает бэкенд прогресса чертежей и путь к BadgerDB.
// Backend: "memory" | "redis" | "maria".
type StorageConfig struct {
	DataPath string `yaml:"data_path"`
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
	MariaDSN string `yaml:"maria_dsn"`
	// Периодичность автосохранения снимка уровня, сек. 0 — отключено.
	AutosaveSec int `yaml:"autosave_seconds"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "BASECRAFT_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "BASECRAFT_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() *Config {
	return &Config{
		Grid:     grid.DefaultConfig(),
		Interact: interact.DefaultConfig(),
		Level: LevelConfig{
			RecipesPath:    "configs/recipes.json",
			PlacementsPath: "configs/placements.json",
		},
		Storage: StorageConfig{
			DataPath:    "data",
			Backend:     "memory",
			AutosaveSec: 30,
		},
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV BASECRAFT_CONFIG
// или возвращает дефолты.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("BASECRAFT_CONFIG")
		if path == "" {
			return cfg, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
