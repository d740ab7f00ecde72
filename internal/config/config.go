// Package config resolves the engine's runtime configuration from an
// optional file (YAML/JSON/TOML) layered under environment variables, the
// same two-layer shape the teacher's internal/config.Load used for modeld.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec §6. Zero values mean
// "unspecified"; FromEnv fills them from the environment and Resolve
// fills what is still unset with defaults.
type Config struct {
	ModelPath   string `json:"model_path"   yaml:"model_path"   toml:"model_path"`
	ModelsDir   string `json:"models_dir"   yaml:"models_dir"   toml:"models_dir"`
	GPULayers   int    `json:"gpu_layers"   yaml:"gpu_layers"   toml:"gpu_layers"`
	ContextSize int    `json:"context_size" yaml:"context_size" toml:"context_size"`
	BatchSize   int    `json:"batch_size"   yaml:"batch_size"   toml:"batch_size"`

	Host       string `json:"host"        yaml:"host"        toml:"host"`
	Port       int    `json:"port"        yaml:"port"        toml:"port"`
	EnableCORS bool   `json:"enable_cors" yaml:"enable_cors" toml:"enable_cors"`

	MaxQueueSize int `json:"max_queue_size" yaml:"max_queue_size" toml:"max_queue_size"`

	EnableRateLimit bool `json:"enable_rate_limit" yaml:"enable_rate_limit" toml:"enable_rate_limit"`
	RateLimitMax    int  `json:"rate_limit_max"    yaml:"rate_limit_max"    toml:"rate_limit_max"`
	RateLimitWindow int  `json:"rate_limit_window" yaml:"rate_limit_window" toml:"rate_limit_window"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Defaults applied by Resolve when neither the file nor the environment set
// a value.
const (
	DefaultContextSize     = 4096
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 3000
	DefaultMaxQueueSize    = 100
	DefaultRateLimitWindow = 60
)

// LoadFile reads path and unmarshals it by extension (.yaml/.yml, .json,
// .toml), matching the teacher's extension-dispatch loader.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays environment variables named in spec §6 onto base,
// environment winning over whatever the file set. Empty/absent env vars
// leave the base value untouched.
func FromEnv(base Config) Config {
	cfg := base
	if v := os.Getenv("MODEL_PATH"); v != "" {
		cfg.ModelPath = v
	}
	if v := os.Getenv("MODELS_DIR"); v != "" {
		cfg.ModelsDir = v
	}
	if v, ok := envInt("GPU_LAYERS"); ok {
		cfg.GPULayers = v
	}
	if v, ok := envInt("CONTEXT_SIZE"); ok {
		cfg.ContextSize = v
	}
	if v, ok := envInt("BATCH_SIZE"); ok {
		cfg.BatchSize = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := envBool("ENABLE_CORS"); ok {
		cfg.EnableCORS = v
	}
	if v, ok := envInt("MAX_QUEUE_SIZE"); ok {
		cfg.MaxQueueSize = v
	}
	if v, ok := envBool("ENABLE_RATE_LIMIT"); ok {
		cfg.EnableRateLimit = v
	}
	if v, ok := envInt("RATE_LIMIT_MAX"); ok {
		cfg.RateLimitMax = v
	}
	if v, ok := envInt("RATE_LIMIT_WINDOW"); ok {
		cfg.RateLimitWindow = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// Resolve applies defaults for any field FromEnv/LoadFile left unset.
// MODEL_PATH is required and is validated by the caller (the lifecycle
// manager), not here: an empty path is a valid zero value for this struct.
func Resolve(cfg Config) Config {
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = DefaultContextSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.ContextSize
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = defaultModelsDir()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}

// defaultModelsDir picks ./models if present, else ../models, matching
// spec §6's MODELS_DIR fallback order.
func defaultModelsDir() string {
	if fi, err := os.Stat("./models"); err == nil && fi.IsDir() {
		return "./models"
	}
	return "../models"
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
