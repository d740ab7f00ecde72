// Command exsaengine serves spec §6's HTTP API over a single hot-swappable
// GGUF model. Flags default from the environment variables spec §6 names,
// mirroring cmd/modeld/main.go's os.Getenv-seeded flag.String defaults but
// through cobra, which the teacher already depended on for its dev CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"exsaengine/internal/config"
	"exsaengine/internal/engine"
	"exsaengine/internal/httpapi"
	"exsaengine/internal/lifecycle"
	"exsaengine/internal/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "exsaengine",
		Short: "Local GGUF inference server",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newModelsCmd())
	return root
}

// serveFlags mirrors config.Config with each default sourced from the
// matching spec §6 environment variable, so an unset flag and an unset
// env var both fall through to the same config.Resolve defaults.
type serveFlags struct {
	configFile      string
	modelPath       string
	modelsDir       string
	gpuLayers       int
	contextSize     int
	batchSize       int
	host            string
	port            int
	enableCORS      bool
	maxQueueSize    int
	enableRateLimit bool
	rateLimitMax    int
	rateLimitWindow int
	logLevel        string
	drainPolicy     string
	drainTimeout    int
	threads         int
}

func newServeCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inference HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", os.Getenv("EXSAENGINE_CONFIG"), "optional YAML/JSON/TOML config file")
	fl.StringVar(&f.modelPath, "model-path", os.Getenv("MODEL_PATH"), "initial GGUF model path (required)")
	fl.StringVar(&f.modelsDir, "models-dir", os.Getenv("MODELS_DIR"), "directory model load/reload paths are confined to")
	fl.IntVar(&f.gpuLayers, "gpu-layers", envIntDefault("GPU_LAYERS", 0), "number of layers to offload to GPU")
	fl.IntVar(&f.contextSize, "context-size", envIntDefault("CONTEXT_SIZE", 0), "context window size (0 = config default)")
	fl.IntVar(&f.batchSize, "batch-size", envIntDefault("BATCH_SIZE", 0), "decode batch size (0 = context size)")
	fl.StringVar(&f.host, "host", envDefault("HOST", ""), "listen host (empty = config default)")
	fl.IntVar(&f.port, "port", envIntDefault("PORT", 0), "listen port (0 = config default)")
	fl.BoolVar(&f.enableCORS, "enable-cors", envBoolDefault("ENABLE_CORS", false), "enable CORS middleware")
	fl.IntVar(&f.maxQueueSize, "max-queue-size", envIntDefault("MAX_QUEUE_SIZE", 0), "bounded admission queue capacity (0 = config default)")
	fl.BoolVar(&f.enableRateLimit, "enable-rate-limit", envBoolDefault("ENABLE_RATE_LIMIT", false), "enable per-client rate limiting")
	fl.IntVar(&f.rateLimitMax, "rate-limit-max", envIntDefault("RATE_LIMIT_MAX", 60), "requests allowed per rate-limit window")
	fl.IntVar(&f.rateLimitWindow, "rate-limit-window", envIntDefault("RATE_LIMIT_WINDOW", 0), "rate-limit window in seconds (0 = config default)")
	fl.StringVar(&f.logLevel, "log-level", envDefault("LOG_LEVEL", ""), "zerolog level: debug|info|warn|error (empty = config default)")
	fl.StringVar(&f.drainPolicy, "drain-policy", envDefault("DRAIN_POLICY", string(engine.DrainFailFast)), "shutdown policy: fail-fast|drain")
	fl.IntVar(&f.drainTimeout, "drain-timeout", envIntDefault("DRAIN_TIMEOUT", 30), "seconds to wait for drain policy before forcing shutdown")
	fl.IntVar(&f.threads, "threads", envIntDefault("THREADS", 4), "CPU decode threads for the native backend")
	return cmd
}

func newModelsCmd() *cobra.Command {
	var modelsDir string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List GGUF models discovered under the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelsDir == "" {
				modelsDir = config.Resolve(config.Config{}).ModelsDir
			}
			files, err := registry.List(modelsDir)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modelsDir, "models-dir", os.Getenv("MODELS_DIR"), "directory to scan for *.gguf files")
	return cmd
}

func runServe(f *serveFlags) error {
	fileCfg, err := config.LoadFile(f.configFile)
	if err != nil {
		return err
	}
	cfg := config.Resolve(config.FromEnv(overlayFlags(fileCfg, f)))

	logger := newLogger(cfg.LogLevel)
	httpapi.SetLogger(logger)

	adapter, backendAvailable := selectBackend(f.threads)

	eng := engine.New(engine.Config{
		ModelsDir: cfg.ModelsDir,
		Lifecycle: lifecycle.Config{
			ContextSize: cfg.ContextSize,
			BatchSize:   cfg.BatchSize,
			GPULayers:   cfg.GPULayers,
		},
		MaxQueueSize:     cfg.MaxQueueSize,
		EnableRateLimit:  cfg.EnableRateLimit,
		RateLimitMax:     cfg.RateLimitMax,
		RateLimitWindow:  time.Duration(cfg.RateLimitWindow) * time.Second,
		DrainPolicy:      engine.DrainPolicy(f.drainPolicy),
		DrainTimeout:     time.Duration(f.drainTimeout) * time.Second,
		BackendAvailable: backendAvailable,
	}, adapter)

	if cfg.EnableCORS {
		httpapi.SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "OPTIONS"}, []string{"*"})
	}

	if cfg.ModelPath == "" {
		return fmt.Errorf("model_path is required (set MODEL_PATH or --model-path)")
	}
	if err := eng.Start(cfg.ModelPath); err != nil {
		logger.Error().Err(err).Msg("initial model load failed")
		return err
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	httpapi.SetBaseContext(baseCtx)
	defer cancelBase()

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{Addr: addr, Handler: httpapi.NewMux(eng)}

	go func() {
		logger.Info().Str("addr", addr).Bool("backend_available", backendAvailable).Msg("exsaengine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(f.drainTimeout+5)*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("engine shutdown error")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
		return err
	}
	return nil
}

// overlayFlags applies explicitly-set cobra flags onto fileCfg, so
// FromEnv can then apply the environment on top with the same precedence
// spec §10 documents: file seeds defaults, environment overrides, and
// here flags overlay the file before the environment gets its turn (a
// flag left at its env-seeded default changes nothing FromEnv wouldn't
// already have set).
func overlayFlags(fileCfg config.Config, f *serveFlags) config.Config {
	cfg := fileCfg
	if f.modelPath != "" {
		cfg.ModelPath = f.modelPath
	}
	if f.modelsDir != "" {
		cfg.ModelsDir = f.modelsDir
	}
	if f.gpuLayers != 0 {
		cfg.GPULayers = f.gpuLayers
	}
	if f.contextSize != 0 {
		cfg.ContextSize = f.contextSize
	}
	if f.batchSize != 0 {
		cfg.BatchSize = f.batchSize
	}
	if f.host != "" {
		cfg.Host = f.host
	}
	if f.port != 0 {
		cfg.Port = f.port
	}
	cfg.EnableCORS = cfg.EnableCORS || f.enableCORS
	if f.maxQueueSize != 0 {
		cfg.MaxQueueSize = f.maxQueueSize
	}
	cfg.EnableRateLimit = cfg.EnableRateLimit || f.enableRateLimit
	if f.rateLimitMax != 0 {
		cfg.RateLimitMax = f.rateLimitMax
	}
	if f.rateLimitWindow != 0 {
		cfg.RateLimitWindow = f.rateLimitWindow
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
