package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment.
type Config struct {
	HTTPAddr       string
	StoreBackend   string
	RedisAddr      string
	ObjectPrefix   string
	ResultTTL      time.Duration
	FileStoreDir   string
	ScratchDir     string
	ModelPath      string
	Backend        string
	DelegateURL    string
	GRPCAddr       string
	GRPCListenAddr string
	Workers        int
	QueueSize      int
	JobTimeout     time.Duration
	DatabaseDSN    string
	MaxUploadBytes int64
	GinMode        string
	LogLevel       string
	CORSOrigin     string
}

// loadConfig reads optional .env files and then the environment. Missing env
// files are not an error.
func loadConfig() (Config, error) {
	for _, file := range []string{".env", ".env.local"} {
		_ = godotenv.Load(file)
	}

	cfg := Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", "redis")),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		ObjectPrefix:   getEnv("OBJECT_PREFIX", "images"),
		FileStoreDir:   getEnv("FILE_STORE_DIR", "data/objects"),
		ScratchDir:     getEnv("SCRATCH_DIR", os.TempDir()),
		ModelPath:      getEnv("MODEL_PATH", "model/cifar100.json"),
		Backend:        strings.ToLower(getEnv("PROCESSING_BACKEND", "local")),
		DelegateURL:    os.Getenv("DELEGATE_URL"),
		GRPCAddr:       getEnv("GRPC_ADDR", "classifier:50051"),
		GRPCListenAddr: os.Getenv("GRPC_LISTEN_ADDR"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		GinMode:        getEnv("GIN_MODE", "release"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		CORSOrigin:     getEnv("CORS_ORIGIN", "*"),
	}

	var err error
	if cfg.ResultTTL, err = getEnvDuration("RESULT_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.JobTimeout, err = getEnvDuration("JOB_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = getEnvInt("WORKER_COUNT", 4); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = getEnvInt("QUEUE_SIZE", 64); err != nil {
		return Config{}, err
	}
	maxUpload, err := getEnvInt("MAX_UPLOAD_BYTES", 16<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case "redis", "file", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND: unknown store %q", c.StoreBackend)
	}
	switch c.Backend {
	case "local", "grpc":
	case "http":
		if c.DelegateURL == "" {
			return fmt.Errorf("DELEGATE_URL is required when PROCESSING_BACKEND=http")
		}
	default:
		return fmt.Errorf("PROCESSING_BACKEND: unknown backend %q", c.Backend)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("QUEUE_SIZE must not be negative, got %d", c.QueueSize)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}
