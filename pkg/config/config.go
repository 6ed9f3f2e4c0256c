package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	RedisAddr     string
	RedisDB       int
	RedisPassword string
	ListenAddr    string
	MetricsListen string

	TickInterval   time.Duration
	CollectTimeout time.Duration
	SampleTTL      time.Duration

	// WorkerBackend selects the isolation runtime: fake, docker, or wasm.
	WorkerBackend string
	DockerSocket  string
	DockerImage   string
	WasmModule    string

	RuleProfilePath string
	LogLevel        string
}

func Load() *Config {
	return &Config{
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisDB:         GetEnvInt("REDIS_DB", 0),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		MetricsListen:   getEnv("METRICS_LISTEN", ":9464"),
		TickInterval:    GetEnvDuration("TICK_INTERVAL", 30*time.Second),
		CollectTimeout:  GetEnvDuration("COLLECT_TIMEOUT", 5*time.Second),
		SampleTTL:       GetEnvDuration("SAMPLE_TTL", 5*time.Minute),
		WorkerBackend:   getEnv("WORKER_BACKEND", "fake"),
		DockerSocket:    getEnv("DOCKER_SOCKET", "/var/run/docker.sock"),
		DockerImage:     getEnv("DOCKER_IMAGE", "alpine:3.20"),
		WasmModule:      getEnv("WASM_MODULE", ""),
		RuleProfilePath: getEnv("RULE_PROFILE", ""),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
