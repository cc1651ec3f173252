// Package config loads runtime configuration from the environment, in the
// teacher's style (getEnv/getEnvInt/getEnvDuration helpers with inline
// defaults) rather than a struct-tag binding library.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the engine's tunables (spec §6) plus the ambient HTTP/S3
// settings the teacher's Config carried.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	WorkerConcurrency    int
	QueueCapacity        int
	MaxAttempts          int
	PerAttemptTimeout    time.Duration
	DelayMin             time.Duration
	DelayMax             time.Duration
	ProgressTickInterval time.Duration
	JobTTL               time.Duration
	SweepInterval        time.Duration
	ArtifactURLTTL       time.Duration
	ShutdownGrace        time.Duration
	BackoffBase          time.Duration
	BackoffMax           time.Duration

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Load reads configuration from environment variables with sane defaults
// for local development (spec §6 defaults).
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 4),
		QueueCapacity:        getEnvInt("QUEUE_CAPACITY", 256),
		MaxAttempts:          getEnvInt("MAX_ATTEMPTS", 3),
		PerAttemptTimeout:    getEnvDuration("PER_ATTEMPT_TIMEOUT", 180*time.Second),
		DelayMin:             getEnvDuration("DELAY_MIN", 10*time.Second),
		DelayMax:             getEnvDuration("DELAY_MAX", 120*time.Second),
		ProgressTickInterval: getEnvDuration("PROGRESS_TICK_INTERVAL", 500*time.Millisecond),
		JobTTL:               getEnvDuration("JOB_TTL", time.Hour),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		ArtifactURLTTL:       getEnvDuration("ARTIFACT_URL_TTL", 15*time.Minute),
		ShutdownGrace:        getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),
		BackoffBase:          getEnvDuration("BACKOFF_BASE", time.Second),
		BackoffMax:           getEnvDuration("BACKOFF_MAX", 30*time.Second),

		S3Bucket:    getEnv("S3_BUCKET", "download-artifacts"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3PathStyle: getEnvBool("S3_PATH_STYLE", false),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
