package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	RedisAddr string
	RedisURL  string

	// Worker pool
	WorkerCount   int
	MaxConcurrent int
	MaxRetries    int

	// Downloader
	YtDlpPath   string
	DownloadDir string

	// Cancellation grace period before a forced kill
	CancelGracePeriod time.Duration
	// How long a worker blocks waiting for the next job
	DequeueTimeout time.Duration

	LogLevel string
}

func Load() *Config {
	workerCount, _ := strconv.Atoi(getEnvOrDefault("WORKER_COUNT", "3"))
	if workerCount <= 0 {
		workerCount = 3
	}

	maxConcurrent, _ := strconv.Atoi(getEnvOrDefault("MAX_CONCURRENT_DOWNLOADS", "10"))
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	maxRetries, _ := strconv.Atoi(getEnvOrDefault("MAX_RETRIES", "3"))
	if maxRetries <= 0 {
		maxRetries = 3
	}

	grace := getDurationOrDefault("CANCEL_GRACE_PERIOD", 10*time.Second)
	dequeueTimeout := getDurationOrDefault("DEQUEUE_TIMEOUT", 5*time.Second)

	return &Config{
		RedisAddr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		WorkerCount:       workerCount,
		MaxConcurrent:     maxConcurrent,
		MaxRetries:        maxRetries,
		YtDlpPath:         getEnvOrDefault("YT_DLP_PATH", "yt-dlp"),
		DownloadDir:       getEnvOrDefault("DOWNLOAD_DIR", "downloads"),
		CancelGracePeriod: grace,
		DequeueTimeout:    dequeueTimeout,
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
