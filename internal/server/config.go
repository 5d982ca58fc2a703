package server

import (
	"os"
	"time"
)

// Config holds server configuration
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string
	ConfigPath  string
	// CacheTTL bounds how long /reports/latest can lag behind a report
	// written by another process, such as the scheduler or another
	// replica. Runs triggered through this server are visible at once.
	// 0 disables the cache.
	CacheTTL    time.Duration
}

const defaultCacheTTL = 5 * time.Second

// LoadConfig reads environment variables and returns a Config. PORT is
// honoured for platforms that inject it.
func LoadConfig() *Config {
	httpAddr := getEnv("IP_HTTP_ADDR", "")
	if httpAddr == "" {
		httpAddr = ":" + getEnv("PORT", "8080")
	}
	ttl, err := time.ParseDuration(getEnv("IP_CACHE_TTL", defaultCacheTTL.String()))
	if err != nil || ttl < 0 {
		ttl = defaultCacheTTL
	}
	return &Config{
		HTTPAddr:    httpAddr,
		MetricsAddr: getEnv("IP_METRICS_ADDR", ":9090"),
		GRPCAddr:    getEnv("IP_GRPC_ADDR", ":9091"),
		ConfigPath:  getEnv("IP_CONFIG", ""),
		CacheTTL:    ttl,
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
