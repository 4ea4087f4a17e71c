package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	Banana  BananaConfig
	Signing SigningConfig
	Cache   CacheConfig
	Gateway GatewayConfig
}

// BananaConfig describes how to reach the inference backend.
type BananaConfig struct {
	APIURL      string
	APIKey      string
	ModelKey    string
	Timeout     time.Duration
	MaxAttempts int
	RPS         float64
	Burst       int
}

type SigningConfig struct {
	Key string
}

type CacheConfig struct {
	Bucket      string
	PostgresDSN string
	Dir         string
	HotEntries  int
	S3          S3Config
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type GatewayConfig struct {
	// AuthHeader is the exact Authorization value required; empty disables
	// the check.
	AuthHeader    string
	RootPath      string
	WatchInterval time.Duration
}

// CanUseS3 reports whether an S3 cache backend can be built.
func (c CacheConfig) CanUseS3() bool {
	return strings.TrimSpace(c.Bucket) != "" && strings.TrimSpace(c.S3.Endpoint) != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8081", "server port")
	if !flag.Parsed() {
		flag.Parse()
	}
	return load(*port)
}

func load(port string) (*Config, error) {
	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			port = envPort
		} else {
			port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	cfg := &Config{
		Port:      port,
		Env:       env,
		LogLevel:  firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
		LogFormat: firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "text"),
		Banana: BananaConfig{
			APIURL:      strings.TrimSpace(os.Getenv("BANANA_API_URL")),
			APIKey:      strings.TrimSpace(os.Getenv("BANANA_API_KEY")),
			ModelKey:    strings.TrimSpace(os.Getenv("BANANA_MODEL_KEY")),
			Timeout:     time.Duration(envInt("BANANA_TIMEOUT_SECONDS", 900)) * time.Second,
			MaxAttempts: envInt("BANANA_MAX_ATTEMPTS", 8),
			RPS:         envFloat("BANANA_RPS", 0),
			Burst:       envInt("BANANA_BURST", 0),
		},
		Signing: SigningConfig{
			Key: os.Getenv("DIFFGRID_SIGNING_KEY"),
		},
		Cache: loadCacheConfig(env),
		Gateway: GatewayConfig{
			AuthHeader:    os.Getenv("DIFFGRID_AUTH_HEADER"),
			RootPath:      normalizeRootPath(envOr("DIFFGRID_ROOT_PATH", "/api")),
			WatchInterval: time.Duration(envInt("DIFFGRID_WATCH_INTERVAL_SECONDS", 5)) * time.Second,
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultS3Endpoint = "s3.amazonaws.com"

func loadCacheConfig(env string) CacheConfig {
	local := strings.EqualFold(env, "local")
	bucket := strings.TrimSpace(os.Getenv("DIFFGRID_CACHE_BUCKET"))
	endpoint := strings.TrimSpace(os.Getenv("CACHE_S3_ENDPOINT"))
	switch {
	case endpoint != "":
	case local:
		endpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("CACHE_MINIO_ENDPOINT")), "minio:9000")
	case bucket != "":
		endpoint = defaultS3Endpoint
	}
	return CacheConfig{
		Bucket:      bucket,
		PostgresDSN: strings.TrimSpace(os.Getenv("DIFFGRID_CACHE_PG_DSN")),
		Dir:         strings.TrimSpace(os.Getenv("DIFFGRID_CACHE_DIR")),
		HotEntries:  envInt("DIFFGRID_HOT_CACHE_ENTRIES", 512),
		S3: S3Config{
			Endpoint:  endpoint,
			Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("CACHE_S3_REGION")), "us-east-1"),
			AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("CACHE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
			SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("CACHE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
			UseSSL:    resolveUseSSL(local),
		},
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Banana.APIURL == "" {
		errs = append(errs, fmt.Errorf("BANANA_API_URL is required"))
	} else if u, err := url.Parse(c.Banana.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("BANANA_API_URL must be an http(s) url"))
	}
	if c.Banana.APIKey == "" {
		errs = append(errs, fmt.Errorf("BANANA_API_KEY is required"))
	}
	if c.Banana.ModelKey == "" {
		errs = append(errs, fmt.Errorf("BANANA_MODEL_KEY is required"))
	}
	if c.Signing.Key == "" {
		errs = append(errs, fmt.Errorf("DIFFGRID_SIGNING_KEY is required"))
	}
	if c.Cache.PostgresDSN == "" && c.Cache.Bucket == "" && c.Cache.Dir == "" && !strings.EqualFold(c.Env, "local") {
		errs = append(errs, fmt.Errorf("one of DIFFGRID_CACHE_BUCKET, DIFFGRID_CACHE_PG_DSN or DIFFGRID_CACHE_DIR is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func normalizeRootPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	return "/" + strings.Trim(p, "/")
}

func resolveUseSSL(local bool) bool {
	if local {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("CACHE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
