package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
	StoreDriverMemory   = "memory"

	StorageDriverS3         = "s3"
	StorageDriverFilesystem = "filesystem"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string `validate:"required"`
	Port          string `validate:"required,numeric"`
	PublicBaseURL string `validate:"omitempty,url"`

	StoreDriver   string `validate:"oneof=postgres redis memory"`
	DatabaseURL   string `validate:"required_if=StoreDriver postgres"`
	RedisAddr     string `validate:"required_if=StoreDriver redis"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	StorageDriver   string `validate:"oneof=s3 filesystem"`
	S3Bucket        string `validate:"required_if=StorageDriver s3"`
	S3Region        string `validate:"required_if=StorageDriver s3"`
	S3AccessKey     string `validate:"required_if=StorageDriver s3"`
	S3SecretKey     string `validate:"required_if=StorageDriver s3"`
	S3Endpoint      string `validate:"omitempty,url"`
	S3PublicBaseURL string
	StoragePath     string `validate:"required_if=StorageDriver filesystem"`
	BlobSigningKey  string `validate:"required_if=StorageDriver filesystem"`
	SignedURLTTL    time.Duration `validate:"gt=0"`

	FalKey               string
	FalModel             string `validate:"required"`
	FalQueueURL          string `validate:"required,url"`
	FalRequestsPerSecond float64 `validate:"gt=0"`
	FalPollInterval      time.Duration `validate:"gt=0"`
	FalTimeout           time.Duration `validate:"gt=0"`

	RateLimitPerMin   int `validate:"gt=0"`
	RateLimitPerDay   int `validate:"gt=0"`
	GenMaxConcurrency int `validate:"gt=0"`
	GenMaxQueue       int `validate:"gtefield=GenMaxConcurrency"`
	ProcessingTimeout time.Duration `validate:"gt=0"`
	SelfieTTL         time.Duration `validate:"gt=0"`
	SweepInterval     time.Duration `validate:"gt=0"`
	FrameAssetPath    string        `validate:"required,file"`

	AllowedOrigins    []string
	AllowedHosts      []string
	TrustProxyHeaders bool

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := configFromEnv()
	if err := validator.New().Struct(cfg); err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}

// LoadToolConfig is LoadConfig for operator tooling, which never renders
// images and so does not need the frame asset.
func LoadToolConfig() (*Config, error) {
	cfg := configFromEnv()
	if err := validator.New().StructExcept(cfg, "FrameAssetPath"); err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}

func configFromEnv() *Config {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		StorageDriver:   strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverS3)),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3PublicBaseURL: strings.TrimRight(os.Getenv("S3_PUBLIC_BASE_URL"), "/"),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		BlobSigningKey:  os.Getenv("BLOB_SIGNING_KEY"),
		SignedURLTTL:    time.Second * time.Duration(getEnvInt("S3_QR_EXPIRY", 3600)),

		FalKey:               strings.TrimSpace(os.Getenv("FAL_KEY")),
		FalModel:             getEnv("FAL_MODEL", "fal-ai/nano-banana/edit"),
		FalQueueURL:          strings.TrimRight(getEnv("FAL_QUEUE_URL", "https://queue.fal.run"), "/"),
		FalRequestsPerSecond: getEnvFloat("FAL_REQUESTS_PER_SECOND", 2),
		FalPollInterval:      time.Millisecond * time.Duration(getEnvInt("FAL_POLL_INTERVAL_MS", 1000)),
		FalTimeout:           time.Second * time.Duration(getEnvInt("FAL_TIMEOUT_SECONDS", 180)),

		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MIN", 3),
		RateLimitPerDay:   getEnvInt("RATE_LIMIT_PER_DAY", 20),
		GenMaxConcurrency: getEnvInt("GEN_MAX_CONCURRENCY", 5),
		GenMaxQueue:       getEnvInt("GEN_MAX_QUEUE", 50),
		ProcessingTimeout: time.Second * time.Duration(getEnvInt("PROCESSING_TIMEOUT_SECONDS", 600)),
		SelfieTTL:         24 * time.Hour * time.Duration(getEnvInt("SELFIE_TTL_DAYS", 30)),
		SweepInterval:     time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 86400)),
		FrameAssetPath:    getEnv("FRAME_ASSET_PATH", "./assets/frame.png"),

		AllowedOrigins:    getEnvList("ALLOWED_ORIGINS", nil),
		AllowedHosts:      getEnvList("ALLOWED_HOSTS", []string{"*"}),
		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.StorageDriver == StorageDriverS3 && cfg.S3PublicBaseURL == "" && cfg.S3Bucket != "" {
		cfg.S3PublicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.S3Region)
	}
	return cfg
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func configError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid config: %w", err)
	}
	fe := verrs[0]
	name := envNames[fe.Field()]
	if name == "" {
		name = fe.Field()
	}
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("%s is required", name)
	case "file":
		return fmt.Errorf("%s must point to an existing file", name)
	default:
		return fmt.Errorf("%s is invalid (%s)", name, fe.Tag())
	}
}

var envNames = map[string]string{
	"AppEnv":               "APP_ENV",
	"Port":                 "PORT",
	"PublicBaseURL":        "PUBLIC_BASE_URL",
	"StoreDriver":          "STORE_DRIVER",
	"DatabaseURL":          "DATABASE_URL",
	"RedisAddr":            "REDIS_ADDR",
	"RedisDB":              "REDIS_DB",
	"StorageDriver":        "STORAGE_DRIVER",
	"S3Bucket":             "S3_BUCKET",
	"S3Region":             "S3_REGION",
	"S3AccessKey":          "S3_ACCESS_KEY",
	"S3SecretKey":          "S3_SECRET_KEY",
	"S3Endpoint":           "S3_ENDPOINT",
	"StoragePath":          "STORAGE_PATH",
	"BlobSigningKey":       "BLOB_SIGNING_KEY",
	"SignedURLTTL":         "S3_QR_EXPIRY",
	"FalModel":             "FAL_MODEL",
	"FalQueueURL":          "FAL_QUEUE_URL",
	"FalRequestsPerSecond": "FAL_REQUESTS_PER_SECOND",
	"FalPollInterval":      "FAL_POLL_INTERVAL_MS",
	"FalTimeout":           "FAL_TIMEOUT_SECONDS",
	"RateLimitPerMin":      "RATE_LIMIT_PER_MIN",
	"RateLimitPerDay":      "RATE_LIMIT_PER_DAY",
	"GenMaxConcurrency":    "GEN_MAX_CONCURRENCY",
	"GenMaxQueue":          "GEN_MAX_QUEUE",
	"ProcessingTimeout":    "PROCESSING_TIMEOUT_SECONDS",
	"SelfieTTL":            "SELFIE_TTL_DAYS",
	"SweepInterval":        "SWEEP_INTERVAL_SECONDS",
	"FrameAssetPath":       "FRAME_ASSET_PATH",
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
