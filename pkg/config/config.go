package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	// 无服务器运行时可能没有系统时区数据库
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string
	LogLevel    string

	// 后端配置
	UseLocalDB  bool
	DataDir     string
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string

	// 存储配置
	// PublicURL is the externally reachable base URL, used for media links
	// when the file object store is active.
	PublicURL      string
	StorageBucket  string
	SignedURLTTL   time.Duration
	MaxUploadBytes int64

	// JWT配置 (Postgres / local backends sign their own sessions)
	JWTSecret string

	// LikeAtomicIncrement switches the like counter from read-then-write to a
	// single atomic adjust where the backend supports it.
	LikeAtomicIncrement bool

	// TimeZone is the IANA zone whose calendar day decides which events are
	// ongoing, unless a request names its own zone.
	TimeZone string

	// CORS配置
	AllowedOrigins []string

	// 调试配置
	Debug bool
}

const defaultJWTSecret = "your-secret-key-change-in-production"

// LoadConfig 加载配置（支持本地和Vercel环境）
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// 按优先级加载环境文件; 已存在的环境变量不会被覆盖
	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}
	loadEnvFile(".env")

	config := &Config{
		Environment:         getEnvWithDefault("ENVIRONMENT", "development"),
		Port:                getEnvWithDefault("PORT", "3000"),
		LogLevel:            getEnvWithDefault("LOG_LEVEL", "info"),
		UseLocalDB:          getEnvBool("USE_LOCAL_DB", true),
		DataDir:             getEnvWithDefault("DATA_DIR", "./data"),
		StorageBucket:       getEnvWithDefault("STORAGE_BUCKET", "profile-pictures"),
		SignedURLTTL:        getEnvDuration("SIGNED_URL_TTL", time.Hour),
		MaxUploadBytes:      getEnvInt64("MAX_UPLOAD_BYTES", 5<<20),
		JWTSecret:           getEnvWithDefault("JWT_SECRET", defaultJWTSecret),
		LikeAtomicIncrement: getEnvBool("LIKE_ATOMIC_INCREMENT", false),
		TimeZone:            getEnvWithDefault("TIMEZONE", "UTC"),
		Debug:               getEnvBool("DEBUG", false),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	config.SupabaseURL = strings.TrimSpace(os.Getenv("SUPABASE_URL"))
	config.SupabaseKey = strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY"))

	config.PublicURL = strings.TrimRight(getEnvWithDefault("PUBLIC_URL", "http://localhost:"+config.Port), "/")

	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	// 配置了外部后端时不再使用本地文件后端
	if config.PostgresDSN != "" || (config.SupabaseURL != "" && config.SupabaseKey != "") {
		config.UseLocalDB = false
	}

	if config.Environment == "production" {
		if config.UseLocalDB {
			slog.Warn("production environment using local file backend; configure POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
		}
		config.Debug = false
	}

	return config
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
// On serverless (Vercel), it initializes once per cold start and
// reuses it across warm invocations, avoiding per-request parsing.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.Environment == "production" && c.SupabaseURL == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	if c.StorageBucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE is invalid: %w", err)
	}

	switch {
	case c.UseLocalDB:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the local backend")
		}
	case c.PostgresDSN != "":
	case c.SupabaseURL != "" && c.SupabaseKey != "":
	default:
		return fmt.Errorf("backend configuration incomplete: set USE_LOCAL_DB, POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
	}

	return nil
}

// BackendKind names the backend the config selects, in the same precedence NewBackend uses.
func (c *Config) BackendKind() string {
	switch {
	case c.UseLocalDB:
		return "local"
	case c.PostgresDSN != "":
		return "postgresql"
	case c.SupabaseURL != "" && c.SupabaseKey != "":
		return "supabase"
	}
	return "unknown"
}

// Location loads TimeZone; an empty value means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// 辅助函数

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// loadEnvFile 加载 .env 文件到环境变量, 文件不存在时静默返回
func loadEnvFile(filename string) {
	if _, err := os.Stat(filename); err != nil {
		return
	}
	if err := godotenv.Load(filename); err != nil {
		slog.Warn("failed to load env file", "file", filename, "error", err)
	}
}
