package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var identifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Config holds all environment-based configuration for the auth service.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"APP_ENV" envDefault:"development"`

	// Credential store. DATABASE_NAME is informational; the database is
	// selected by DATABASE_URL. COLLECTION_NAME is the credential table.
	DatabaseURL         string        `env:"DATABASE_URL"`
	DatabaseName        string        `env:"DATABASE_NAME" envDefault:"supply_chain_ai"`
	CollectionName      string        `env:"COLLECTION_NAME" envDefault:"users"`
	DBMaxOpenConns      int           `env:"DB_MAX_OPEN_CONNS" envDefault:"50"`
	DBMaxIdleConns      int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxIdleTime   time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"30s"`
	DBConnMaxLifetime   time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	RunMigrations       bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	DatabasePingTimeout time.Duration `env:"DB_PING_TIMEOUT" envDefault:"5s"`

	// Tokens
	JWTSecret          string `env:"JWT_SECRET"`
	JWTAlgorithm       string `env:"JWT_ALGORITHM" envDefault:"HS256"`
	JWTExpiresInHours  int    `env:"JWT_EXPIRES_IN_HOURS" envDefault:"24"`
	BcryptCost         int    `env:"BCRYPT_COST" envDefault:"10"`
	SecurityFailPolicy string `env:"SECURITY_FAILURE_POLICY" envDefault:"open"`

	// Fast cache. When disabled or unreachable the in-process fallbacks
	// are used for the life of the process.
	CacheEnabled      bool          `env:"CACHE_ENABLED" envDefault:"true"`
	RedisHost         string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort         int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0"`
	RedisDialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"2s"`
	RedisReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"1s"`
	RedisWriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"1s"`

	// Abuse mitigation
	LoginRateLimitMax           int           `env:"LOGIN_RATE_LIMIT_MAX" envDefault:"5"`
	LoginRateLimitWindowSeconds int           `env:"LOGIN_RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	LoginMaxFailures            int           `env:"LOGIN_MAX_FAILURES" envDefault:"5"`
	LoginFailureWindowSeconds   int           `env:"LOGIN_FAILURE_WINDOW_SECONDS" envDefault:"900"`
	RateLimitMaxTracked         int           `env:"RATE_LIMIT_MAX_TRACKED" envDefault:"10000"`
	FallbackSweepInterval       time.Duration `env:"FALLBACK_SWEEP_INTERVAL" envDefault:"5m"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"`

	SentryDSN  string `env:"SENTRY_DSN"`
	CronSecret string `env:"CRON_SECRET"`

	// Optional account seeded on startup.
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	AdminName     string `env:"ADMIN_NAME" envDefault:"Administrator"`
}

// Load reads configuration from environment variables. When loadDotEnv is
// set, a .env file in the working directory is applied first.
func Load(loadDotEnv bool) (*Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) normalize() {
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	c.JWTAlgorithm = strings.ToUpper(strings.TrimSpace(c.JWTAlgorithm))
	c.CollectionName = strings.ToLower(strings.TrimSpace(c.CollectionName))
	c.SecurityFailPolicy = strings.ToLower(strings.TrimSpace(c.SecurityFailPolicy))
	c.AdminEmail = strings.ToLower(strings.TrimSpace(c.AdminEmail))
	c.CronSecret = strings.TrimSpace(c.CronSecret)

	origins := make([]string, 0, len(c.CORSAllowedOrigins))
	for _, origin := range c.CORSAllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.CORSAllowedOrigins = origins
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("JWT_ALGORITHM %q is not supported, use HS256, HS384 or HS512", c.JWTAlgorithm)
	}

	if c.JWTExpiresInHours <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN_HOURS must be positive")
	}
	if !identifierRegex.MatchString(c.CollectionName) {
		return fmt.Errorf("COLLECTION_NAME %q is not a valid table name", c.CollectionName)
	}

	switch c.SecurityFailPolicy {
	case "open", "closed":
	default:
		return fmt.Errorf("SECURITY_FAILURE_POLICY must be \"open\" or \"closed\", got %q", c.SecurityFailPolicy)
	}

	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("REDIS_PORT %d is out of range", c.RedisPort)
	}
	if c.LoginRateLimitMax <= 0 || c.LoginRateLimitWindowSeconds <= 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_MAX and LOGIN_RATE_LIMIT_WINDOW_SECONDS must be positive")
	}
	if c.LoginMaxFailures <= 0 || c.LoginFailureWindowSeconds <= 0 {
		return fmt.Errorf("LOGIN_MAX_FAILURES and LOGIN_FAILURE_WINDOW_SECONDS must be positive")
	}

	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	return nil
}

// RedisAddr returns the host:port of the fast cache.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpiresInHours) * time.Hour
}

func (c *Config) LoginRateLimitWindow() time.Duration {
	return time.Duration(c.LoginRateLimitWindowSeconds) * time.Second
}

func (c *Config) LoginFailureWindow() time.Duration {
	return time.Duration(c.LoginFailureWindowSeconds) * time.Second
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
