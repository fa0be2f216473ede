package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Registration policies.
const (
	// PolicyVerifyFirst creates accounts inactive; verifying the email activates them.
	PolicyVerifyFirst = "verify_first"
	// PolicyActive creates accounts active; verification only sets the verified flag.
	PolicyActive = "active"
)

// MinBcryptCost is the lowest work factor accepted for password hashing.
const MinBcryptCost = 10

// ErrMissingSecret is returned by Validate when no token signing secret is configured.
var ErrMissingSecret = errors.New("config: JWT_SECRET (or SECRET_KEY) must be set")

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Email    EmailConfig    `mapstructure:"email"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Debug exposes internal error details in 500 responses.
	Debug        bool          `mapstructure:"debug"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
	// MaxRetries bounds reconnect attempts for transient connectivity errors.
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// DSN returns the PostgreSQL connection string. DATABASE_URL wins over discrete fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Password     PasswordConfig     `mapstructure:"password"`
	Tokens       TokenConfig        `mapstructure:"tokens"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// PasswordConfig holds password hashing configuration
type PasswordConfig struct {
	MinLength  int `mapstructure:"min_length"`
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

// TokenConfig holds JWT token configuration
type TokenConfig struct {
	Secret               string        `mapstructure:"secret"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `mapstructure:"refresh_token_ttl"`
	PasswordResetTTL     time.Duration `mapstructure:"password_reset_ttl"`
	EmailVerificationTTL time.Duration `mapstructure:"email_verification_ttl"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "memory" or "redis".
	Backend       string        `mapstructure:"backend"`
	Window        time.Duration `mapstructure:"window"`
	PerMinute     int           `mapstructure:"per_minute"`
	Login         int           `mapstructure:"login"`
	Register      int           `mapstructure:"register"`
	PasswordReset int           `mapstructure:"password_reset"`
	VerifyEmail   int           `mapstructure:"verify_email"`
}

// AuthConfig holds account lifecycle settings
type AuthConfig struct {
	RegistrationPolicy string `mapstructure:"registration_policy"`
	// ResetRequestsPerHour caps live reset tokens issued per user per hour.
	ResetRequestsPerHour int           `mapstructure:"reset_requests_per_hour"`
	ResendCooldown       time.Duration `mapstructure:"resend_cooldown"`
	// FrontendURL is the base for links placed in emails.
	FrontendURL string `mapstructure:"frontend_url"`
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	Async         bool          `mapstructure:"async"`
	BufferSize    int           `mapstructure:"buffer_size"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// EmailConfig holds email sending configuration
type EmailConfig struct {
	// Provider is "log" or "gmail".
	Provider  string           `mapstructure:"provider"`
	AppName   string           `mapstructure:"app_name"`
	// QueueSize buffers outgoing mail for a background worker. Zero sends inline.
	QueueSize int              `mapstructure:"queue_size"`
	Gmail     GmailEmailConfig `mapstructure:"gmail"`
}

// GmailEmailConfig holds Gmail API configuration
type GmailEmailConfig struct {
	CredentialsJSON string `mapstructure:"credentials_json"`
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	RefreshToken    string `mapstructure:"refresh_token"`
	SenderAddress   string `mapstructure:"sender_address"`
	SenderName      string `mapstructure:"sender_name"`
}

// Load reads configuration from .env, an optional config file and environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/cvforge")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("CVAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyLegacyUnits(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindLegacyEnv maps the deployment's historical variable names onto config keys.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"security.tokens.secret":              {"CVAUTH_SECURITY_TOKENS_SECRET", "JWT_SECRET", "SECRET_KEY"},
		"database.url":                        {"CVAUTH_DATABASE_URL", "DATABASE_URL"},
		"security.rate_limiting.per_minute":   {"CVAUTH_SECURITY_RATE_LIMITING_PER_MINUTE", "RATE_LIMIT_PER_MINUTE"},
		"server.debug":                        {"CVAUTH_SERVER_DEBUG", "DEBUG"},
		"legacy.access_token_expire_minutes":  {"ACCESS_TOKEN_EXPIRE_MINUTES"},
		"legacy.refresh_token_expire_days":    {"REFRESH_TOKEN_EXPIRE_DAYS"},
		"legacy.cors_origins":                 {"CORS_ORIGINS"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

func applyLegacyUnits(v *viper.Viper, cfg *Config) {
	if m := v.GetInt("legacy.access_token_expire_minutes"); m > 0 {
		cfg.Security.Tokens.AccessTokenTTL = time.Duration(m) * time.Minute
	}
	if d := v.GetInt("legacy.refresh_token_expire_days"); d > 0 {
		cfg.Security.Tokens.RefreshTokenTTL = time.Duration(d) * 24 * time.Hour
	}
	if raw := v.GetString("legacy.cors_origins"); raw != "" {
		cfg.Server.CORSOrigins = splitList(raw)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks invariants that would make the service unsafe to start.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Security.Tokens.Secret) == "" {
		return ErrMissingSecret
	}
	if c.Security.Password.BcryptCost < MinBcryptCost {
		c.Security.Password.BcryptCost = MinBcryptCost
	}
	switch c.Auth.RegistrationPolicy {
	case PolicyVerifyFirst, PolicyActive:
	default:
		return fmt.Errorf("config: unknown registration policy %q", c.Auth.RegistrationPolicy)
	}
	switch c.Security.RateLimiting.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown rate limit backend %q", c.Security.RateLimiting.Backend)
	}
	if c.Security.RateLimiting.Backend == "redis" && !c.Redis.Enabled {
		return errors.New("config: redis rate limit backend requires redis.enabled")
	}
	return nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "cvforge")
	v.SetDefault("database.user", "cvforge")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_retries", 3)
	v.SetDefault("database.retry_backoff", "50ms")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("security.password.min_length", 8)
	v.SetDefault("security.password.bcrypt_cost", 12)

	v.SetDefault("security.tokens.secret", "")
	v.SetDefault("security.tokens.access_token_ttl", "30m")
	v.SetDefault("security.tokens.refresh_token_ttl", "168h")
	v.SetDefault("security.tokens.password_reset_ttl", "1h")
	v.SetDefault("security.tokens.email_verification_ttl", "24h")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.backend", "memory")
	v.SetDefault("security.rate_limiting.window", "1m")
	v.SetDefault("security.rate_limiting.per_minute", 60)
	v.SetDefault("security.rate_limiting.login", 5)
	v.SetDefault("security.rate_limiting.register", 5)
	v.SetDefault("security.rate_limiting.password_reset", 5)
	v.SetDefault("security.rate_limiting.verify_email", 10)

	v.SetDefault("auth.registration_policy", PolicyVerifyFirst)
	v.SetDefault("auth.reset_requests_per_hour", 3)
	v.SetDefault("auth.resend_cooldown", "60s")
	v.SetDefault("auth.frontend_url", "http://localhost:3000")

	v.SetDefault("audit.async", true)
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.retention", "2160h")
	v.SetDefault("audit.sweep_interval", "1h")

	v.SetDefault("email.provider", "log")
	v.SetDefault("email.app_name", "CVForge")
	v.SetDefault("email.queue_size", 256)
	v.SetDefault("email.gmail.sender_address", "")
	v.SetDefault("email.gmail.sender_name", "CVForge")
}
