package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	MailerSMTP     = "smtp"
	MailerRabbitMQ = "rabbitmq"
	MailerPubSub   = "pubsub"

	devSessionSecret = "dev-session-secret-change-me"
)

type Config struct {
	Env           string
	ServerPort    int
	ClientURL     string
	StoreDriver   string
	ResetTokenTTL time.Duration
	Mongo         MongoConfig
	Database      DatabaseConfig
	Session       SessionConfig
	CSRF          CSRFConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	SMTP          SMTPConfig
	Mailer        MailerConfig
	RabbitMQ      RabbitMQConfig
	PubSub        PubSubConfig
}

type MongoConfig struct {
	URI      string
	Database string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type SessionConfig struct {
	Secret     string
	TTL        time.Duration
	CookieName string
}

type CSRFConfig struct {
	CookieName string
}

type RateLimitConfig struct {
	Window         time.Duration
	Max            int
	Store          string
	TrustProxy     bool
	TrustedProxies []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type MailerConfig struct {
	Driver string
	Queue  string
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

// LoadConfig reads the process environment, loading .env first in dev.
func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}
	return fromEnv()
}

// LoadConfigFile overlays the given dotenv file on the environment before reading it.
// Variables already present in the environment win.
func LoadConfigFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		return Config{}, fmt.Errorf("load env file %s: %w", path, err)
	}
	return fromEnv(), nil
}

func fromEnv() Config {
	env := strings.ToLower(getEnv("ENV", EnvDevelopment))
	if env == "dev" {
		env = EnvDevelopment
	}

	return Config{
		Env:           env,
		ServerPort:    getEnvInt("SERVER_PORT", 5000),
		ClientURL:     strings.TrimRight(getEnv("CLIENT_URL", "http://localhost:3000"), "/"),
		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreMongo)),
		ResetTokenTTL: getEnvDuration("RESET_TOKEN_TTL", 10*time.Minute),
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DB", "authgate"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "authgate"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "authgate"),
			UseSSL:   getEnvBool("DB_SSL", false),
		},
		Session: SessionConfig{
			Secret:     getEnv("SESSION_SECRET", ""),
			TTL:        getEnvDuration("SESSION_TTL", 24*time.Hour),
			CookieName: getEnv("SESSION_COOKIE", "token"),
		},
		CSRF: CSRFConfig{
			CookieName: getEnv("CSRF_COOKIE", "_csrf"),
		},
		RateLimit: RateLimitConfig{
			Window:     getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			Max:        getEnvInt("RATE_LIMIT_MAX", 100),
			Store:      strings.ToLower(getEnv("RATE_LIMIT_STORE", StoreMemory)),
			TrustProxy: getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{
				"127.0.0.1/32",
				"::1/128",
				"10.0.0.0/8",
				"172.16.0.0/12",
				"192.168.0.0/16",
				"fc00::/7",
			}),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("EMAIL_FROM", "no-reply@localhost"),
		},
		Mailer: MailerConfig{
			Driver: strings.ToLower(getEnv("MAILER_DRIVER", MailerSMTP)),
			Queue:  getEnv("MAIL_QUEUE", "authgate.mail"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}
}

// IsProduction reports whether production-only protections apply.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// SessionSecret returns the configured signing key, falling back to a fixed
// key outside production.
func (c Config) SessionSecret() string {
	if c.Session.Secret == "" && !c.IsProduction() {
		return devSessionSecret
	}
	return c.Session.Secret
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.IsProduction() && strings.TrimSpace(c.Session.Secret) == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required in production"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("RESET_TOKEN_TTL must be positive"))
	}

	switch c.StoreDriver {
	case StoreMongo, StorePostgres, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.RateLimit.Store {
	case StoreMemory, StoreMongo:
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_STORE %q", c.RateLimit.Store))
	}
	switch c.Mailer.Driver {
	case MailerSMTP:
		if c.IsProduction() && strings.TrimSpace(c.SMTP.Host) == "" {
			errs = append(errs, errors.New("SMTP_HOST is required in production"))
		}
	case MailerRabbitMQ, MailerPubSub:
	default:
		errs = append(errs, fmt.Errorf("unknown MAILER_DRIVER %q", c.Mailer.Driver))
	}

	// Credentialed CORS cannot use a wildcard.
	for _, origin := range c.CORS.AllowedOrigins {
		if strings.Contains(origin, "*") {
			errs = append(errs, fmt.Errorf("CORS_ORIGINS entry %q must be an exact origin", origin))
		}
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.Atoi(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	valueStr = strings.TrimSpace(valueStr)
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			values = append(values, v)
		}
	}
	return values
}
