package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server        ServerConfig
	OIDC          OIDCConfig
	API           APIConfig
	Session       SessionConfig
	MongoDB       MongoDBConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Notifications NotificationsConfig
	Prefs         PrefsConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	PublicURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OIDCConfig describes the identity provider (Cognito user pool app client).
type OIDCConfig struct {
	Authority     string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	Scopes        []string
	CognitoDomain string
	LogoutURI     string
	AllowInsecure bool
}

type APIConfig struct {
	BaseURL         string
	Timeout         time.Duration
	DiagnosticName  string
	DiagnosticValue string
}

type SessionConfig struct {
	Store        string // redis | mongo | memory
	Secret       string
	CookieName   string
	CookieSecure bool
	TTL          time.Duration
	RenewSkew    time.Duration
	RenewWait    time.Duration
	StateTTL     time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type NotificationsConfig struct {
	PollInterval time.Duration
}

type PrefsConfig struct {
	RecommendationsSnooze time.Duration
}

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("OIDC_SCOPES", "openid email profile")
	viper.SetDefault("API_TIMEOUT", 15)
	viper.SetDefault("API_DIAGNOSTIC_HEADER", "X-Client-App")
	viper.SetDefault("API_DIAGNOSTIC_VALUE", "campus-portal-web")
	viper.SetDefault("SESSION_STORE", "redis")
	viper.SetDefault("SESSION_COOKIE_NAME", "portal_session")
	viper.SetDefault("SESSION_TTL", 720)
	viper.SetDefault("SESSION_RENEW_SKEW", 60)
	viper.SetDefault("SESSION_RENEW_WAIT_MS", 2000)
	viper.SetDefault("SESSION_STATE_TTL", 10)
	viper.SetDefault("MONGODB_DATABASE", "portal")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("RATE_LIMIT_RPS", 20)
	viper.SetDefault("RATE_LIMIT_BURST", 40)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	viper.SetDefault("NOTIFICATIONS_POLL_INTERVAL", 30)
	viper.SetDefault("RECOMMENDATIONS_SNOOZE_HOURS", 24)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			PublicURL:    strings.TrimRight(viper.GetString("PUBLIC_URL"), "/"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // notification streams stay open
		},
		OIDC: OIDCConfig{
			Authority:     strings.TrimRight(viper.GetString("OIDC_AUTHORITY"), "/"),
			ClientID:      viper.GetString("OIDC_CLIENT_ID"),
			ClientSecret:  os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURI:   viper.GetString("OIDC_REDIRECT_URI"),
			Scopes:        strings.Fields(viper.GetString("OIDC_SCOPES")),
			CognitoDomain: strings.TrimRight(viper.GetString("COGNITO_DOMAIN"), "/"),
			LogoutURI:     viper.GetString("OIDC_LOGOUT_URI"),
			AllowInsecure: strings.EqualFold(strings.TrimSpace(viper.GetString("ALLOW_INSECURE_TOKEN")), "true"),
		},
		API: APIConfig{
			BaseURL:         strings.TrimRight(viper.GetString("API_BASE_URL"), "/"),
			Timeout:         time.Duration(viper.GetInt("API_TIMEOUT")) * time.Second,
			DiagnosticName:  viper.GetString("API_DIAGNOSTIC_HEADER"),
			DiagnosticValue: viper.GetString("API_DIAGNOSTIC_VALUE"),
		},
		Session: SessionConfig{
			Store:        strings.ToLower(viper.GetString("SESSION_STORE")),
			Secret:       os.Getenv("SESSION_SECRET"),
			CookieName:   viper.GetString("SESSION_COOKIE_NAME"),
			CookieSecure: viper.GetBool("SESSION_COOKIE_SECURE"),
			TTL:          time.Duration(viper.GetInt("SESSION_TTL")) * time.Minute,
			RenewSkew:    time.Duration(viper.GetInt("SESSION_RENEW_SKEW")) * time.Second,
			RenewWait:    time.Duration(viper.GetInt("SESSION_RENEW_WAIT_MS")) * time.Millisecond,
			StateTTL:     time.Duration(viper.GetInt("SESSION_STATE_TTL")) * time.Minute,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Notifications: NotificationsConfig{
			PollInterval: time.Duration(viper.GetInt("NOTIFICATIONS_POLL_INTERVAL")) * time.Second,
		},
		Prefs: PrefsConfig{
			RecommendationsSnooze: time.Duration(viper.GetInt("RECOMMENDATIONS_SNOOZE_HOURS")) * time.Hour,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	switch {
	case c.OIDC.Authority == "":
		return errors.New("OIDC_AUTHORITY is required")
	case c.OIDC.ClientID == "":
		return errors.New("OIDC_CLIENT_ID is required")
	case c.API.BaseURL == "":
		return errors.New("API_BASE_URL is required")
	}
	switch c.Session.Store {
	case "redis", "mongo", "memory":
	default:
		return errors.New("SESSION_STORE must be one of redis, mongo, memory")
	}
	return nil
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return c.Session.CookieSecure || strings.HasPrefix(c.Server.PublicURL, "https://")
}
