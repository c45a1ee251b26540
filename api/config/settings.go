package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Settings is the process-wide configuration read from the environment.
type Settings struct {
	SupabaseURL       string `env:"SUPABASE_URL"`
	LegacySupabaseURL string `env:"SUPABASE_DB_URL"`
	ServiceRoleKey    string `env:"SUPABASE_SERVICE_ROLE_KEY"`

	JWTSecret   string `env:"SUPABASE_JWT_SECRET"`
	JWKSURL     string `env:"SUPABASE_JWKS_URL"`
	JWKSEnabled bool   `env:"AUTH_JWKS_ENABLED,default=false"`
	JWTAudience string `env:"JWT_AUDIENCE,default=authenticated"`

	DatabaseDSN       string `env:"SUPABASE_DB"`
	LegacyDatabaseURL string `env:"DATABASE_URL"`
	PostgresHost      string `env:"POSTGRES_HOST,default=localhost"`
	PostgresPort      string `env:"POSTGRES_PORT,default=5432"`
	PostgresDB        string `env:"POSTGRES_DB"`
	PostgresUser      string `env:"POSTGRES_USER"`
	PostgresPassword  string `env:"POSTGRES_PASSWORD"`
	PostgresSSLMode   string `env:"POSTGRES_SSLMODE,default=disable"`
	RunMigrations     bool   `env:"POSTGRES_RUN_MIGRATIONS,default=false"`

	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*"`

	UpstreamTimeout       time.Duration `env:"UPSTREAM_TIMEOUT,default=10s"`
	UpstreamRetryAttempts int           `env:"UPSTREAM_RETRY_ATTEMPTS,default=3"`

	RawSQLEnabled      bool `env:"QUERY_RAW_SQL_ENABLED,default=false"`
	RateLimitPerMinute int  `env:"RATE_LIMIT_PER_MINUTE,default=120"`
	RateLimitBurst     int  `env:"RATE_LIMIT_BURST,default=20"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryWebDSN      string `env:"SENTRY_DSN_WEB"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT,default=production"`
}

// LoadSettings reads an optional .env file and decodes the environment.
func LoadSettings(envFiles ...string) (*Settings, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load(envFiles...)

	var s Settings
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	s.applyAliases()
	return &s, nil
}

func (s *Settings) applyAliases() {
	if s.SupabaseURL == "" {
		s.SupabaseURL = s.LegacySupabaseURL
	}
	s.SupabaseURL = strings.TrimRight(s.SupabaseURL, "/")
	if s.DatabaseDSN == "" {
		s.DatabaseDSN = s.LegacyDatabaseURL
	}
	if s.JWKSEnabled && s.JWKSURL == "" && s.SupabaseURL != "" {
		s.JWKSURL = s.SupabaseURL + "/auth/v1/.well-known/jwks.json"
	}
}

// Validate checks that the settings needed to serve requests are present.
func (s *Settings) Validate() error {
	if s.SupabaseURL == "" {
		return errors.New("SUPABASE_URL is required")
	}
	if _, err := url.ParseRequestURI(s.SupabaseURL); err != nil {
		return fmt.Errorf("SUPABASE_URL is invalid: %w", err)
	}
	if s.ServiceRoleKey == "" {
		return errors.New("SUPABASE_SERVICE_ROLE_KEY is required")
	}
	if s.JWTSecret == "" && s.JWKSURL == "" {
		return errors.New("SUPABASE_JWT_SECRET or SUPABASE_JWKS_URL is required")
	}
	if s.DatabaseDSN == "" && (s.PostgresDB == "" || s.PostgresUser == "") {
		return errors.New("SUPABASE_DB or POSTGRES_DB/POSTGRES_USER is required")
	}
	if s.UpstreamTimeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be positive")
	}
	if s.UpstreamRetryAttempts < 1 {
		return errors.New("UPSTREAM_RETRY_ATTEMPTS must be at least 1")
	}
	if s.RateLimitPerMinute <= 0 || s.RateLimitBurst <= 0 {
		return errors.New("rate limit settings must be positive")
	}
	return nil
}

// PostgresDSN returns the direct connection string, building it from the
// POSTGRES_* variables when no DSN is configured.
func (s *Settings) PostgresDSN() string {
	if s.DatabaseDSN != "" {
		return s.DatabaseDSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.PostgresUser, s.PostgresPassword),
		Host:     s.PostgresHost + ":" + s.PostgresPort,
		Path:     "/" + s.PostgresDB,
		RawQuery: "sslmode=" + url.QueryEscape(s.PostgresSSLMode),
	}
	return u.String()
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (s *Settings) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(s.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
