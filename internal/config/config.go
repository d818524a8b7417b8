package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/fu-foo/fhir-sazare/internal/platform/middleware"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Host    string `mapstructure:"HOST"`
	Port    string `mapstructure:"PORT"`
	Env     string `mapstructure:"ENV"`
	BaseURL string `mapstructure:"BASE_URL"`

	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	StorePath      string `mapstructure:"STORE_PATH"`
	IndexPath      string `mapstructure:"INDEX_PATH"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`

	AuthEnabled      bool   `mapstructure:"AUTH_ENABLED"`
	APIKeys          string `mapstructure:"API_KEYS"`
	BasicUsers       string `mapstructure:"BASIC_USERS"`
	JWTIssuer        string `mapstructure:"JWT_ISSUER"`
	JWTAudience      string `mapstructure:"JWT_AUDIENCE"`
	JWTSecret        string `mapstructure:"JWT_SECRET"`
	JWTPublicKeyFile string `mapstructure:"JWT_PUBLIC_KEY_FILE"`
	JWTJWKSURL       string `mapstructure:"JWT_JWKS_URL"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("HOST", "127.0.0.1")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORAGE_BACKEND", BackendSQLite)
	v.SetDefault("STORE_PATH", "fhir_store.db")
	v.SetDefault("INDEX_PATH", "fhir_index.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("HOST")
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BASE_URL")
	v.BindEnv("STORAGE_BACKEND")
	v.BindEnv("STORE_PATH")
	v.BindEnv("INDEX_PATH")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ENABLED")
	v.BindEnv("API_KEYS")
	v.BindEnv("BASIC_USERS")
	v.BindEnv("JWT_ISSUER")
	v.BindEnv("JWT_AUDIENCE")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_PUBLIC_KEY_FILE")
	v.BindEnv("JWT_JWKS_URL")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q",
			BackendSQLite, BackendPostgres, c.StorageBackend)
	}

	if c.IndexPath == "" {
		return fmt.Errorf("INDEX_PATH is required")
	}

	if c.AuthEnabled {
		if c.APIKeys == "" && c.BasicUsers == "" && c.JWTSecret == "" &&
			c.JWTPublicKeyFile == "" && c.JWTJWKSURL == "" {
			return fmt.Errorf("AUTH_ENABLED is true but no credentials are configured; " +
				"set API_KEYS, BASIC_USERS, JWT_SECRET, JWT_PUBLIC_KEY_FILE, or JWT_JWKS_URL")
		}
		jwtSources := 0
		for _, s := range []string{c.JWTSecret, c.JWTPublicKeyFile, c.JWTJWKSURL} {
			if s != "" {
				jwtSources++
			}
		}
		if jwtSources > 1 {
			return fmt.Errorf("JWT_SECRET, JWT_PUBLIC_KEY_FILE and JWT_JWKS_URL are mutually exclusive")
		}
	}

	for _, pair := range splitPairs(c.BasicUsers) {
		if !strings.Contains(pair, ":") {
			return fmt.Errorf("BASIC_USERS entries must be user:password pairs, got %q", pair)
		}
	}

	return nil
}

// AuthConfig translates the flat environment settings into the
// middleware's authentication configuration. API keys are listed as
// name:key pairs; a bare entry is its own name.
func (c *Config) AuthConfig() middleware.AuthConfig {
	out := middleware.AuthConfig{Enabled: c.AuthEnabled}

	for _, pair := range splitPairs(c.APIKeys) {
		name, key, found := strings.Cut(pair, ":")
		if !found {
			name, key = pair, pair
		}
		out.APIKeys = append(out.APIKeys, middleware.APIKey{Name: name, Key: key})
	}

	for _, pair := range splitPairs(c.BasicUsers) {
		user, password, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		out.BasicAuth = append(out.BasicAuth, middleware.BasicUser{Username: user, Password: password})
	}

	if c.JWTSecret != "" || c.JWTPublicKeyFile != "" || c.JWTJWKSURL != "" {
		out.JWT = &middleware.JWTSettings{
			Issuer:        c.JWTIssuer,
			Audience:      c.JWTAudience,
			Secret:        c.JWTSecret,
			PublicKeyFile: c.JWTPublicKeyFile,
			JWKSURL:       c.JWTJWKSURL,
		}
	}

	return out
}

func splitPairs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
