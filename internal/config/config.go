package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"vainalista-api/internal/auth"
	"vainalista-api/internal/database"
	"vainalista-api/internal/logging"
	"vainalista-api/internal/middleware"
	"vainalista-api/internal/tls"
)

// Store backends
const (
	BackendMemory    = "memory"
	BackendSQL       = "sql"
	BackendFirestore = "firestore"
)

// Identity providers
const (
	ProviderJWT      = "jwt"
	ProviderFirebase = "firebase"
)

// ServerConfig holds the settings read by cmd/server itself
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	GinMode         string        `env:"GIN_MODE" envDefault:"release"`
	StoreBackend    string        `env:"STORE_BACKEND" envDefault:"memory"`
	AuthProvider    string        `env:"AUTH_PROVIDER" envDefault:"jwt"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// MigrateOnStart applies schema changes before serving
	MigrateOnStart bool `env:"MIGRATE_ON_START" envDefault:"true"`

	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`
	CredentialsFile   string `env:"GOOGLE_APPLICATION_CREDENTIALS"`

	CacheDBPath         string        `env:"CACHE_DB_PATH" envDefault:"./data/cache.db"`
	ProbeInterval       time.Duration `env:"CONNECTIVITY_PROBE_INTERVAL" envDefault:"15s"`
	SessionIdleTimeout  time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	SessionReapInterval time.Duration `env:"SESSION_REAP_INTERVAL" envDefault:"1m"`
	SessionLoadTimeout  time.Duration `env:"SESSION_LOAD_TIMEOUT" envDefault:"5s"`
	DirectoryCacheTTL   time.Duration `env:"DIRECTORY_CACHE_TTL" envDefault:"5m"`
	DirectoryCacheMax   int           `env:"DIRECTORY_CACHE_MAX" envDefault:"100"`
}

// Config is everything the server needs, parsed once at startup
type Config struct {
	Server    *ServerConfig
	Log       *logging.LogConfig
	Database  *database.Config
	JWT       *auth.JWTConfig
	CORS      *middleware.CORSConfig
	Security  *middleware.SecurityConfig
	RateLimit *middleware.RateLimitConfig
	TLS       *tls.Config
}

// NeedsDatabase reports whether the configured backends use the SQL database
func (c *Config) NeedsDatabase() bool {
	return c.Server.StoreBackend == BackendSQL || c.Server.AuthProvider == ProviderJWT
}

// Load reads the given .env files (default ".env") and parses the environment.
// Missing .env files are not an error; variables already set win over them.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
		logging.For("config").Debug("No .env file found, using environment variables")
	}

	server, err := env.ParseAs[ServerConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	if err := server.validate(); err != nil {
		return nil, err
	}

	cfg := &Config{Server: &server}
	if cfg.Log, err = logging.NewLogConfigFromEnv(); err != nil {
		return nil, err
	}
	if cfg.Database, err = database.NewConfigFromEnv(); err != nil {
		return nil, err
	}
	if cfg.JWT, err = auth.NewJWTConfigFromEnv(); err != nil {
		return nil, err
	}
	if cfg.CORS, err = middleware.NewCORSConfigFromEnv(); err != nil {
		return nil, err
	}
	if cfg.Security, err = middleware.NewSecurityConfigFromEnv(); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = middleware.NewRateLimitConfigFromEnv(); err != nil {
		return nil, err
	}
	if cfg.TLS, err = tls.NewConfigFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *ServerConfig) validate() error {
	switch s.StoreBackend {
	case BackendMemory, BackendSQL, BackendFirestore:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", s.StoreBackend)
	}
	switch s.AuthProvider {
	case ProviderJWT, ProviderFirebase:
	default:
		return fmt.Errorf("unsupported AUTH_PROVIDER %q", s.AuthProvider)
	}
	if (s.StoreBackend == BackendFirestore || s.AuthProvider == ProviderFirebase) && s.FirebaseProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID is required for the firestore backend and the firebase provider")
	}
	if s.ProbeInterval <= 0 {
		return fmt.Errorf("CONNECTIVITY_PROBE_INTERVAL must be positive, got %s", s.ProbeInterval)
	}
	if s.DirectoryCacheMax <= 0 {
		return fmt.Errorf("DIRECTORY_CACHE_MAX must be positive, got %d", s.DirectoryCacheMax)
	}
	return nil
}
