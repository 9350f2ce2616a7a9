package tls

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"vainalista-api/internal/logging"
)

// Config holds TLS/HTTPS configuration
type Config struct {
	Enabled                  bool   `env:"TLS_ENABLED" envDefault:"false"`
	CertFile                 string `env:"TLS_CERT_FILE" envDefault:"./certs/server.crt"`
	KeyFile                  string `env:"TLS_KEY_FILE" envDefault:"./certs/server.key"`
	Port                     string `env:"TLS_PORT" envDefault:"8443"`
	HTTPPort                 string `env:"HTTP_PORT" envDefault:"8080"`         // Port for HTTP to HTTPS redirect
	RedirectHTTP             bool   `env:"TLS_REDIRECT_HTTP" envDefault:"true"` // Redirect HTTP to HTTPS
	MinVersionName           string `env:"TLS_MIN_VERSION" envDefault:"1.2"`
	MaxVersionName           string `env:"TLS_MAX_VERSION" envDefault:"1.3"`
	PreferServerCipherSuites bool   `env:"TLS_PREFER_SERVER_CIPHERS" envDefault:"true"`

	// Derived by NewConfigFromEnv
	MinVersion   uint16
	MaxVersion   uint16
	CipherSuites []uint16
}

// NewConfigFromEnv creates TLS config from environment variables
func NewConfigFromEnv() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse TLS config: %w", err)
	}
	cfg.MinVersion = parseTLSVersion(cfg.MinVersionName)
	cfg.MaxVersion = parseTLSVersion(cfg.MaxVersionName)
	if cfg.MinVersion > cfg.MaxVersion {
		return nil, fmt.Errorf("TLS_MIN_VERSION %s is above TLS_MAX_VERSION %s", cfg.MinVersionName, cfg.MaxVersionName)
	}
	cfg.CipherSuites = secureCipherSuites()
	return &cfg, nil
}

// secureCipherSuites lists the TLS 1.2 suites; TLS 1.3 suites are fixed by crypto/tls
func secureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}
}

// CreateTLSConfig creates a *tls.Config for the server
func (c *Config) CreateTLSConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, fmt.Errorf("TLS is not enabled")
	}

	// Validate certificate files exist
	if _, err := os.Stat(c.CertFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("certificate file not found: %s", c.CertFile)
	}
	if _, err := os.Stat(c.KeyFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("key file not found: %s", c.KeyFile)
	}

	// Load certificate
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:             []tls.Certificate{cert},
		MinVersion:               c.MinVersion,
		MaxVersion:               c.MaxVersion,
		CipherSuites:             c.CipherSuites,
		PreferServerCipherSuites: c.PreferServerCipherSuites,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
			tls.CurveP384,
		},
	}

	logging.For("tls").Infof("TLS configured: cert=%s, minVersion=%s, maxVersion=%s",
		c.CertFile, tlsVersionString(c.MinVersion), tlsVersionString(c.MaxVersion))

	return tlsConfig, nil
}

// parseTLSVersion parses TLS version string to uint16
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		logging.For("tls").Warnf("Unknown TLS version '%s', using TLS 1.2", version)
		return tls.VersionTLS12
	}
}

// tlsVersionString converts TLS version uint16 to string
func tlsVersionString(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("Unknown (0x%04x)", version)
	}
}
