package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCORSConfigFromEnv(t *testing.T) {
	tests := []struct {
		name                 string
		envVars              map[string]string
		expectedEnabled      bool
		expectedOrigins      []string
		expectedMethodsCount int
		expectedHeadersCount int
		expectedExposeCount  int
		expectedAllowCred    bool
		expectedMaxAge       int
	}{
		{
			name:                 "returns default values when no env vars set",
			envVars:              map[string]string{},
			expectedEnabled:      true,
			expectedOrigins:      []string{"*"},
			expectedMethodsCount: 6, // GET,POST,PUT,PATCH,DELETE,OPTIONS
			expectedHeadersCount: 4, // Origin,Content-Type,Accept,Authorization
			expectedExposeCount:  2,
			expectedMaxAge:       3600,
		},
		{
			name: "returns custom values from env vars",
			envVars: map[string]string{
				"CORS_ENABLED":           "true",
				"CORS_ALLOWED_ORIGINS":   "https://example.com, https://app.example.com",
				"CORS_ALLOWED_METHODS":   "GET,POST",
				"CORS_ALLOWED_HEADERS":   "Content-Type,Authorization",
				"CORS_EXPOSE_HEADERS":    "X-Total-Count",
				"CORS_ALLOW_CREDENTIALS": "true",
				"CORS_MAX_AGE":           "7200",
			},
			expectedEnabled:      true,
			expectedOrigins:      []string{"https://example.com", "https://app.example.com"},
			expectedMethodsCount: 2,
			expectedHeadersCount: 2,
			expectedExposeCount:  1,
			expectedAllowCred:    true,
			expectedMaxAge:       7200,
		},
		{
			name:                 "handles disabled CORS",
			envVars:              map[string]string{"CORS_ENABLED": "false"},
			expectedEnabled:      false,
			expectedOrigins:      []string{"*"},
			expectedMethodsCount: 6,
			expectedHeadersCount: 4,
			expectedExposeCount:  2,
			expectedMaxAge:       3600,
		},
		{
			name:                 "drops empty entries",
			envVars:              map[string]string{"CORS_ALLOWED_ORIGINS": ",https://example.com,,"},
			expectedEnabled:      true,
			expectedOrigins:      []string{"https://example.com"},
			expectedMethodsCount: 6,
			expectedHeadersCount: 4,
			expectedExposeCount:  2,
			expectedMaxAge:       3600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			config, err := NewCORSConfigFromEnv()
			require.NoError(t, err)

			assert.Equal(t, tt.expectedEnabled, config.Enabled)
			assert.Equal(t, tt.expectedOrigins, config.AllowedOrigins)
			assert.Len(t, config.AllowedMethods, tt.expectedMethodsCount)
			assert.Len(t, config.AllowedHeaders, tt.expectedHeadersCount)
			assert.Len(t, config.ExposeHeaders, tt.expectedExposeCount)
			assert.Equal(t, tt.expectedAllowCred, config.AllowCredentials)
			assert.Equal(t, tt.expectedMaxAge, config.MaxAge)
		})
	}

	t.Run("rejects an invalid max age", func(t *testing.T) {
		t.Setenv("CORS_MAX_AGE", "forever")
		_, err := NewCORSConfigFromEnv()
		assert.Error(t, err)
	})
}
