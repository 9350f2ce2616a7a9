package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vainalista-api/internal/models"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// insecureDevSecret is only used when JWT_SECRET is not set
const insecureDevSecret = "INSECURE_DEFAULT_SECRET_CHANGE_THIS_IN_PRODUCTION"

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey            string        `env:"JWT_SECRET"`
	AccessTokenDuration  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTokenDuration time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	Issuer               string        `env:"JWT_ISSUER" envDefault:"vainalista-api"`
}

// NewJWTConfigFromEnv reads the JWT settings from the environment
func NewJWTConfigFromEnv() (*JWTConfig, error) {
	config, err := env.ParseAs[JWTConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT config: %w", err)
	}
	return &config, nil
}

// UsesDefaultSecret reports whether the config falls back to the development secret
func (c *JWTConfig) UsesDefaultSecret() bool {
	return c.SecretKey == "" || c.SecretKey == insecureDevSecret
}

func (c *JWTConfig) secret() []byte {
	if c.SecretKey == "" {
		return []byte(insecureDevSecret)
	}
	return []byte(c.SecretKey)
}

// Claims represents the JWT claims
type Claims struct {
	UserID  uuid.UUID `json:"user_id"`
	Email   string    `json:"email"`
	Name    string    `json:"name,omitempty"`
	Picture string    `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by the token
func (c *Claims) Identity() *models.Identity {
	return &models.Identity{
		UID:         c.UserID.String(),
		Email:       c.Email,
		DisplayName: c.Name,
		PhotoURL:    c.Picture,
	}
}

// GenerateAccessToken generates a new JWT access token
func GenerateAccessToken(user *models.User, config *JWTConfig) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:  user.ID,
		Email:   user.Email,
		Name:    user.DisplayName,
		Picture: user.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(), // unique per token
			ExpiresAt: jwt.NewNumericDate(now.Add(config.AccessTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    config.Issuer,
			Subject:   user.ID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(config.secret())
}

// GenerateRefreshToken generates a cryptographically secure random refresh token
func GenerateRefreshToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// ValidateAccessToken validates a JWT access token and returns the claims
func ValidateAccessToken(tokenString string, config *JWTConfig) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return config.secret(), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ExtractTokenFromHeader extracts the Bearer token from Authorization header
// Expected format: "Bearer <token>"
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("token is missing after 'Bearer ' prefix")
	}

	return token, nil
}

// TokenVerifier turns a bearer token into the identity it was issued for
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.Identity, error)
}

// JWTVerifier verifies access tokens issued by the local account service
type JWTVerifier struct {
	config *JWTConfig
}

// NewJWTVerifier creates a verifier for tokens signed with config
func NewJWTVerifier(config *JWTConfig) *JWTVerifier {
	return &JWTVerifier{config: config}
}

// Verify implements TokenVerifier
func (v *JWTVerifier) Verify(_ context.Context, token string) (*models.Identity, error) {
	claims, err := ValidateAccessToken(token, v.config)
	if err != nil {
		return nil, err
	}
	return claims.Identity(), nil
}
