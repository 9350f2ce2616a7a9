package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"vainalista-api/internal/logging"
	"vainalista-api/internal/models"
	"vainalista-api/internal/storage"
)

var (
	ErrUserAlreadyExists   = errors.New("user with this email already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUserInactive        = errors.New("user account is inactive")
	ErrRefreshTokenInvalid = errors.New("refresh token is invalid or expired")
)

// Service provides local account operations. Registered users are also
// published to the user directory so they can be invited to lists.
type Service struct {
	db        *gorm.DB
	jwtConfig *JWTConfig
	directory storage.UserStore
	log       *logrus.Entry
}

// NewService creates a new authentication service. directory may be nil.
func NewService(db *gorm.DB, jwtConfig *JWTConfig, directory storage.UserStore) *Service {
	return &Service{
		db:        db,
		jwtConfig: jwtConfig,
		directory: directory,
		log:       logging.For("auth"),
	}
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil, ErrUserAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hashed,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PhotoURL:     req.PhotoURL,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.directory != nil {
		entry := models.BasicUser{
			UID:      user.ID.String(),
			Email:    user.Email,
			Nome:     user.DisplayName,
			PhotoURL: user.PhotoURL,
			CriadoEm: user.CreatedAt,
		}
		// the session upserts the entry again on first sign-in
		if err := s.directory.PutUser(ctx, entry); err != nil {
			s.log.WithError(err).WithField("uid", entry.UID).Warn("Failed to publish user to directory")
		}
	}

	return user, nil
}

// Login authenticates a user and returns tokens
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if err := VerifyPassword(req.Password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	user.LastLoginAt = &now
	s.db.WithContext(ctx).Model(&user).Update("last_login_at", now)

	return s.generateAuthResponse(ctx, &user)
}

// RefreshAccessToken issues new tokens for a valid refresh token. The old
// refresh token is revoked.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshTokenString string) (*models.AuthResponse, error) {
	var refreshToken models.RefreshToken
	err := s.db.WithContext(ctx).Preload("User").Where("token = ?", hashToken(refreshTokenString)).First(&refreshToken).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	if !refreshToken.IsValid() {
		return nil, ErrRefreshTokenInvalid
	}
	if !refreshToken.User.IsActive {
		return nil, ErrUserInactive
	}

	now := time.Now()
	s.db.WithContext(ctx).Model(&refreshToken).Update("revoked_at", now)

	return s.generateAuthResponse(ctx, &refreshToken.User)
}

// RevokeRefreshToken revokes a refresh token
func (s *Service) RevokeRefreshToken(ctx context.Context, refreshTokenString string) error {
	result := s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND revoked_at IS NULL", hashToken(refreshTokenString)).
		Update("revoked_at", time.Now())

	if result.Error != nil {
		return fmt.Errorf("failed to revoke token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRefreshTokenInvalid
	}
	return nil
}

// RevokeAllUserTokens revokes all refresh tokens for a user
func (s *Service) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID
func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// CleanupExpiredTokens removes expired refresh tokens from the database
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&models.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) generateAuthResponse(ctx context.Context, user *models.User) (*models.AuthResponse, error) {
	accessToken, err := GenerateAccessToken(user, s.jwtConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshTokenString, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	refreshToken := &models.RefreshToken{
		UserID:    user.ID,
		Token:     hashToken(refreshTokenString),
		ExpiresAt: time.Now().Add(s.jwtConfig.RefreshTokenDuration),
	}
	if err := s.db.WithContext(ctx).Create(refreshToken).Error; err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &models.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenString,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.jwtConfig.AccessTokenDuration.Seconds()),
		User:         user.Identity(),
	}, nil
}

// hashToken creates a SHA-256 hash of a token for storage
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
