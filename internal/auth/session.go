package auth

import (
	"vainalista-api/internal/models"
	"vainalista-api/internal/reactive"
)

// Session is the identity source of one user session. The current user is
// nil while signed out.
type Session struct {
	current *reactive.Value[*models.Identity]
}

// NewSession creates a signed-out session
func NewSession() *Session {
	return &Session{current: reactive.NewValue[*models.Identity](nil)}
}

// SignIn makes identity the current user
func (s *Session) SignIn(identity *models.Identity) {
	c := *identity
	s.current.Set(&c)
}

// SignOut clears the current user
func (s *Session) SignOut() {
	s.current.Set(nil)
}

// CurrentUser returns the signed-in identity or nil
func (s *Session) CurrentUser() *models.Identity {
	return s.current.Get()
}

// Watch streams identity changes, starting with the current one
func (s *Session) Watch() (<-chan *models.Identity, func()) {
	return s.current.Subscribe()
}
