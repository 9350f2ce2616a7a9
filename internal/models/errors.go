package models

import "errors"

// Failures reported by the sync and sharing engines
var (
	ErrNotAuthenticated         = errors.New("user not authenticated")
	ErrOffline                  = errors.New("store is offline")
	ErrListNotFound             = errors.New("list not found")
	ErrItemNotFound             = errors.New("item not found")
	ErrUserNotFound             = errors.New("user not found")
	ErrAlreadyMember            = errors.New("user is already a member of this list")
	ErrInvitationAlreadyPending = errors.New("an invitation is already pending for this email")
	ErrInvitationNotFound       = errors.New("invitation not found")
	ErrPermissionDenied         = errors.New("permission denied")
	ErrUnavailable              = errors.New("store temporarily unavailable")

	ErrNoListSelected  = errors.New("no list selected")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("transaction aborted after repeated conflicts")
	ErrInvalidDocument = errors.New("invalid document")
)
