package sharing

import (
	"errors"

	"github.com/sirupsen/logrus"

	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
)

type operation struct {
	name     string
	offline  string
	failure  string
	notFound string
}

var (
	opShare   = operation{"share_list", "Cannot share list while offline", "Failed to send invitation", ""}
	opAccept  = operation{"accept_invitation", "Cannot accept invitation while offline", "Failed to accept invitation", "Invitation not found or expired"}
	opReject  = operation{"reject_invitation", "Cannot reject invitation while offline", "Failed to reject invitation", "Invitation not found"}
	opSweep   = operation{"sweep_expired", "Operation not available offline", "Failed to update invitations", ""}
	opMembers = operation{"list_members", "Operation not available offline", "Failed to load members", ""}
)

// fail logs err and sends the single notification it yields. It returns err.
func (e *Engine) fail(op operation, fields logrus.Fields, err error) error {
	entry := e.log.WithFields(fields).WithField("operation", op.name).WithError(err)

	switch {
	case errors.Is(err, models.ErrOffline):
		entry.Warn("Operation refused while offline")
		notify.Warning(e.notifier, op.offline)
	case errors.Is(err, models.ErrNotAuthenticated):
		entry.Warn("Operation refused without a user")
		notify.Error(e.notifier, "User not authenticated")
	case errors.Is(err, models.ErrInvalidInput):
		entry.Warn("Invalid input")
		notify.Error(e.notifier, op.failure+": invalid data")
	case errors.Is(err, models.ErrUserNotFound):
		entry.Info("No user with this email")
		notify.Error(e.notifier, "User not found with this email")
	case errors.Is(err, models.ErrListNotFound):
		entry.Warn("List not found")
		notify.Error(e.notifier, "List not found")
	case errors.Is(err, models.ErrAlreadyMember):
		entry.Info("Already a member")
		notify.Warning(e.notifier, "This user is already a member of the list")
	case errors.Is(err, models.ErrInvitationAlreadyPending):
		entry.Info("Invitation already pending")
		notify.Warning(e.notifier, "An invitation is already pending for this user")
	case errors.Is(err, models.ErrInvitationNotFound):
		entry.Warn("Invitation not found")
		message := op.notFound
		if message == "" {
			message = "Invitation not found"
		}
		notify.Error(e.notifier, message)
	case errors.Is(err, models.ErrPermissionDenied):
		entry.Error("Permission denied")
		notify.Error(e.notifier, "You do not have permission to manage sharing of this list", notify.WithTitle("Permission denied"))
	case errors.Is(err, models.ErrUnavailable):
		entry.Error("Store unavailable")
		notify.Warning(e.notifier, "Service temporarily unavailable")
	default:
		entry.Error(op.failure)
		notify.Error(e.notifier, op.failure)
	}
	return err
}

func (e *Engine) guard() (*models.Identity, error) {
	identity := e.identity.CurrentUser()
	if identity == nil {
		return nil, models.ErrNotAuthenticated
	}
	if !e.monitor.Online() {
		return nil, models.ErrOffline
	}
	return identity, nil
}
