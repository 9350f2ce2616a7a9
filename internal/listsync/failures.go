package listsync

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
)

// operation names a public mutation and the messages its failures produce
type operation struct {
	name    string
	offline string
	failure string
}

var (
	opCreateList     = operation{"create_list", "Cannot create list while offline", "Failed to create list"}
	opUpdateList     = operation{"update_list", "Cannot update list while offline", "Failed to update list"}
	opGetList        = operation{"get_list", "Operation not available offline", "Failed to load list"}
	opArchiveList    = operation{"archive_list", "Cannot archive list while offline", "Failed to archive list"}
	opRemoveList     = operation{"remove_list", "Cannot remove list while offline", "Failed to remove list"}
	opAddItem        = operation{"add_item", "Cannot add item while offline", "Failed to add item"}
	opUpdateItem     = operation{"update_item", "Cannot update item while offline", "Failed to update item"}
	opRemoveItem     = operation{"remove_item", "Cannot remove item while offline", "Failed to remove item"}
	opRemoveComplete = operation{"remove_completed_items", "Cannot remove items while offline", "Failed to remove completed items"}
)

// fail logs err and sends the single notification a failed operation yields.
// It returns err unchanged.
func (e *Engine) fail(op operation, fields logrus.Fields, err error) error {
	entry := e.log.WithFields(fields).WithField("operation", op.name).WithError(err)

	switch {
	case errors.Is(err, models.ErrOffline):
		entry.Warn("Operation refused while offline")
		notify.Warning(e.notifier, op.offline)
	case errors.Is(err, models.ErrNotAuthenticated):
		entry.Warn("Operation refused without a user")
		notify.Error(e.notifier, "User not authenticated")
	case errors.Is(err, models.ErrNoListSelected):
		entry.Warn("Operation refused without a selected list")
		notify.Error(e.notifier, "No list selected")
	case errors.Is(err, models.ErrInvalidInput):
		entry.Warn("Invalid input")
		notify.Error(e.notifier, op.failure+": invalid data")
	case errors.Is(err, models.ErrItemNotFound):
		entry.Warn("Item not found")
		notify.Error(e.notifier, "Item not found")
	case errors.Is(err, models.ErrListNotFound):
		entry.Warn("List not found")
		notify.Error(e.notifier, "List not found")
	case errors.Is(err, models.ErrPermissionDenied):
		entry.Error("Permission denied")
		notify.Error(e.notifier, "You do not have permission to change this list", notify.WithTitle("Permission denied"))
	case errors.Is(err, models.ErrUnavailable):
		entry.Error("Store unavailable")
		notify.Warning(e.notifier, "Service temporarily unavailable")
	default:
		entry.Error(op.failure)
		notify.Error(e.notifier, op.failure)
	}
	return err
}

// guard returns the signed-in user, refusing to go on without one or
// while the store is unreachable
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

// stamp returns the next dataAtualizacao for a document last touched at
// prev. The result is always after prev.
func (e *Engine) stamp(prev time.Time) time.Time {
	now := e.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}
