package storage

import (
	"context"
	"time"

	"vainalista-api/internal/models"
)

// DefaultMaxAttempts is how many times a transaction is tried before it
// gives up with models.ErrConflict.
const DefaultMaxAttempts = 5

// Tx is a read-modify-write unit over list and invitation-index documents.
// All reads must happen before the first write. Writes are buffered and
// applied atomically when the transaction function returns nil; the commit
// fails and the function is run again if any document read changed meanwhile.
type Tx interface {
	GetList(id string) (*models.List, error)
	PutList(list *models.List) error
	DeleteList(id string) error
	GetInvitationIndex(uid string) (*models.InvitationIndex, error)
	PutInvitation(uid string, summary models.InvitationSummary) error
	DropInvitation(uid, listID string) error
}

// TxFunc is the body of a transaction. It may run several times.
type TxFunc func(ctx context.Context, tx Tx) error

// ListSnapshot is one state of a watched list. List is nil when the
// document does not exist.
type ListSnapshot struct {
	List *models.List
	Err  error
}

// ListsSnapshot is one state of a user's active lists, newest first
type ListsSnapshot struct {
	Lists []models.List
	Err   error
}

// InvitationsSnapshot is one state of a user's invitation index
type InvitationsSnapshot struct {
	Index *models.InvitationIndex
	Err   error
}

// ListStore holds list documents
type ListStore interface {
	CreateList(ctx context.Context, list models.List) (string, error)
	GetList(ctx context.Context, id string) (*models.List, error)
	SetListActive(ctx context.Context, id string, active bool, at time.Time) error
	DeleteList(ctx context.Context, id string) error

	RunTransaction(ctx context.Context, fn TxFunc) error
	CommitBatch(ctx context.Context, batch *Batch) error

	// Live subscriptions. The first element is the current state; the
	// stream closes when ctx is done or Stop is called.
	WatchList(ctx context.Context, id string) *Stream[ListSnapshot]
	WatchUserLists(ctx context.Context, uid string) *Stream[ListsSnapshot]
	WatchInvitations(ctx context.Context, uid string) *Stream[InvitationsSnapshot]
	GetInvitationIndex(ctx context.Context, uid string) (*models.InvitationIndex, error)
}

// UserStore is the user directory (usuarios/{uid})
type UserStore interface {
	PutUser(ctx context.Context, user models.BasicUser) error
	GetUser(ctx context.Context, uid string) (*models.BasicUser, error)
	FindUserByEmail(ctx context.Context, email string) (*models.BasicUser, error)
}

// Store defines the interface for the remote document store
type Store interface {
	ListStore
	UserStore

	Ping(ctx context.Context) error
	Close() error
}
