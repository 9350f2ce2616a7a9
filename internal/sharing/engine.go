// Package sharing runs the invitation lifecycle of shared lists: inviting a
// user by email, accepting or rejecting, and the live feed of the signed-in
// user's pending invitations.
package sharing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vainalista-api/internal/connectivity"
	"vainalista-api/internal/directory"
	"vainalista-api/internal/logging"
	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
	"vainalista-api/internal/reactive"
	"vainalista-api/internal/storage"
)

const subInvitations = "convites"

// IdentitySource supplies the signed-in user
type IdentitySource interface {
	CurrentUser() *models.Identity
	Watch() (<-chan *models.Identity, func())
}

// Engine is the sharing engine of one session
type Engine struct {
	store     storage.ListStore
	directory *directory.Directory
	identity  IdentitySource
	monitor   *connectivity.Monitor
	notifier  notify.Notifier
	now       func() time.Time
	log       *logrus.Entry

	invitations *reactive.Value[[]models.InvitationSummary]
	subs        *reactive.Subscriptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once

	mu  sync.Mutex
	uid string
}

// Option configures an Engine
type Option func(*Engine)

// WithNotifier sets where user-facing notifications go
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a sharing engine. The invitation feed starts with Start.
func New(store storage.ListStore, dir *directory.Directory, identity IdentitySource, monitor *connectivity.Monitor, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		directory:   dir,
		identity:    identity,
		monitor:     monitor,
		notifier:    notify.Discard,
		now:         time.Now,
		log:         logging.For("sharing"),
		invitations: reactive.NewValue([]models.InvitationSummary{}),
		subs:        reactive.NewSubscriptions(),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invitations holds the signed-in user's open invitations, newest first
func (e *Engine) Invitations() *reactive.Value[[]models.InvitationSummary] { return e.invitations }

// Subscriptions exposes the live subscription handles
func (e *Engine) Subscriptions() *reactive.Subscriptions { return e.subs }

// Start applies the current user and follows identity changes
func (e *Engine) Start() {
	e.start.Do(func() {
		e.onIdentity(e.identity.CurrentUser())
		identities, stop := e.identity.Watch()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer stop()
			for {
				select {
				case <-e.ctx.Done():
					return
				case identity, ok := <-identities:
					if !ok {
						return
					}
					e.onIdentity(identity)
				}
			}
		}()
	})
}

// Stop cancels the feed and waits for it to finish
func (e *Engine) Stop() {
	e.cancel()
	e.mu.Lock()
	e.subs.ResetSubscriptions()
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) onIdentity(identity *models.Identity) {
	uid := ""
	if identity != nil {
		uid = identity.UID
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if uid == e.uid || e.ctx.Err() != nil {
		return
	}
	e.subs.ResetSubscriptions()
	e.uid = uid
	e.invitations.Set([]models.InvitationSummary{})
	if uid != "" {
		e.watchInvitationsLocked(uid)
	}
}

func (e *Engine) watchInvitationsLocked(uid string) {
	ctx, cancel := context.WithCancel(e.ctx)
	e.subs.Replace(subInvitations, cancel)
	stream := e.store.WatchInvitations(ctx, uid)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for snap := range stream.C {
			if snap.Err != nil {
				e.syncError(ctx, uid, snap.Err)
				continue
			}
			e.applyInvitations(ctx, e.dropOrphans(ctx, uid, snap.Index))
		}
	}()
}

func (e *Engine) applyInvitations(ctx context.Context, index *models.InvitationIndex) {
	open := openSummaries(index, e.now())

	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	e.invitations.Set(open)
}

// dropOrphans removes index entries whose list no longer exists, from the
// snapshot and from the store
func (e *Engine) dropOrphans(ctx context.Context, uid string, index *models.InvitationIndex) *models.InvitationIndex {
	if index == nil || len(index.Convites) == 0 || !e.monitor.Online() {
		return index
	}
	batch := storage.NewBatch()
	for listID := range index.Convites {
		_, err := e.store.GetList(ctx, listID)
		if errors.Is(err, models.ErrListNotFound) {
			batch.DropInvitation(uid, listID)
			delete(index.Convites, listID)
		}
	}
	if batch.Len() == 0 || ctx.Err() != nil {
		return index
	}

	entry := e.log.WithFields(logrus.Fields{"uid": uid, "entries": batch.Len()})
	if err := e.store.CommitBatch(ctx, batch); err != nil {
		entry.WithError(err).Warn("Failed to drop invitations of deleted lists")
	} else {
		entry.Info("Dropped invitations of deleted lists")
	}
	return index
}

func (e *Engine) syncError(ctx context.Context, uid string, err error) {
	if ctx.Err() != nil {
		return
	}
	entry := e.log.WithField("uid", uid).WithError(err)
	if e.identity.CurrentUser() == nil {
		entry.Debug("Ignoring invitation sync error - user not authenticated")
		return
	}
	entry.Error("Invitation sync error")
	notify.Warning(e.notifier, "Failed to load invitations")
}

// openSummaries drops expired entries and orders the rest newest first
func openSummaries(index *models.InvitationIndex, now time.Time) []models.InvitationSummary {
	open := []models.InvitationSummary{}
	if index == nil {
		return open
	}
	for _, summary := range index.Convites {
		if !summary.DataExpiracao.IsZero() && now.After(summary.DataExpiracao) {
			continue
		}
		open = append(open, summary)
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].DataConvite.Equal(open[j].DataConvite) {
			return open[i].ListaID < open[j].ListaID
		}
		return open[i].DataConvite.After(open[j].DataConvite)
	})
	return open
}
