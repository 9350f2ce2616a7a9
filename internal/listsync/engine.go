// Package listsync keeps a live projection of the signed-in user's lists
// and the selected list, and applies item mutations to the store with
// transactional read-modify-write.
package listsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vainalista-api/internal/cache"
	"vainalista-api/internal/connectivity"
	"vainalista-api/internal/logging"
	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
	"vainalista-api/internal/reactive"
	"vainalista-api/internal/storage"
)

const (
	subUserLists = "listas-usuario"
	subCurrent   = "lista-atual"
)

// IdentitySource supplies the signed-in user
type IdentitySource interface {
	CurrentUser() *models.Identity
	Watch() (<-chan *models.Identity, func())
}

// Engine is the list synchronization engine of one session
type Engine struct {
	store    storage.ListStore
	identity IdentitySource
	monitor  *connectivity.Monitor
	local    *cache.Store
	notifier notify.Notifier
	now      func() time.Time
	log      *logrus.Entry

	current *reactive.Value[*models.List]
	lists   *reactive.Value[[]models.List]
	online  *reactive.Value[bool]
	subs    *reactive.Subscriptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once

	mu       sync.Mutex
	uid      string
	selected string
	// loaded is closed once the user lists projection of uid was filled
	loaded chan struct{}
}

// Option configures an Engine
type Option func(*Engine)

// WithCache enables the offline backup of the projections
func WithCache(local *cache.Store) Option {
	return func(e *Engine) { e.local = local }
}

// WithNotifier sets where user-facing notifications go
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. It does nothing until Start is called.
func New(store storage.ListStore, identity IdentitySource, monitor *connectivity.Monitor, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		identity: identity,
		monitor:  monitor,
		notifier: notify.Discard,
		now:      time.Now,
		log:      logging.For("listsync"),
		current:  reactive.NewValue[*models.List](nil),
		lists:    reactive.NewValue([]models.List{}),
		online:   reactive.NewValue(monitor.Online()),
		subs:     reactive.NewSubscriptions(),
		loaded:   make(chan struct{}),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CurrentList is the selected list, nil when nothing is selected
func (e *Engine) CurrentList() *reactive.Value[*models.List] { return e.current }

// UserLists holds the user's active lists, newest first
func (e *Engine) UserLists() *reactive.Value[[]models.List] { return e.lists }

// Online mirrors the connectivity monitor
func (e *Engine) Online() *reactive.Value[bool] { return e.online }

// Subscriptions exposes the live subscription handles
func (e *Engine) Subscriptions() *reactive.Subscriptions { return e.subs }

// WaitLoaded blocks until the user lists projection of the signed-in user
// has been filled once, either from the store or from the offline backup
func (e *Engine) WaitLoaded(ctx context.Context) error {
	e.mu.Lock()
	loaded := e.loaded
	e.mu.Unlock()

	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return models.ErrUnavailable
	}
}

func (e *Engine) markLoadedLocked() {
	select {
	case <-e.loaded:
	default:
		close(e.loaded)
	}
}

// SelectedID returns the id of the selected list
func (e *Engine) SelectedID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// Start applies the current user and begins following identity and
// connectivity changes
func (e *Engine) Start() {
	e.start.Do(func() {
		e.onIdentity(e.identity.CurrentUser())
		identities, stopIdentity := e.identity.Watch()
		states, stopStates := e.monitor.Watch()

		e.wg.Add(2)
		go e.followIdentity(identities, stopIdentity)
		go e.followConnectivity(states, stopStates)
	})
}

// Stop tears down every subscription and waits for the engine to settle
func (e *Engine) Stop() {
	e.cancel()
	e.mu.Lock()
	e.subs.ResetSubscriptions()
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) followIdentity(identities <-chan *models.Identity, stop func()) {
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
}

// onIdentity restarts the projections when the signed-in user changes.
// Repeated emissions of the same user are ignored.
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

	e.log.WithFields(logrus.Fields{"previous_uid": e.uid, "uid": uid}).Info("User state changed")
	e.subs.ResetSubscriptions()
	e.uid = uid
	e.selected = ""
	e.current.Set(nil)
	e.lists.Set([]models.List{})
	e.markLoadedLocked()
	e.loaded = make(chan struct{})

	if uid == "" {
		e.markLoadedLocked()
		return
	}
	if !e.monitor.Online() {
		e.restoreBackupLocked(uid)
		e.markLoadedLocked()
	}
	e.watchUserListsLocked(uid)
}

func (e *Engine) followConnectivity(states <-chan bool, stop func()) {
	defer e.wg.Done()
	defer stop()

	prev := e.monitor.Online()
	for {
		select {
		case <-e.ctx.Done():
			return
		case online, ok := <-states:
			if !ok {
				return
			}
			e.online.Set(online)
			if online && !prev {
				e.Resync()
			}
			prev = online
		}
	}
}

// Resync restarts the live subscriptions after the store becomes reachable again
func (e *Engine) Resync() {
	e.mu.Lock()
	uid := e.uid
	if uid == "" || e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	selected := e.selected
	e.subs.ResetSubscriptions()
	e.selected = ""
	e.watchUserListsLocked(uid)
	if selected != "" {
		e.selectLocked(selected)
	}
	e.mu.Unlock()

	e.log.WithField("uid", uid).Info("Data synchronized")
	notify.Success(e.notifier, "Data synchronized", notify.WithTitle("Online"))
}

func (e *Engine) watchUserListsLocked(uid string) {
	ctx, cancel := context.WithCancel(e.ctx)
	e.subs.Replace(subUserLists, cancel)
	stream := e.store.WatchUserLists(ctx, uid)

	e.log.WithField("uid", uid).Debug("Starting user lists sync")
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for snap := range stream.C {
			if snap.Err != nil {
				e.syncError(ctx, logrus.Fields{"uid": uid}, snap.Err)
				e.mu.Lock()
				if ctx.Err() == nil {
					e.markLoadedLocked()
				}
				e.mu.Unlock()
				continue
			}
			e.applyUserLists(ctx, uid, snap.Lists)
		}
	}()
}

func (e *Engine) applyUserLists(ctx context.Context, uid string, lists []models.List) {
	sortNewestFirst(lists)

	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	e.lists.Set(lists)
	if e.selected == "" && len(lists) > 0 {
		// the list subscription refines this on its first snapshot
		first := lists[0]
		e.current.Set(&first)
		e.selectLocked(first.ID)
	}
	e.markLoadedLocked()
	e.mu.Unlock()

	e.backup(backupListsKey(uid), lists)
}

// SelectList switches the live single-list subscription to id. Selecting
// the current list again does nothing.
func (e *Engine) SelectList(ctx context.Context, id string) error {
	identity := e.identity.CurrentUser()
	if identity == nil {
		return models.ErrNotAuthenticated
	}
	if e.monitor.Online() {
		list, err := e.store.GetList(ctx, id)
		if err != nil {
			return err
		}
		if !list.HasAccess(identity.UID) {
			return models.ErrPermissionDenied
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.selectLocked(id)
	return nil
}

func (e *Engine) selectLocked(id string) {
	if e.ctx.Err() != nil || (e.selected == id && e.subs.Has(subCurrent)) {
		return
	}
	e.selected = id

	ctx, cancel := context.WithCancel(e.ctx)
	e.subs.Replace(subCurrent, cancel)
	stream := e.store.WatchList(ctx, id)
	uid := e.uid

	e.log.WithField("list_id", id).Info("List selected")
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for snap := range stream.C {
			if snap.Err != nil {
				e.syncError(ctx, logrus.Fields{"list_id": id}, snap.Err)
				continue
			}
			e.applyCurrent(ctx, uid, id, snap.List)
		}
	}()
}

func (e *Engine) applyCurrent(ctx context.Context, uid, id string, list *models.List) {
	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	if list == nil {
		e.log.WithField("list_id", id).Warn("List not found")
	}
	e.current.Set(list)
	e.mu.Unlock()

	if list != nil {
		e.backup(backupCurrentKey(uid), list)
	}
}

// syncError reports a failed live subscription. Errors that arrive after
// the subscription was cancelled or while nobody is signed in are expected
// races and only logged.
func (e *Engine) syncError(ctx context.Context, fields logrus.Fields, err error) {
	if ctx.Err() != nil {
		return
	}
	entry := e.log.WithFields(fields).WithError(err)
	if e.identity.CurrentUser() == nil {
		entry.Debug("Ignoring sync error - user not authenticated")
		return
	}
	entry.Error("Sync error")

	switch {
	case errors.Is(err, models.ErrPermissionDenied):
		notify.Error(e.notifier, "The document store refused access. Check the security rules.", notify.WithTitle("Sync error"))
	case errors.Is(err, models.ErrUnavailable):
		notify.Warning(e.notifier, "Service temporarily unavailable")
	default:
		notify.Error(e.notifier, "Failed to synchronize data", notify.WithTitle("Connection"))
	}
}

func backupListsKey(uid string) string   { return "listas-usuario/" + uid }
func backupCurrentKey(uid string) string { return "lista-atual/" + uid }

func (e *Engine) backup(key string, value interface{}) {
	if e.local == nil {
		return
	}
	if err := e.local.Set(e.ctx, key, value); err != nil && e.ctx.Err() == nil {
		e.log.WithError(err).WithField("key", key).Warn("Failed to back up projection")
	}
}

// restoreBackupLocked fills the projections from the local cache
func (e *Engine) restoreBackupLocked(uid string) {
	if e.local == nil {
		return
	}
	lists, found, err := cache.GetAs[[]models.List](e.ctx, e.local, backupListsKey(uid))
	if err != nil {
		e.log.WithError(err).Warn("Failed to read offline backup")
		return
	}
	if found && lists != nil {
		sortNewestFirst(lists)
		e.lists.Set(lists)
	}
	current, found, err := cache.GetAs[*models.List](e.ctx, e.local, backupCurrentKey(uid))
	if err == nil && found && current != nil {
		e.selected = current.ID
		e.current.Set(current)
	}
	e.log.WithFields(logrus.Fields{"uid": uid, "lists": len(lists)}).Info("Restored offline backup")
}

func sortNewestFirst(lists []models.List) {
	sort.SliceStable(lists, func(i, j int) bool {
		return lists[i].DataAtualizacao.After(lists[j].DataAtualizacao)
	})
}
