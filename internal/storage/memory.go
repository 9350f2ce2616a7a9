package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vainalista-api/internal/models"
)

var (
	errConflict       = errors.New("document changed since it was read")
	errReadAfterWrite = errors.New("transaction reads must happen before writes")
)

type versionedList struct {
	version int64
	list    *models.List
}

type versionedIndex struct {
	version int64
	index   *models.InvitationIndex
}

// MemoryStore is an in-process document store with optimistic concurrency.
// Every document carries a version; a transaction commits only if the
// versions it read are still current.
type MemoryStore struct {
	mu      sync.RWMutex
	lists   map[string]*versionedList
	indexes map[string]*versionedIndex
	users   map[string]models.BasicUser
	broker  *broker

	maxAttempts int
	commitHook  func(attempt int)
	failure     error
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:       make(map[string]*versionedList),
		indexes:     make(map[string]*versionedIndex),
		users:       make(map[string]models.BasicUser),
		broker:      newBroker(),
		maxAttempts: DefaultMaxAttempts,
	}
}

// SetCommitHook installs fn to run after a transaction body and before its
// commit. Tests use it to force concurrent writes.
func (s *MemoryStore) SetCommitHook(fn func(attempt int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// SetMaxAttempts changes the transaction retry budget
func (s *MemoryStore) SetMaxAttempts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxAttempts = n
}

// InjectError makes every operation fail with err until called with nil
func (s *MemoryStore) InjectError(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
	s.broker.publishAll()
}

func (s *MemoryStore) fault() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// CreateList stores a new list under a generated id
func (s *MemoryStore) CreateList(ctx context.Context, list models.List) (string, error) {
	if err := s.fault(); err != nil {
		return "", err
	}
	list.ID = uuid.NewString()
	if err := checkList(&list); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.lists[list.ID] = &versionedList{version: 1, list: list.Clone()}
	s.mu.Unlock()

	s.broker.publish(listTopic(list.ID), ownerTopic(list.CriadoPor))
	return list.ID, nil
}

// GetList returns a copy of the list
func (s *MemoryStore) GetList(ctx context.Context, id string) (*models.List, error) {
	if err := s.fault(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.lists[id]
	if !ok {
		return nil, models.ErrListNotFound
	}
	return doc.list.Clone(), nil
}

// SetListActive flips the archive flag without a transaction
func (s *MemoryStore) SetListActive(ctx context.Context, id string, active bool, at time.Time) error {
	if err := s.fault(); err != nil {
		return err
	}
	s.mu.Lock()
	doc, ok := s.lists[id]
	if !ok {
		s.mu.Unlock()
		return models.ErrListNotFound
	}
	s.setActiveLocked(doc, active, at)
	owner := doc.list.CriadoPor
	s.mu.Unlock()

	s.broker.publish(listTopic(id), ownerTopic(owner))
	return nil
}

func (s *MemoryStore) setActiveLocked(doc *versionedList, active bool, at time.Time) {
	list := doc.list.Clone()
	list.Ativa = active
	list.DataAtualizacao = at.UTC()
	doc.list = list
	doc.version++
}

// DeleteList removes the list. Deleting a missing list is not an error.
func (s *MemoryStore) DeleteList(ctx context.Context, id string) error {
	if err := s.fault(); err != nil {
		return err
	}
	s.mu.Lock()
	doc, ok := s.lists[id]
	delete(s.lists, id)
	s.mu.Unlock()

	if ok {
		s.broker.publish(listTopic(id), ownerTopic(doc.list.CriadoPor))
	}
	return nil
}

// RunTransaction runs fn and commits its writes, retrying on conflict
func (s *MemoryStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	s.mu.RLock()
	attempts := s.maxAttempts
	s.mu.RUnlock()

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fault(); err != nil {
			return err
		}

		tx := &memTx{
			s:          s,
			listReads:  make(map[string]int64),
			indexReads: make(map[string]int64),
			lists:      make(map[string]*models.List),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}

		s.mu.RLock()
		hook := s.commitHook
		s.mu.RUnlock()
		if hook != nil {
			hook(attempt)
		}

		err := s.commit(tx)
		if errors.Is(err, errConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w (%d attempts)", models.ErrConflict, attempts)
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	for id, version := range tx.listReads {
		if s.listVersionLocked(id) != version {
			s.mu.Unlock()
			return errConflict
		}
	}
	for uid, version := range tx.indexReads {
		if s.indexVersionLocked(uid) != version {
			s.mu.Unlock()
			return errConflict
		}
	}

	var topics []string
	for _, id := range tx.listOrder {
		list := tx.lists[id]
		if doc, ok := s.lists[id]; ok {
			topics = append(topics, ownerTopic(doc.list.CriadoPor))
			doc.list = list
			doc.version++
		} else {
			s.lists[id] = &versionedList{version: 1, list: list}
		}
		topics = append(topics, listTopic(id), ownerTopic(list.CriadoPor))
	}
	for _, id := range tx.deletes {
		if doc, ok := s.lists[id]; ok {
			topics = append(topics, ownerTopic(doc.list.CriadoPor))
			delete(s.lists, id)
		}
		topics = append(topics, listTopic(id))
	}
	for _, op := range tx.indexOps {
		s.applyIndexOpLocked(op)
		topics = append(topics, inviteTopic(op.uid))
	}
	s.mu.Unlock()

	s.broker.publish(topics...)
	return nil
}

// CommitBatch applies every write of batch or none of them
func (s *MemoryStore) CommitBatch(ctx context.Context, batch *Batch) error {
	if err := s.fault(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, op := range batch.ops {
		if op.kind == opSetListActive {
			if _, ok := s.lists[op.listID]; !ok {
				s.mu.Unlock()
				return fmt.Errorf("batch update of listas/%s: %w", op.listID, models.ErrListNotFound)
			}
		}
	}

	var topics []string
	for _, op := range batch.ops {
		switch op.kind {
		case opDeleteList:
			if doc, ok := s.lists[op.listID]; ok {
				topics = append(topics, ownerTopic(doc.list.CriadoPor))
				delete(s.lists, op.listID)
			}
			topics = append(topics, listTopic(op.listID))
		case opSetListActive:
			doc := s.lists[op.listID]
			s.setActiveLocked(doc, op.active, op.at)
			topics = append(topics, listTopic(op.listID), ownerTopic(doc.list.CriadoPor))
		case opPutInvitation, opDropInvitation:
			s.applyIndexOpLocked(op)
			topics = append(topics, inviteTopic(op.uid))
		}
	}
	s.mu.Unlock()

	s.broker.publish(topics...)
	return nil
}

func (s *MemoryStore) applyIndexOpLocked(op batchOp) {
	doc, ok := s.indexes[op.uid]
	if !ok {
		doc = &versionedIndex{index: emptyIndex(op.uid)}
		s.indexes[op.uid] = doc
	}
	next := cloneIndex(doc.index)
	if op.kind == opPutInvitation {
		next.Convites[op.listID] = op.summary
	} else {
		delete(next.Convites, op.listID)
	}
	doc.index = next
	doc.version++
}

func (s *MemoryStore) listVersionLocked(id string) int64 {
	if doc, ok := s.lists[id]; ok {
		return doc.version
	}
	return 0
}

func (s *MemoryStore) indexVersionLocked(uid string) int64 {
	if doc, ok := s.indexes[uid]; ok {
		return doc.version
	}
	return 0
}

// GetInvitationIndex returns the user's invitation index, empty if it does not exist
func (s *MemoryStore) GetInvitationIndex(ctx context.Context, uid string) (*models.InvitationIndex, error) {
	if err := s.fault(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.indexes[uid]; ok {
		return cloneIndex(doc.index), nil
	}
	return emptyIndex(uid), nil
}

// WatchList streams the list document
func (s *MemoryStore) WatchList(ctx context.Context, id string) *Stream[ListSnapshot] {
	return watch(ctx, s.broker, listTopic(id), func(ctx context.Context) ListSnapshot {
		list, err := s.GetList(ctx, id)
		if errors.Is(err, models.ErrListNotFound) {
			return ListSnapshot{}
		}
		return ListSnapshot{List: list, Err: err}
	})
}

// WatchUserLists streams the active lists created by uid, newest first
func (s *MemoryStore) WatchUserLists(ctx context.Context, uid string) *Stream[ListsSnapshot] {
	return watch(ctx, s.broker, ownerTopic(uid), func(ctx context.Context) ListsSnapshot {
		if err := s.fault(); err != nil {
			return ListsSnapshot{Err: err}
		}
		s.mu.RLock()
		lists := make([]models.List, 0)
		for _, doc := range s.lists {
			if doc.list.CriadoPor == uid && doc.list.Ativa {
				lists = append(lists, *doc.list.Clone())
			}
		}
		s.mu.RUnlock()

		sortNewestFirst(lists)
		return ListsSnapshot{Lists: lists}
	})
}

// WatchInvitations streams the user's invitation index
func (s *MemoryStore) WatchInvitations(ctx context.Context, uid string) *Stream[InvitationsSnapshot] {
	return watch(ctx, s.broker, inviteTopic(uid), func(ctx context.Context) InvitationsSnapshot {
		index, err := s.GetInvitationIndex(ctx, uid)
		return InvitationsSnapshot{Index: index, Err: err}
	})
}

// PutUser creates or updates a directory entry. The email is stored lowercased.
func (s *MemoryStore) PutUser(ctx context.Context, user models.BasicUser) error {
	if err := s.fault(); err != nil {
		return err
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if err := checkUser(&user); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[user.UID]; ok && !existing.CriadoEm.IsZero() {
		user.CriadoEm = existing.CriadoEm
	}
	s.users[user.UID] = user
	return nil
}

// GetUser returns the directory entry for uid
func (s *MemoryStore) GetUser(ctx context.Context, uid string) (*models.BasicUser, error) {
	if err := s.fault(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[uid]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &user, nil
}

// FindUserByEmail returns the first directory entry whose email matches exactly
func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*models.BasicUser, error) {
	if err := s.fault(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []models.BasicUser
	for _, user := range s.users {
		if user.Email == email {
			matches = append(matches, user)
		}
	}
	if len(matches) == 0 {
		return nil, models.ErrUserNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CriadoEm.Before(matches[j].CriadoEm) })
	return &matches[0], nil
}

// Ping reports the injected failure, if any
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.fault()
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}

type memTx struct {
	s          *MemoryStore
	listReads  map[string]int64
	indexReads map[string]int64
	lists      map[string]*models.List
	listOrder  []string
	deletes    []string
	indexOps   []batchOp
	wrote      bool
}

func (t *memTx) GetList(id string) (*models.List, error) {
	if t.wrote {
		return nil, errReadAfterWrite
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	doc, ok := t.s.lists[id]
	if !ok {
		t.listReads[id] = 0
		return nil, models.ErrListNotFound
	}
	t.listReads[id] = doc.version
	return doc.list.Clone(), nil
}

func (t *memTx) PutList(list *models.List) error {
	stored := list.Clone()
	if err := checkList(stored); err != nil {
		return err
	}
	t.wrote = true
	if _, ok := t.lists[stored.ID]; !ok {
		t.listOrder = append(t.listOrder, stored.ID)
	}
	t.lists[stored.ID] = stored
	return nil
}

func (t *memTx) DeleteList(id string) error {
	if _, read := t.listReads[id]; !read {
		return fmt.Errorf("list %s deleted without being read in the transaction", id)
	}
	t.wrote = true
	t.deletes = append(t.deletes, id)
	return nil
}

func (t *memTx) GetInvitationIndex(uid string) (*models.InvitationIndex, error) {
	if t.wrote {
		return nil, errReadAfterWrite
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	doc, ok := t.s.indexes[uid]
	if !ok {
		t.indexReads[uid] = 0
		return emptyIndex(uid), nil
	}
	t.indexReads[uid] = doc.version
	return cloneIndex(doc.index), nil
}

func (t *memTx) PutInvitation(uid string, summary models.InvitationSummary) error {
	t.wrote = true
	t.indexOps = append(t.indexOps, batchOp{kind: opPutInvitation, uid: uid, listID: summary.ListaID, summary: summary})
	return nil
}

func (t *memTx) DropInvitation(uid, listID string) error {
	t.wrote = true
	t.indexOps = append(t.indexOps, batchOp{kind: opDropInvitation, uid: uid, listID: listID})
	return nil
}

func cloneIndex(index *models.InvitationIndex) *models.InvitationIndex {
	c := emptyIndex(index.UID)
	for k, v := range index.Convites {
		c.Convites[k] = v
	}
	return c
}
