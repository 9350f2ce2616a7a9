package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vainalista-api/internal/logging"
	"vainalista-api/internal/models"
)

const (
	listsCollection       = "listas"
	usersCollection       = "usuarios"
	invitationsCollection = "convites_usuario"
)

// NewFirestoreClient opens a Firestore client. An empty credentialsFile
// uses Application Default Credentials.
func NewFirestoreClient(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("firestore: projectID is empty")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return client, nil
}

// FirestoreStore implements the document store on Cloud Firestore
type FirestoreStore struct {
	client      *firestore.Client
	maxAttempts int
	log         *logrus.Entry
}

// NewFirestoreStore wraps an open client
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client:      client,
		maxAttempts: DefaultMaxAttempts,
		log:         logging.For("storage.firestore"),
	}
}

func (s *FirestoreStore) lists() *firestore.CollectionRef {
	return s.client.Collection(listsCollection)
}

func (s *FirestoreStore) users() *firestore.CollectionRef {
	return s.client.Collection(usersCollection)
}

func (s *FirestoreStore) invitations() *firestore.CollectionRef {
	return s.client.Collection(invitationsCollection)
}

// classify maps gRPC status codes onto the engine's error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	case codes.Aborted:
		return fmt.Errorf("%w: %v", models.ErrConflict, err)
	}
	return err
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func decodeListDoc(snap *firestore.DocumentSnapshot) (*models.List, error) {
	var list models.List
	if err := snap.DataTo(&list); err != nil {
		return nil, fmt.Errorf("%w: listas/%s: %v", models.ErrInvalidDocument, snap.Ref.ID, err)
	}
	list.ID = snap.Ref.ID
	if err := checkList(&list); err != nil {
		return nil, err
	}
	return &list, nil
}

func decodeIndexDoc(snap *firestore.DocumentSnapshot) (*models.InvitationIndex, error) {
	index := emptyIndex(snap.Ref.ID)
	if err := snap.DataTo(index); err != nil {
		return nil, fmt.Errorf("%w: convites_usuario/%s: %v", models.ErrInvalidDocument, snap.Ref.ID, err)
	}
	index.UID = snap.Ref.ID
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	return index, nil
}

func decodeUserDoc(snap *firestore.DocumentSnapshot) (*models.BasicUser, error) {
	var user models.BasicUser
	if err := snap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("%w: usuarios/%s: %v", models.ErrInvalidDocument, snap.Ref.ID, err)
	}
	if user.UID == "" {
		user.UID = snap.Ref.ID
	}
	if err := checkUser(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateList stores a new list under a Firestore-assigned id
func (s *FirestoreStore) CreateList(ctx context.Context, list models.List) (string, error) {
	ref := s.lists().NewDoc()
	list.ID = ref.ID
	if err := checkList(&list); err != nil {
		return "", err
	}
	if _, err := ref.Create(ctx, list); err != nil {
		return "", classify(err)
	}
	return ref.ID, nil
}

// GetList returns the list document
func (s *FirestoreStore) GetList(ctx context.Context, id string) (*models.List, error) {
	snap, err := s.lists().Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, models.ErrListNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeListDoc(snap)
}

func activeUpdates(active bool, at time.Time) []firestore.Update {
	return []firestore.Update{
		{Path: "ativa", Value: active},
		{Path: "dataAtualizacao", Value: at.UTC()},
	}
}

// SetListActive flips the archive flag with a single-document update
func (s *FirestoreStore) SetListActive(ctx context.Context, id string, active bool, at time.Time) error {
	_, err := s.lists().Doc(id).Update(ctx, activeUpdates(active, at))
	if isNotFound(err) {
		return models.ErrListNotFound
	}
	return classify(err)
}

// DeleteList removes the list
func (s *FirestoreStore) DeleteList(ctx context.Context, id string) error {
	_, err := s.lists().Doc(id).Delete(ctx)
	return classify(err)
}

// RunTransaction uses Firestore's optimistic transactions
func (s *FirestoreStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &firestoreTx{s: s, tx: tx})
	}, firestore.MaxAttempts(s.maxAttempts))
	return classify(err)
}

func indexEntry(listID string, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"convites": map[string]interface{}{listID: value},
	}
}

// CommitBatch commits every write atomically
func (s *FirestoreStore) CommitBatch(ctx context.Context, batch *Batch) error {
	b := s.client.Batch()
	for _, op := range batch.ops {
		switch op.kind {
		case opDeleteList:
			b.Delete(s.lists().Doc(op.listID))
		case opSetListActive:
			b.Update(s.lists().Doc(op.listID), activeUpdates(op.active, op.at))
		case opPutInvitation:
			b.Set(s.invitations().Doc(op.uid), indexEntry(op.listID, op.summary), firestore.MergeAll)
		case opDropInvitation:
			b.Set(s.invitations().Doc(op.uid), indexEntry(op.listID, firestore.Delete), firestore.MergeAll)
		}
	}
	if _, err := b.Commit(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("batch commit: %w", models.ErrListNotFound)
		}
		return classify(err)
	}
	return nil
}

// GetInvitationIndex returns the user's invitation index, empty if absent
func (s *FirestoreStore) GetInvitationIndex(ctx context.Context, uid string) (*models.InvitationIndex, error) {
	snap, err := s.invitations().Doc(uid).Get(ctx)
	if isNotFound(err) {
		return emptyIndex(uid), nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeIndexDoc(snap)
}

// WatchList streams snapshots of the list document
func (s *FirestoreStore) WatchList(ctx context.Context, id string) *Stream[ListSnapshot] {
	stream, ctx, ch := newStream[ListSnapshot](ctx)
	it := s.lists().Doc(id).Snapshots(ctx)

	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			var out ListSnapshot
			switch {
			case isNotFound(err):
			case err != nil:
				s.log.WithError(err).WithField("list_id", id).Warn("List snapshot stream failed")
				deliver(ctx, ch, ListSnapshot{Err: classify(err)})
				return
			case snap.Exists():
				out.List, out.Err = decodeListDoc(snap)
			}
			if !deliver(ctx, ch, out) {
				return
			}
		}
	}()
	return stream
}

// WatchUserLists streams the active lists created by uid, newest first
func (s *FirestoreStore) WatchUserLists(ctx context.Context, uid string) *Stream[ListsSnapshot] {
	stream, ctx, ch := newStream[ListsSnapshot](ctx)
	q := s.lists().
		Where("criadoPor", "==", uid).
		Where("ativa", "==", true).
		OrderBy("dataAtualizacao", firestore.Desc)
	it := q.Snapshots(ctx)

	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.log.WithError(err).WithField("uid", uid).Warn("User lists snapshot stream failed")
				deliver(ctx, ch, ListsSnapshot{Err: classify(err)})
				return
			}
			if !deliver(ctx, ch, s.collectLists(qs)) {
				return
			}
		}
	}()
	return stream
}

func (s *FirestoreStore) collectLists(qs *firestore.QuerySnapshot) ListsSnapshot {
	docs, err := qs.Documents.GetAll()
	if err != nil {
		return ListsSnapshot{Err: classify(err)}
	}
	lists := make([]models.List, 0, len(docs))
	for _, doc := range docs {
		list, err := decodeListDoc(doc)
		if err != nil {
			return ListsSnapshot{Err: err}
		}
		lists = append(lists, *list)
	}
	sortNewestFirst(lists)
	return ListsSnapshot{Lists: lists}
}

// WatchInvitations streams the user's invitation index document
func (s *FirestoreStore) WatchInvitations(ctx context.Context, uid string) *Stream[InvitationsSnapshot] {
	stream, ctx, ch := newStream[InvitationsSnapshot](ctx)
	it := s.invitations().Doc(uid).Snapshots(ctx)

	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			out := InvitationsSnapshot{Index: emptyIndex(uid)}
			switch {
			case isNotFound(err):
			case err != nil:
				deliver(ctx, ch, InvitationsSnapshot{Err: classify(err)})
				return
			case snap.Exists():
				out.Index, out.Err = decodeIndexDoc(snap)
			}
			if !deliver(ctx, ch, out) {
				return
			}
		}
	}()
	return stream
}

// PutUser creates the directory entry or merges its profile fields
func (s *FirestoreStore) PutUser(ctx context.Context, user models.BasicUser) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.CriadoEm.IsZero() {
		user.CriadoEm = time.Now().UTC()
	}
	if err := checkUser(&user); err != nil {
		return err
	}
	ref := s.users().Doc(user.UID)
	_, err := ref.Create(ctx, user)
	if status.Code(err) == codes.AlreadyExists {
		_, err = ref.Set(ctx, map[string]interface{}{
			"email":    user.Email,
			"nome":     user.Nome,
			"photoURL": user.PhotoURL,
		}, firestore.MergeAll)
	}
	return classify(err)
}

// GetUser returns the directory entry for uid
func (s *FirestoreStore) GetUser(ctx context.Context, uid string) (*models.BasicUser, error) {
	snap, err := s.users().Doc(uid).Get(ctx)
	if isNotFound(err) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeUserDoc(snap)
}

// FindUserByEmail returns the first directory entry whose email matches exactly
func (s *FirestoreStore) FindUserByEmail(ctx context.Context, email string) (*models.BasicUser, error) {
	iter := s.users().Where("email", "==", email).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeUserDoc(snap)
}

// Ping lists one collection to check connectivity
func (s *FirestoreStore) Ping(ctx context.Context) error {
	iter := s.client.Collections(ctx)
	_, err := iter.Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return classify(err)
	}
	return nil
}

// Close closes the client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

type firestoreTx struct {
	s  *FirestoreStore
	tx *firestore.Transaction
}

func (t *firestoreTx) GetList(id string) (*models.List, error) {
	snap, err := t.tx.Get(t.s.lists().Doc(id))
	if isNotFound(err) {
		return nil, models.ErrListNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeListDoc(snap)
}

func (t *firestoreTx) PutList(list *models.List) error {
	stored := list.Clone()
	if err := checkList(stored); err != nil {
		return err
	}
	return t.tx.Set(t.s.lists().Doc(stored.ID), stored)
}

func (t *firestoreTx) DeleteList(id string) error {
	return t.tx.Delete(t.s.lists().Doc(id))
}

func (t *firestoreTx) GetInvitationIndex(uid string) (*models.InvitationIndex, error) {
	snap, err := t.tx.Get(t.s.invitations().Doc(uid))
	if isNotFound(err) {
		return emptyIndex(uid), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeIndexDoc(snap)
}

func (t *firestoreTx) PutInvitation(uid string, summary models.InvitationSummary) error {
	return t.tx.Set(t.s.invitations().Doc(uid), indexEntry(summary.ListaID, summary), firestore.MergeAll)
}

func (t *firestoreTx) DropInvitation(uid, listID string) error {
	return t.tx.Set(t.s.invitations().Doc(uid), indexEntry(listID, firestore.Delete), firestore.MergeAll)
}
