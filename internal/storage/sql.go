package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vainalista-api/internal/logging"
	"vainalista-api/internal/models"
)

// listRow stores a list document as a JSON body. The queried fields are
// duplicated into columns.
type listRow struct {
	ID              string    `gorm:"primaryKey;size:64"`
	CriadoPor       string    `gorm:"size:128;not null;index:idx_listas_owner_active"`
	Ativa           bool      `gorm:"not null;index:idx_listas_owner_active"`
	DataAtualizacao time.Time `gorm:"not null;index"`
	Version         int64     `gorm:"not null"`
	Body            string    `gorm:"type:text;not null"`
}

func (listRow) TableName() string { return "listas" }

type userRow struct {
	UID      string    `gorm:"primaryKey;size:128"`
	Email    string    `gorm:"size:255;not null;index"`
	Nome     string    `gorm:"size:255"`
	PhotoURL string    `gorm:"size:500"`
	CriadoEm time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "usuarios" }

type invitationIndexRow struct {
	UID     string `gorm:"primaryKey;size:128"`
	Version int64  `gorm:"not null"`
	Body    string `gorm:"type:text;not null"`
}

func (invitationIndexRow) TableName() string { return "convites_usuario" }

// SQLStore implements the document store on top of GORM (PostgreSQL or
// SQLite). Transactions read outside the database transaction and commit
// with version-checked updates, so a concurrent writer makes the commit
// fail and the body run again.
type SQLStore struct {
	db          *gorm.DB
	broker      *broker
	maxAttempts int
	commitHook  func(attempt int)
	log         *logrus.Entry
}

// NewSQLStore creates a new SQL-backed store
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{
		db:          db,
		broker:      newBroker(),
		maxAttempts: DefaultMaxAttempts,
		log:         logging.For("storage.sql"),
	}
}

// AutoMigrate creates the document tables
func (s *SQLStore) AutoMigrate() error {
	return s.db.AutoMigrate(&listRow{}, &userRow{}, &invitationIndexRow{})
}

// SetCommitHook installs fn to run between a transaction's reads and its commit
func (s *SQLStore) SetCommitHook(fn func(attempt int)) {
	s.commitHook = fn
}

func encodeList(list *models.List) (listRow, error) {
	body, err := json.Marshal(list)
	if err != nil {
		return listRow{}, fmt.Errorf("failed to encode list: %w", err)
	}
	return listRow{
		ID:              list.ID,
		CriadoPor:       list.CriadoPor,
		Ativa:           list.Ativa,
		DataAtualizacao: list.DataAtualizacao,
		Body:            string(body),
	}, nil
}

func decodeListRow(row *listRow) (*models.List, error) {
	var list models.List
	if err := json.Unmarshal([]byte(row.Body), &list); err != nil {
		return nil, fmt.Errorf("%w: listas/%s: %v", models.ErrInvalidDocument, row.ID, err)
	}
	list.ID = row.ID
	if err := checkList(&list); err != nil {
		return nil, err
	}
	return &list, nil
}

func decodeIndexRow(row *invitationIndexRow) (*models.InvitationIndex, error) {
	index := emptyIndex(row.UID)
	if err := json.Unmarshal([]byte(row.Body), &index.Convites); err != nil {
		return nil, fmt.Errorf("%w: convites_usuario/%s: %v", models.ErrInvalidDocument, row.UID, err)
	}
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	return index, nil
}

// CreateList stores a new list under a generated id
func (s *SQLStore) CreateList(ctx context.Context, list models.List) (string, error) {
	list.ID = uuid.NewString()
	if err := checkList(&list); err != nil {
		return "", err
	}
	row, err := encodeList(&list)
	if err != nil {
		return "", err
	}
	row.Version = 1
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to create list: %w", err)
	}

	s.broker.publish(listTopic(list.ID), ownerTopic(list.CriadoPor))
	return list.ID, nil
}

func (s *SQLStore) loadList(db *gorm.DB, id string) (*listRow, error) {
	var row listRow
	err := db.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load list %s: %w", id, err)
	}
	return &row, nil
}

// GetList returns the list document
func (s *SQLStore) GetList(ctx context.Context, id string) (*models.List, error) {
	row, err := s.loadList(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return decodeListRow(row)
}

// SetListActive flips the archive flag
func (s *SQLStore) SetListActive(ctx context.Context, id string, active bool, at time.Time) error {
	var owner string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		owner, err = setActive(tx, id, active, at)
		return err
	})
	if err != nil {
		return err
	}
	s.broker.publish(listTopic(id), ownerTopic(owner))
	return nil
}

func setActive(tx *gorm.DB, id string, active bool, at time.Time) (string, error) {
	var row listRow
	err := tx.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", models.ErrListNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load list %s: %w", id, err)
	}
	list, err := decodeListRow(&row)
	if err != nil {
		return "", err
	}
	list.Ativa = active
	list.DataAtualizacao = at.UTC()
	return list.CriadoPor, updateListRow(tx, list, row.Version)
}

func updateListRow(tx *gorm.DB, list *models.List, expected int64) error {
	row, err := encodeList(list)
	if err != nil {
		return err
	}
	res := tx.Model(&listRow{}).
		Where("id = ? AND version = ?", list.ID, expected).
		Updates(map[string]interface{}{
			"criado_por":       row.CriadoPor,
			"ativa":            row.Ativa,
			"data_atualizacao": row.DataAtualizacao,
			"version":          expected + 1,
			"body":             row.Body,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update list %s: %w", list.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errConflict
	}
	return nil
}

// DeleteList removes the list
func (s *SQLStore) DeleteList(ctx context.Context, id string) error {
	var owner string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		owner, err = deleteList(tx, id)
		return err
	})
	if err != nil {
		return err
	}
	s.broker.publish(listTopic(id), ownerTopic(owner))
	return nil
}

func deleteList(tx *gorm.DB, id string) (string, error) {
	var row listRow
	err := tx.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load list %s: %w", id, err)
	}
	if err := tx.Where("id = ?", id).Delete(&listRow{}).Error; err != nil {
		return "", fmt.Errorf("failed to delete list %s: %w", id, err)
	}
	return row.CriadoPor, nil
}

// RunTransaction runs fn and commits its writes, retrying on conflict
func (s *SQLStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &sqlTx{
			s:          s,
			ctx:        ctx,
			listReads:  make(map[string]int64),
			indexReads: make(map[string]int64),
			lists:      make(map[string]*models.List),
			owners:     make(map[string]string),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.commitHook != nil {
			s.commitHook(attempt)
		}

		topics, err := s.commit(ctx, tx)
		if errors.Is(err, errConflict) {
			s.log.WithFields(logrus.Fields{"attempt": attempt}).Debug("Transaction conflict, retrying")
			continue
		}
		if err != nil {
			return err
		}
		s.broker.publish(topics...)
		return nil
	}
	return fmt.Errorf("%w (%d attempts)", models.ErrConflict, s.maxAttempts)
}

func (s *SQLStore) commit(ctx context.Context, t *sqlTx) ([]string, error) {
	var topics []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range t.listOrder {
			list := t.lists[id]
			expected, read := t.listReads[id]
			if !read {
				return fmt.Errorf("list %s written without being read in the transaction", id)
			}
			if expected == 0 {
				row, err := encodeList(list)
				if err != nil {
					return err
				}
				row.Version = 1
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
				if res.Error != nil {
					return fmt.Errorf("failed to create list %s: %w", id, res.Error)
				}
				if res.RowsAffected == 0 {
					return errConflict
				}
			} else if err := updateListRow(tx, list, expected); err != nil {
				return err
			}
			topics = append(topics, listTopic(id), ownerTopic(list.CriadoPor))
		}

		for _, id := range t.deletes {
			res := tx.Where("id = ? AND version = ?", id, t.listReads[id]).Delete(&listRow{})
			if res.Error != nil {
				return fmt.Errorf("failed to delete list %s: %w", id, res.Error)
			}
			if res.RowsAffected == 0 && t.listReads[id] != 0 {
				return errConflict
			}
			topics = append(topics, listTopic(id), ownerTopic(t.owners[id]))
		}

		for uid, ops := range groupIndexOps(t.indexOps) {
			expected, read := t.indexReads[uid]
			if err := applyIndexOps(tx, uid, expected, read, ops); err != nil {
				return err
			}
			topics = append(topics, inviteTopic(uid))
		}
		return nil
	})
	return topics, err
}

// CommitBatch applies every write of batch in one database transaction
func (s *SQLStore) CommitBatch(ctx context.Context, batch *Batch) error {
	var topics []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var indexOps []batchOp
		for _, op := range batch.ops {
			switch op.kind {
			case opDeleteList:
				owner, err := deleteList(tx, op.listID)
				if err != nil {
					return err
				}
				topics = append(topics, listTopic(op.listID), ownerTopic(owner))
			case opSetListActive:
				owner, err := setActive(tx, op.listID, op.active, op.at)
				if err != nil {
					return err
				}
				topics = append(topics, listTopic(op.listID), ownerTopic(owner))
			default:
				indexOps = append(indexOps, op)
			}
		}
		for uid, ops := range groupIndexOps(indexOps) {
			if err := applyIndexOps(tx, uid, 0, false, ops); err != nil {
				return err
			}
			topics = append(topics, inviteTopic(uid))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.broker.publish(topics...)
	return nil
}

func groupIndexOps(ops []batchOp) map[string][]batchOp {
	grouped := make(map[string][]batchOp)
	for _, op := range ops {
		grouped[op.uid] = append(grouped[op.uid], op)
	}
	return grouped
}

// applyIndexOps merges ops into uid's index. When the index was read by the
// transaction its version must still be expected; otherwise the current row
// is read inside the database transaction.
func applyIndexOps(tx *gorm.DB, uid string, expected int64, read bool, ops []batchOp) error {
	var row invitationIndexRow
	err := tx.Where("uid = ?", uid).First(&row).Error
	exists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load invitation index %s: %w", uid, err)
	}
	if read && row.Version != expected {
		return errConflict
	}

	index := emptyIndex(uid)
	if exists {
		if index, err = decodeIndexRow(&row); err != nil {
			return err
		}
	}
	for _, op := range ops {
		if op.kind == opPutInvitation {
			index.Convites[op.listID] = op.summary
		} else {
			delete(index.Convites, op.listID)
		}
	}
	body, err := json.Marshal(index.Convites)
	if err != nil {
		return fmt.Errorf("failed to encode invitation index: %w", err)
	}

	if !exists {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&invitationIndexRow{UID: uid, Version: 1, Body: string(body)})
		if res.Error != nil {
			return fmt.Errorf("failed to create invitation index %s: %w", uid, res.Error)
		}
		if res.RowsAffected == 0 {
			return errConflict
		}
		return nil
	}

	res := tx.Model(&invitationIndexRow{}).
		Where("uid = ? AND version = ?", uid, row.Version).
		Updates(map[string]interface{}{"version": row.Version + 1, "body": string(body)})
	if res.Error != nil {
		return fmt.Errorf("failed to update invitation index %s: %w", uid, res.Error)
	}
	if res.RowsAffected == 0 {
		return errConflict
	}
	return nil
}

// GetInvitationIndex returns the user's invitation index, empty if absent
func (s *SQLStore) GetInvitationIndex(ctx context.Context, uid string) (*models.InvitationIndex, error) {
	var row invitationIndexRow
	err := s.db.WithContext(ctx).Where("uid = ?", uid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptyIndex(uid), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invitation index %s: %w", uid, err)
	}
	return decodeIndexRow(&row)
}

// WatchList streams the list document
func (s *SQLStore) WatchList(ctx context.Context, id string) *Stream[ListSnapshot] {
	return watch(ctx, s.broker, listTopic(id), func(ctx context.Context) ListSnapshot {
		list, err := s.GetList(ctx, id)
		if errors.Is(err, models.ErrListNotFound) {
			return ListSnapshot{}
		}
		return ListSnapshot{List: list, Err: err}
	})
}

// WatchUserLists streams the active lists created by uid, newest first
func (s *SQLStore) WatchUserLists(ctx context.Context, uid string) *Stream[ListsSnapshot] {
	return watch(ctx, s.broker, ownerTopic(uid), func(ctx context.Context) ListsSnapshot {
		var rows []listRow
		err := s.db.WithContext(ctx).
			Where("criado_por = ? AND ativa = ?", uid, true).
			Order("data_atualizacao DESC").
			Find(&rows).Error
		if err != nil {
			return ListsSnapshot{Err: fmt.Errorf("failed to query lists: %w", err)}
		}

		lists := make([]models.List, 0, len(rows))
		for i := range rows {
			list, err := decodeListRow(&rows[i])
			if err != nil {
				return ListsSnapshot{Err: err}
			}
			lists = append(lists, *list)
		}
		sortNewestFirst(lists)
		return ListsSnapshot{Lists: lists}
	})
}

// WatchInvitations streams the user's invitation index
func (s *SQLStore) WatchInvitations(ctx context.Context, uid string) *Stream[InvitationsSnapshot] {
	return watch(ctx, s.broker, inviteTopic(uid), func(ctx context.Context) InvitationsSnapshot {
		index, err := s.GetInvitationIndex(ctx, uid)
		return InvitationsSnapshot{Index: index, Err: err}
	})
}

// PutUser creates or updates a directory entry, keeping its creation date
func (s *SQLStore) PutUser(ctx context.Context, user models.BasicUser) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.CriadoEm.IsZero() {
		user.CriadoEm = time.Now().UTC()
	}
	if err := checkUser(&user); err != nil {
		return err
	}
	row := userRow{UID: user.UID, Email: user.Email, Nome: user.Nome, PhotoURL: user.PhotoURL, CriadoEm: user.CriadoEm}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "nome", "photo_url"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUser returns the directory entry for uid
func (s *SQLStore) GetUser(ctx context.Context, uid string) (*models.BasicUser, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("uid = ?", uid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return rowToUser(&row), nil
}

// FindUserByEmail returns the oldest directory entry whose email matches exactly
func (s *SQLStore) FindUserByEmail(ctx context.Context, email string) (*models.BasicUser, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("email = ?", email).Order("criado_em ASC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return rowToUser(&row), nil
}

func rowToUser(row *userRow) *models.BasicUser {
	return &models.BasicUser{
		UID:      row.UID,
		Email:    row.Email,
		Nome:     row.Nome,
		PhotoURL: row.PhotoURL,
		CriadoEm: row.CriadoEm.UTC(),
	}
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
	return nil
}

// Close implements Store. The connection pool belongs to the caller.
func (s *SQLStore) Close() error {
	return nil
}

type sqlTx struct {
	s          *SQLStore
	ctx        context.Context
	listReads  map[string]int64
	indexReads map[string]int64
	lists      map[string]*models.List
	listOrder  []string
	deletes    []string
	owners     map[string]string
	indexOps   []batchOp
	wrote      bool
}

func (t *sqlTx) GetList(id string) (*models.List, error) {
	if t.wrote {
		return nil, errReadAfterWrite
	}
	row, err := t.s.loadList(t.s.db.WithContext(t.ctx), id)
	if errors.Is(err, models.ErrListNotFound) {
		t.listReads[id] = 0
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	t.listReads[id] = row.Version
	t.owners[id] = row.CriadoPor
	return decodeListRow(row)
}

func (t *sqlTx) DeleteList(id string) error {
	if _, read := t.listReads[id]; !read {
		return fmt.Errorf("list %s deleted without being read in the transaction", id)
	}
	t.wrote = true
	t.deletes = append(t.deletes, id)
	return nil
}

func (t *sqlTx) PutList(list *models.List) error {
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

func (t *sqlTx) GetInvitationIndex(uid string) (*models.InvitationIndex, error) {
	if t.wrote {
		return nil, errReadAfterWrite
	}
	var row invitationIndexRow
	err := t.s.db.WithContext(t.ctx).Where("uid = ?", uid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		t.indexReads[uid] = 0
		return emptyIndex(uid), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invitation index %s: %w", uid, err)
	}
	t.indexReads[uid] = row.Version
	return decodeIndexRow(&row)
}

func (t *sqlTx) PutInvitation(uid string, summary models.InvitationSummary) error {
	t.wrote = true
	t.indexOps = append(t.indexOps, batchOp{kind: opPutInvitation, uid: uid, listID: summary.ListaID, summary: summary})
	return nil
}

func (t *sqlTx) DropInvitation(uid, listID string) error {
	t.wrote = true
	t.indexOps = append(t.indexOps, batchOp{kind: opDropInvitation, uid: uid, listID: listID})
	return nil
}
