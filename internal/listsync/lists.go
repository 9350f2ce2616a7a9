package listsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
	"vainalista-api/internal/storage"
)

// CreateList stores a new empty list owned by the signed-in user and
// selects it
func (e *Engine) CreateList(ctx context.Context, in models.NewList) (*models.List, error) {
	fields := logrus.Fields{}
	identity, err := e.guard()
	if err != nil {
		return nil, e.fail(opCreateList, fields, err)
	}
	fields["uid"] = identity.UID

	name := strings.TrimSpace(in.Nome)
	if name == "" {
		return nil, e.fail(opCreateList, fields, fmt.Errorf("%w: list name is required", models.ErrInvalidInput))
	}
	category := strings.TrimSpace(in.Categoria)
	if category == "" {
		category = models.DefaultCategory
	}

	now := e.now().UTC()
	list := models.List{
		Nome:              name,
		Categoria:         category,
		Cor:               in.Cor,
		CriadoPor:         identity.UID,
		DataCriacao:       now,
		DataAtualizacao:   now,
		Itens:             []models.Item{},
		Ativa:             true,
		TipoLista:         models.ListIndividual,
		Membros:           []models.Member{},
		ConvitesPendentes: []models.Invitation{},
	}

	id, err := e.store.CreateList(ctx, list)
	if err != nil {
		return nil, e.fail(opCreateList, fields, err)
	}
	list.ID = id

	e.mu.Lock()
	e.selectLocked(id)
	e.mu.Unlock()

	e.log.WithFields(fields).WithField("list_id", id).Info("List created")
	notify.Success(e.notifier, fmt.Sprintf("List %q created", list.Nome))
	return &list, nil
}

// GetList reads a list once, without subscribing to it
func (e *Engine) GetList(ctx context.Context, id string) (*models.List, error) {
	fields := logrus.Fields{"list_id": id}
	identity, err := e.guard()
	if err != nil {
		return nil, e.fail(opGetList, fields, err)
	}

	list, err := e.store.GetList(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrListNotFound) {
			e.log.WithFields(fields).Warn("List not found")
			return nil, err
		}
		return nil, e.fail(opGetList, fields, err)
	}
	if !list.HasAccess(identity.UID) {
		return nil, e.fail(opGetList, fields, models.ErrPermissionDenied)
	}
	return list, nil
}

// UpdateList changes the metadata of a list
func (e *Engine) UpdateList(ctx context.Context, id string, edit models.ListEdit) (*models.List, error) {
	fields := logrus.Fields{"list_id": id}
	identity, err := e.guard()
	if err != nil {
		return nil, e.fail(opUpdateList, fields, err)
	}

	var updated *models.List
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		list, err := e.readForWrite(tx, id, identity.UID)
		if err != nil {
			return err
		}
		if edit.Nome != nil {
			name := strings.TrimSpace(*edit.Nome)
			if name == "" {
				return fmt.Errorf("%w: list name is required", models.ErrInvalidInput)
			}
			list.Nome = name
		}
		if edit.Categoria != nil {
			list.Categoria = strings.TrimSpace(*edit.Categoria)
		}
		if edit.Cor != nil {
			list.Cor = *edit.Cor
		}
		list.DataAtualizacao = e.stamp(list.DataAtualizacao)
		updated = list
		return tx.PutList(list)
	})
	if err != nil {
		return nil, e.fail(opUpdateList, fields, err)
	}

	e.log.WithFields(fields).Info("List updated")
	notify.Success(e.notifier, "List updated")
	return updated, nil
}

// ArchiveList hides a list from the active lists without deleting it.
// Only the owner may archive.
func (e *Engine) ArchiveList(ctx context.Context, id string) error {
	fields := logrus.Fields{"list_id": id}
	identity, err := e.guard()
	if err != nil {
		return e.fail(opArchiveList, fields, err)
	}

	list, err := e.store.GetList(ctx, id)
	if err != nil {
		return e.fail(opArchiveList, fields, err)
	}
	if list.CriadoPor != identity.UID {
		return e.fail(opArchiveList, fields, models.ErrPermissionDenied)
	}
	if err := e.store.SetListActive(ctx, id, false, e.stamp(list.DataAtualizacao)); err != nil {
		return e.fail(opArchiveList, fields, err)
	}

	e.log.WithFields(fields).Info("List archived")
	notify.Success(e.notifier, "List archived")
	return nil
}

// RemoveList deletes a list permanently together with the invitation index
// entries of its pending invitations, in one transaction so an invitation
// sent meanwhile is not left behind. Only the owner may remove.
func (e *Engine) RemoveList(ctx context.Context, id string) error {
	fields := logrus.Fields{"list_id": id}
	identity, err := e.guard()
	if err != nil {
		return e.fail(opRemoveList, fields, err)
	}

	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		list, err := tx.GetList(id)
		if err != nil {
			return err
		}
		if list.CriadoPor != identity.UID {
			return models.ErrPermissionDenied
		}
		if err := tx.DeleteList(id); err != nil {
			return err
		}
		for _, inv := range list.ConvitesPendentes {
			if inv.Status == models.InvitationPending && inv.ConvidadoUID != "" {
				if err := tx.DropInvitation(inv.ConvidadoUID, id); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return e.fail(opRemoveList, fields, err)
	}

	e.mu.Lock()
	if e.selected == id {
		e.subs.Cancel(subCurrent)
		e.selected = ""
		e.current.Set(nil)
	}
	e.mu.Unlock()

	e.log.WithFields(fields).Info("List deleted permanently")
	notify.Success(e.notifier, "List permanently removed")
	return nil
}

// Stats summarizes the selected list, nil when nothing is selected
func (e *Engine) Stats() *models.ListStats {
	list := e.current.Get()
	if list == nil {
		return nil
	}
	return list.Stats()
}

// readForWrite loads a list inside a transaction and checks that uid may change it
func (e *Engine) readForWrite(tx storage.Tx, id, uid string) (*models.List, error) {
	list, err := tx.GetList(id)
	if err != nil {
		return nil, err
	}
	if !list.HasAccess(uid) {
		return nil, models.ErrPermissionDenied
	}
	return list, nil
}
