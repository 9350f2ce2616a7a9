package listsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
	"vainalista-api/internal/storage"
)

// errNothingCompleted aborts a transaction that has nothing to remove
var errNothingCompleted = errors.New("no completed items")

// NewItemID returns a fresh item identifier
func NewItemID() string {
	return "item_" + ulid.Make().String()
}

// AddItem appends an item to the selected list
func (e *Engine) AddItem(ctx context.Context, in models.NewItem) (*models.Item, error) {
	id := e.SelectedID()
	if id == "" {
		return nil, e.fail(opAddItem, logrus.Fields{}, models.ErrNoListSelected)
	}
	return e.AddItemIn(ctx, id, in)
}

// AddItemIn appends an item to the given list. Concurrent additions from
// other sessions are never lost: the read-modify-write is retried on conflict.
func (e *Engine) AddItemIn(ctx context.Context, listID string, in models.NewItem) (*models.Item, error) {
	fields := logrus.Fields{"list_id": listID}
	identity, err := e.guard()
	if err != nil {
		return nil, e.fail(opAddItem, fields, err)
	}

	name := strings.TrimSpace(in.Nome)
	if name == "" {
		return nil, e.fail(opAddItem, fields, fmt.Errorf("%w: item name is required", models.ErrInvalidInput))
	}
	if in.Quantidade < 0 {
		return nil, e.fail(opAddItem, fields, fmt.Errorf("%w: quantity must not be negative", models.ErrInvalidInput))
	}
	quantity := in.Quantidade
	if quantity == 0 {
		quantity = 1
	}
	category := strings.TrimSpace(in.Categoria)
	if category == "" {
		category = models.DefaultCategory
	}
	itemID := NewItemID()

	var added models.Item
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		list, err := e.readForWrite(tx, listID, identity.UID)
		if err != nil {
			return err
		}
		now := e.stamp(list.DataAtualizacao)
		added = models.Item{
			ID:         itemID,
			Nome:       name,
			Categoria:  category,
			Quantidade: quantity,
			Ordem:      nextOrdem(list.Itens),
			CriadoPor:  identity.UID,
			DataAdicao: now,
		}
		list.Itens = append(list.Itens, added)
		list.DataAtualizacao = now
		return tx.PutList(list)
	})
	if err != nil {
		return nil, e.fail(opAddItem, fields, err)
	}

	e.log.WithFields(fields).WithField("item_id", added.ID).Debug("Item added")
	notify.Success(e.notifier, fmt.Sprintf("Item %q added", added.Nome))
	return &added, nil
}

// UpdateItem merges edit into an item of the selected list
func (e *Engine) UpdateItem(ctx context.Context, itemID string, edit models.ItemEdit) (*models.Item, error) {
	id := e.SelectedID()
	if id == "" {
		return nil, e.fail(opUpdateItem, logrus.Fields{"item_id": itemID}, models.ErrNoListSelected)
	}
	return e.UpdateItemIn(ctx, id, itemID, edit)
}

// UpdateItemIn merges edit into an item of the given list. The item's id,
// author and creation date never change.
func (e *Engine) UpdateItemIn(ctx context.Context, listID, itemID string, edit models.ItemEdit) (*models.Item, error) {
	fields := logrus.Fields{"list_id": listID, "item_id": itemID}
	identity, err := e.guard()
	if err != nil {
		return nil, e.fail(opUpdateItem, fields, err)
	}

	var updated models.Item
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		list, err := e.readForWrite(tx, listID, identity.UID)
		if err != nil {
			return err
		}
		i := list.ItemIndex(itemID)
		if i < 0 {
			return models.ErrItemNotFound
		}
		item, err := mergeItem(list.Itens[i], edit)
		if err != nil {
			return err
		}
		list.Itens[i] = item
		list.DataAtualizacao = e.stamp(list.DataAtualizacao)
		updated = item
		return tx.PutList(list)
	})
	if err != nil {
		return nil, e.fail(opUpdateItem, fields, err)
	}

	e.log.WithFields(fields).Debug("Item updated")
	notify.Success(e.notifier, "Item updated")
	return &updated, nil
}

// RemoveItem deletes an item from the selected list
func (e *Engine) RemoveItem(ctx context.Context, itemID string) error {
	id := e.SelectedID()
	if id == "" {
		return e.fail(opRemoveItem, logrus.Fields{"item_id": itemID}, models.ErrNoListSelected)
	}
	return e.RemoveItemIn(ctx, id, itemID)
}

// RemoveItemIn deletes an item from the given list
func (e *Engine) RemoveItemIn(ctx context.Context, listID, itemID string) error {
	fields := logrus.Fields{"list_id": listID, "item_id": itemID}
	identity, err := e.guard()
	if err != nil {
		return e.fail(opRemoveItem, fields, err)
	}

	var removed models.Item
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		list, err := e.readForWrite(tx, listID, identity.UID)
		if err != nil {
			return err
		}
		i := list.ItemIndex(itemID)
		if i < 0 {
			return models.ErrItemNotFound
		}
		removed = list.Itens[i]
		list.Itens = append(list.Itens[:i], list.Itens[i+1:]...)
		list.DataAtualizacao = e.stamp(list.DataAtualizacao)
		return tx.PutList(list)
	})
	if err != nil {
		return e.fail(opRemoveItem, fields, err)
	}

	e.log.WithFields(fields).Debug("Item removed")
	notify.Success(e.notifier, fmt.Sprintf("Item %q removed", removed.Nome))
	return nil
}

// RemoveCompletedItems deletes every completed item of the selected list
// and returns how many were removed
func (e *Engine) RemoveCompletedItems(ctx context.Context) (int, error) {
	id := e.SelectedID()
	if id == "" {
		return 0, e.fail(opRemoveComplete, logrus.Fields{}, models.ErrNoListSelected)
	}
	return e.RemoveCompletedItemsIn(ctx, id)
}

// RemoveCompletedItemsIn deletes every completed item of the given list
func (e *Engine) RemoveCompletedItemsIn(ctx context.Context, listID string) (int, error) {
	fields := logrus.Fields{"list_id": listID}
	identity, err := e.guard()
	if err != nil {
		return 0, e.fail(opRemoveComplete, fields, err)
	}

	removed := 0
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		list, err := e.readForWrite(tx, listID, identity.UID)
		if err != nil {
			return err
		}
		kept := make([]models.Item, 0, len(list.Itens))
		for _, item := range list.Itens {
			if !item.Concluido {
				kept = append(kept, item)
			}
		}
		removed = len(list.Itens) - len(kept)
		if removed == 0 {
			return errNothingCompleted
		}
		list.Itens = kept
		list.DataAtualizacao = e.stamp(list.DataAtualizacao)
		return tx.PutList(list)
	})
	if errors.Is(err, errNothingCompleted) {
		notify.Info(e.notifier, "No completed items to remove")
		return 0, nil
	}
	if err != nil {
		return 0, e.fail(opRemoveComplete, fields, err)
	}

	e.log.WithFields(fields).WithField("removed", removed).Info("Completed items removed")
	notify.Success(e.notifier, fmt.Sprintf("%d completed items removed", removed))
	return removed, nil
}

// nextOrdem places a new item after the existing ones
func nextOrdem(items []models.Item) int {
	next := len(items)
	max := -1
	for _, item := range items {
		if item.Ordem == next {
			next = -1
		}
		if item.Ordem > max {
			max = item.Ordem
		}
	}
	if next < 0 {
		return max + 1
	}
	return next
}

func mergeItem(item models.Item, edit models.ItemEdit) (models.Item, error) {
	if edit.Nome != nil {
		name := strings.TrimSpace(*edit.Nome)
		if name == "" {
			return item, fmt.Errorf("%w: item name is required", models.ErrInvalidInput)
		}
		item.Nome = name
	}
	if edit.Categoria != nil {
		item.Categoria = strings.TrimSpace(*edit.Categoria)
	}
	if edit.Quantidade != nil {
		if *edit.Quantidade < 0 {
			return item, fmt.Errorf("%w: quantity must not be negative", models.ErrInvalidInput)
		}
		item.Quantidade = *edit.Quantidade
	}
	if edit.Concluido != nil {
		item.Concluido = *edit.Concluido
	}
	if edit.Ordem != nil {
		if *edit.Ordem < 0 {
			return item, fmt.Errorf("%w: order must not be negative", models.ErrInvalidInput)
		}
		item.Ordem = *edit.Ordem
	}
	return item, nil
}
