package storage

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"vainalista-api/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkList normalizes a decoded list and validates its shape
func checkList(list *models.List) error {
	list.Normalize()
	if err := validate.Struct(list); err != nil {
		return fmt.Errorf("%w: listas/%s: %v", models.ErrInvalidDocument, list.ID, err)
	}
	return nil
}

// checkIndex normalizes a decoded invitation index and validates it
func checkIndex(index *models.InvitationIndex) error {
	if index.Convites == nil {
		index.Convites = map[string]models.InvitationSummary{}
	}
	for listID, summary := range index.Convites {
		summary.DataConvite = summary.DataConvite.UTC()
		summary.DataExpiracao = summary.DataExpiracao.UTC()
		index.Convites[listID] = summary
	}
	if err := validate.Struct(index); err != nil {
		return fmt.Errorf("%w: convites_usuario/%s: %v", models.ErrInvalidDocument, index.UID, err)
	}
	return nil
}

// checkUser validates a directory entry
func checkUser(user *models.BasicUser) error {
	user.CriadoEm = user.CriadoEm.UTC()
	if err := validate.Struct(user); err != nil {
		return fmt.Errorf("%w: usuarios/%s: %v", models.ErrInvalidDocument, user.UID, err)
	}
	return nil
}

// emptyIndex is the value of an index document that does not exist yet
func emptyIndex(uid string) *models.InvitationIndex {
	return &models.InvitationIndex{UID: uid, Convites: map[string]models.InvitationSummary{}}
}

// sortNewestFirst orders lists by dataAtualizacao descending
func sortNewestFirst(lists []models.List) {
	sort.SliceStable(lists, func(i, j int) bool {
		return lists[i].DataAtualizacao.After(lists[j].DataAtualizacao)
	})
}
