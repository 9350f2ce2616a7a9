package sharing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"vainalista-api/internal/directory"
	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
	"vainalista-api/internal/storage"
)

// errNothingExpired aborts a sweep that has nothing to write
var errNothingExpired = errors.New("no expired invitations")

// NewInvitationID returns a fresh invitation identifier
func NewInvitationID() string {
	return "convite_" + ulid.Make().String()
}

// ShareList invites the user registered under email to the list. Only the
// owner may share. The invitation and the invitee's index entry are written
// in the same transaction that validates membership and pending state.
func (e *Engine) ShareList(ctx context.Context, listID, email string, perm models.Permission) (*models.Invitation, error) {
	fields := logrus.Fields{"list_id": listID}
	identity, err := e.guard()
	if err != nil {
		return nil, e.fail(opShare, fields, err)
	}
	fields["uid"] = identity.UID

	normalized := directory.NormalizeEmail(email)
	if !directory.ValidEmail(normalized) {
		return nil, e.fail(opShare, fields, fmt.Errorf("%w: invalid email", models.ErrInvalidInput))
	}
	if perm == "" {
		perm = models.PermissionEditor
	}
	if !perm.Valid() {
		return nil, e.fail(opShare, fields, fmt.Errorf("%w: unknown permission %q", models.ErrInvalidInput, perm))
	}

	invitee, found, err := e.directory.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, e.fail(opShare, fields, err)
	}
	if !found {
		return nil, e.fail(opShare, fields, models.ErrUserNotFound)
	}
	fields["invitee_uid"] = invitee.UID

	var invitation models.Invitation
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		list, err := tx.GetList(listID)
		if err != nil {
			return err
		}
		// read so that a concurrent accept or reject of the same entry conflicts
		if _, err := tx.GetInvitationIndex(invitee.UID); err != nil {
			return err
		}

		if list.CriadoPor != identity.UID {
			return models.ErrPermissionDenied
		}
		if invitee.UID == list.CriadoPor || list.MemberIndex(invitee.UID) >= 0 {
			return models.ErrAlreadyMember
		}

		now := e.now().UTC()
		stale := expireInvitations(list, now)
		for _, inv := range list.ConvitesPendentes {
			if inv.IsOpen(now) && (inv.Email == normalized || inv.ConvidadoUID == invitee.UID) {
				return models.ErrInvitationAlreadyPending
			}
		}

		invitation = models.Invitation{
			ID:                 NewInvitationID(),
			Email:              normalized,
			ListaID:            list.ID,
			NomeLista:          list.Nome,
			ConvidadoPor:       identity.UID,
			NomeConvidadoPor:   displayName(identity),
			ConvidadoUID:       invitee.UID,
			DataConvite:        now,
			DataExpiracao:      now.Add(models.InvitationTTL),
			Status:             models.InvitationPending,
			PermissaoOferecida: perm,
		}
		list.ConvitesPendentes = append(list.ConvitesPendentes, invitation)
		list.TipoLista = models.ListShared
		list.DataAtualizacao = stampAfter(now, list.DataAtualizacao)

		if err := tx.PutList(list); err != nil {
			return err
		}
		if err := dropEntries(tx, list.ID, stale); err != nil {
			return err
		}
		return tx.PutInvitation(invitee.UID, invitation.Summary())
	})
	if err != nil {
		return nil, e.fail(opShare, fields, err)
	}

	if err := e.directory.RememberEmail(ctx, identity.UID, normalized); err != nil {
		e.log.WithFields(fields).WithError(err).Warn("Failed to record recent email")
	}

	name := invitee.Nome
	if name == "" {
		name = invitee.Email
	}
	e.log.WithFields(fields).WithField("invitation_id", invitation.ID).Info("Invitation sent")
	notify.Success(e.notifier, "Invitation sent to "+name)
	return &invitation, nil
}

// AcceptInvitation makes the signed-in user a member of the list they were
// invited to. An expired invitation is recorded as expired and reported as
// not found.
func (e *Engine) AcceptInvitation(ctx context.Context, listID string) (*models.Member, error) {
	fields := logrus.Fields{"list_id": listID}
	identity, err := e.guard()
	if err != nil {
		return nil, e.fail(opAccept, fields, err)
	}
	fields["uid"] = identity.UID

	var member models.Member
	expired := false
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		expired = false
		list, err := tx.GetList(listID)
		if err != nil {
			return err
		}
		if _, err := tx.GetInvitationIndex(identity.UID); err != nil {
			return err
		}

		i := findInvitation(list, identity)
		if i < 0 {
			return models.ErrInvitationNotFound
		}
		now := e.now().UTC()
		invitation := list.ConvitesPendentes[i]
		stale := expireInvitations(list, now)

		if invitation.IsExpired(now) {
			expired = true
		} else {
			member = models.Member{
				UID:           identity.UID,
				Email:         directory.NormalizeEmail(identity.Email),
				Nome:          displayName(identity),
				PhotoURL:      identity.PhotoURL,
				Permissao:     invitation.PermissaoOferecida,
				DataEntrada:   now,
				AdicionadoPor: invitation.ConvidadoPor,
			}
			if j := list.MemberIndex(identity.UID); j >= 0 {
				member = list.Membros[j]
			} else {
				list.Membros = append(list.Membros, member)
			}
			settleInvitations(list, identity, models.InvitationAccepted)
			stale = append(stale, identity.UID)
		}

		list.DataAtualizacao = stampAfter(now, list.DataAtualizacao)
		if err := tx.PutList(list); err != nil {
			return err
		}
		return dropEntries(tx, list.ID, stale)
	})
	if err == nil && expired {
		err = models.ErrInvitationNotFound
	}
	if err != nil {
		return nil, e.fail(opAccept, fields, err)
	}

	e.log.WithFields(fields).Info("Invitation accepted")
	notify.Success(e.notifier, "Invitation accepted! You are now a member of the list")
	return &member, nil
}

// RejectInvitation declines the signed-in user's invitation to the list
func (e *Engine) RejectInvitation(ctx context.Context, listID string) error {
	fields := logrus.Fields{"list_id": listID}
	identity, err := e.guard()
	if err != nil {
		return e.fail(opReject, fields, err)
	}
	fields["uid"] = identity.UID

	expired := false
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		expired = false
		list, err := tx.GetList(listID)
		if err != nil {
			return err
		}
		if _, err := tx.GetInvitationIndex(identity.UID); err != nil {
			return err
		}

		i := findInvitation(list, identity)
		if i < 0 {
			return models.ErrInvitationNotFound
		}
		now := e.now().UTC()
		invitation := list.ConvitesPendentes[i]
		stale := expireInvitations(list, now)
		if invitation.IsExpired(now) {
			expired = true
		} else {
			settleInvitations(list, identity, models.InvitationRejected)
			stale = append(stale, identity.UID)
		}

		list.DataAtualizacao = stampAfter(now, list.DataAtualizacao)
		if err := tx.PutList(list); err != nil {
			return err
		}
		return dropEntries(tx, list.ID, stale)
	})
	if err == nil && expired {
		err = models.ErrInvitationNotFound
	}
	if err != nil {
		return e.fail(opReject, fields, err)
	}

	e.log.WithFields(fields).Info("Invitation rejected")
	notify.Info(e.notifier, "Invitation rejected")
	return nil
}

// SweepExpired moves the list's expired pending invitations to expired and
// removes them from the invitees' indexes. It returns how many changed.
func (e *Engine) SweepExpired(ctx context.Context, listID string) (int, error) {
	fields := logrus.Fields{"list_id": listID}
	identity, err := e.guard()
	if err != nil {
		return 0, e.fail(opSweep, fields, err)
	}

	swept := 0
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		list, err := tx.GetList(listID)
		if err != nil {
			return err
		}
		if !list.HasAccess(identity.UID) {
			return models.ErrPermissionDenied
		}
		now := e.now().UTC()
		stale := expireInvitations(list, now)
		swept = len(stale)
		if swept == 0 {
			return errNothingExpired
		}
		list.DataAtualizacao = stampAfter(now, list.DataAtualizacao)
		if err := tx.PutList(list); err != nil {
			return err
		}
		return dropEntries(tx, list.ID, stale)
	})
	if errors.Is(err, errNothingExpired) {
		return 0, nil
	}
	if err != nil {
		return 0, e.fail(opSweep, fields, err)
	}

	e.log.WithFields(fields).WithField("expired", swept).Info("Expired invitations swept")
	return swept, nil
}

// Members returns who can access the list and who is still invited,
// with the directory profiles of the owner and the members
func (e *Engine) Members(ctx context.Context, listID string) (*models.MembersResponse, error) {
	fields := logrus.Fields{"list_id": listID}
	identity, err := e.guard()
	if err != nil {
		return nil, e.fail(opMembers, fields, err)
	}

	list, err := e.store.GetList(ctx, listID)
	if err != nil {
		return nil, e.fail(opMembers, fields, err)
	}
	if !list.HasAccess(identity.UID) {
		return nil, e.fail(opMembers, fields, models.ErrPermissionDenied)
	}

	now := e.now()
	pending := []models.Invitation{}
	for _, inv := range list.ConvitesPendentes {
		if inv.IsOpen(now) {
			pending = append(pending, inv)
		}
	}
	uids := []string{list.CriadoPor}
	for _, m := range list.Membros {
		if m.UID != list.CriadoPor {
			uids = append(uids, m.UID)
		}
	}
	return &models.MembersResponse{
		ListaID:           list.ID,
		CriadoPor:         list.CriadoPor,
		Membros:           list.Membros,
		ConvitesPendentes: pending,
		Perfis:            e.directory.UsersByIDs(ctx, uids),
	}, nil
}

// findInvitation locates the newest pending invitation addressed to identity
func findInvitation(list *models.List, identity *models.Identity) int {
	found := -1
	for i, inv := range list.ConvitesPendentes {
		if inv.Status == models.InvitationPending && addressedTo(inv, identity) {
			found = i
		}
	}
	return found
}

func addressedTo(inv models.Invitation, identity *models.Identity) bool {
	if inv.ConvidadoUID != "" {
		return inv.ConvidadoUID == identity.UID
	}
	return inv.Email == directory.NormalizeEmail(identity.Email)
}

// settleInvitations replaces every pending invitation addressed to identity
// with a copy in the given status
func settleInvitations(list *models.List, identity *models.Identity, status models.InvitationStatus) {
	for i := range list.ConvitesPendentes {
		inv := list.ConvitesPendentes[i]
		if inv.Status == models.InvitationPending && addressedTo(inv, identity) {
			inv.Status = status
			list.ConvitesPendentes[i] = inv
		}
	}
}

// expireInvitations marks pending invitations past their expiration as
// expired and returns the invitees whose index entries must go
func expireInvitations(list *models.List, now time.Time) []string {
	var uids []string
	for i := range list.ConvitesPendentes {
		inv := &list.ConvitesPendentes[i]
		if inv.Status == models.InvitationPending && inv.IsExpired(now) {
			inv.Status = models.InvitationExpired
			if inv.ConvidadoUID != "" {
				uids = append(uids, inv.ConvidadoUID)
			}
		}
	}
	return uids
}

func dropEntries(tx storage.Tx, listID string, uids []string) error {
	seen := make(map[string]bool, len(uids))
	for _, uid := range uids {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		if err := tx.DropInvitation(uid, listID); err != nil {
			return err
		}
	}
	return nil
}

func stampAfter(now, prev time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

func displayName(identity *models.Identity) string {
	if name := strings.TrimSpace(identity.DisplayName); name != "" {
		return name
	}
	return "User"
}
