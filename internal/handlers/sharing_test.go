package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
	"vainalista-api/internal/storage"
	"vainalista-api/internal/testutil"
)

func TestShareList(t *testing.T) {
	t.Run("invites a registered user", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")

		w := api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share", models.ShareRequest{Email: " Bruno@Example.com "})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var invitation models.Invitation
		testutil.ParseJSONResponse(t, w, &invitation)
		assert.NotEmpty(t, invitation.ID)
		assert.Equal(t, "bruno@example.com", invitation.Email)
		assert.Equal(t, "bruno", invitation.ConvidadoUID)
		assert.Equal(t, "ana", invitation.ConvidadoPor)
		assert.Equal(t, models.InvitationPending, invitation.Status)
		assert.Equal(t, models.PermissionEditor, invitation.PermissaoOferecida)
		assert.WithinDuration(t, invitation.DataConvite.Add(models.InvitationTTL), invitation.DataExpiracao, time.Second)

		var got models.List
		testutil.ParseJSONResponse(t, api.do(t, "ana", http.MethodGet, "/api/v1/lists/"+list.ID, nil), &got)
		assert.Equal(t, models.ListShared, got.TipoLista)
	})

	errorCases := []struct {
		name   string
		token  string
		req    interface{}
		status int
		code   string
	}{
		{"unknown user", "ana", models.ShareRequest{Email: "nobody@example.com"}, http.StatusNotFound, "USER_NOT_FOUND"},
		{"the owner", "ana", models.ShareRequest{Email: "ana@example.com"}, http.StatusConflict, "ALREADY_MEMBER"},
		{"not the owner", "bruno", models.ShareRequest{Email: "carla@example.com"}, http.StatusForbidden, "PERMISSION_DENIED"},
		{"invalid email", "ana", map[string]string{"email": "not-an-email"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown permission", "ana", map[string]string{"email": "bruno@example.com", "permissao": "admin"}, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			api := newTestAPI(t)
			list := api.createList(t, "ana", "Mercado")

			w := api.do(t, tc.token, http.MethodPost, "/api/v1/lists/"+list.ID+"/share", tc.req)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, errorCode(t, w))
		})
	}

	t.Run("a second invitation to the same user", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")
		req := models.ShareRequest{Email: bruno.Email}

		require.Equal(t, http.StatusCreated, api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share", req).Code)

		w := api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share", req)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "INVITATION_PENDING", errorCode(t, w))
	})

	t.Run("an existing member", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")
		api.share(t, "ana", list.ID, bruno)

		w := api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share", models.ShareRequest{Email: bruno.Email})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "ALREADY_MEMBER", errorCode(t, w))
	})
}

func TestAcceptInvitation(t *testing.T) {
	t.Run("makes the invitee a member", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")
		w := api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share",
			models.ShareRequest{Email: bruno.Email, Permissao: models.PermissionOwner})
		require.Equal(t, http.StatusCreated, w.Code)

		w = api.do(t, "bruno", http.MethodPost, "/api/v1/lists/"+list.ID+"/invitation/accept", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var member models.Member
		testutil.ParseJSONResponse(t, w, &member)
		assert.Equal(t, "bruno", member.UID)
		assert.Equal(t, "Bruno", member.Nome)
		assert.Equal(t, models.PermissionOwner, member.Permissao)
		assert.Equal(t, "ana", member.AdicionadoPor)

		// the new member sees the list in the projection
		assert.Eventually(t, func() bool {
			var response listsResponse
			testutil.ParseJSONResponse(t, api.do(t, "bruno", http.MethodGet, "/api/v1/lists", nil), &response)
			return len(response.Data) == 1 && response.Data[0].ID == list.ID
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("without an invitation", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")

		w := api.do(t, "carla", http.MethodPost, "/api/v1/lists/"+list.ID+"/invitation/accept", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "INVITATION_NOT_FOUND", errorCode(t, w))
	})

	t.Run("cannot be accepted twice", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")
		api.share(t, "ana", list.ID, bruno)

		w := api.do(t, "bruno", http.MethodPost, "/api/v1/lists/"+list.ID+"/invitation/accept", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRejectInvitation(t *testing.T) {
	api := newTestAPI(t)
	list := api.createList(t, "ana", "Mercado")
	require.Equal(t, http.StatusCreated, api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share",
		models.ShareRequest{Email: bruno.Email}).Code)

	w := api.do(t, "bruno", http.MethodPost, "/api/v1/lists/"+list.ID+"/invitation/reject", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	var got models.List
	testutil.ParseJSONResponse(t, api.do(t, "ana", http.MethodGet, "/api/v1/lists/"+list.ID, nil), &got)
	assert.Empty(t, got.Membros)
	require.Len(t, got.ConvitesPendentes, 1)
	assert.Equal(t, models.InvitationRejected, got.ConvitesPendentes[0].Status)

	t.Run("the invitee may be invited again", func(t *testing.T) {
		w := api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share", models.ShareRequest{Email: bruno.Email})
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestGetMembers(t *testing.T) {
	api := newTestAPI(t)
	list := api.createList(t, "ana", "Mercado")
	api.share(t, "ana", list.ID, bruno)
	require.Equal(t, http.StatusCreated, api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share",
		models.ShareRequest{Email: carla.Email}).Code)

	for _, token := range []string{"ana", "bruno"} {
		w := api.do(t, token, http.MethodGet, "/api/v1/lists/"+list.ID+"/members", nil)
		require.Equal(t, http.StatusOK, w.Code, token)

		var members models.MembersResponse
		testutil.ParseJSONResponse(t, w, &members)
		assert.Equal(t, "ana", members.CriadoPor)
		require.Len(t, members.Membros, 1)
		assert.Equal(t, "bruno", members.Membros[0].UID)
		require.Len(t, members.ConvitesPendentes, 1)
		assert.Equal(t, "carla@example.com", members.ConvitesPendentes[0].Email)
		require.Len(t, members.Perfis, 2)
		assert.Equal(t, "ana@example.com", members.Perfis[0].Email)
		assert.Equal(t, "Bruno", members.Perfis[1].Nome)
	}

	t.Run("an invitee is not yet a member", func(t *testing.T) {
		w := api.do(t, "carla", http.MethodGet, "/api/v1/lists/"+list.ID+"/members", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestGetInvitations(t *testing.T) {
	api := newTestAPI(t)
	first := api.createList(t, "ana", "Mercado")
	second := api.createList(t, "ana", "Feira")
	for _, list := range []models.List{first, second} {
		require.Equal(t, http.StatusCreated, api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share",
			models.ShareRequest{Email: bruno.Email}).Code)
	}

	var invitations []models.InvitationSummary
	assert.Eventually(t, func() bool {
		var response struct {
			Data []models.InvitationSummary `json:"data"`
		}
		testutil.ParseJSONResponse(t, api.do(t, "bruno", http.MethodGet, "/api/v1/invitations", nil), &response)
		invitations = response.Data
		return len(invitations) == 2
	}, 2*time.Second, 10*time.Millisecond)

	if assert.Len(t, invitations, 2) {
		assert.Equal(t, second.ID, invitations[0].ListaID)
		assert.Equal(t, "Feira", invitations[0].NomeLista)
		assert.Equal(t, "Ana", invitations[0].NomeConvidadoPor)
	}

	t.Run("accepted invitations leave the feed", func(t *testing.T) {
		require.Equal(t, http.StatusOK, api.do(t, "bruno", http.MethodPost, "/api/v1/lists/"+first.ID+"/invitation/accept", nil).Code)

		assert.Eventually(t, func() bool {
			var response struct {
				Data []models.InvitationSummary `json:"data"`
			}
			testutil.ParseJSONResponse(t, api.do(t, "bruno", http.MethodGet, "/api/v1/invitations", nil), &response)
			return len(response.Data) == 1 && response.Data[0].ListaID == second.ID
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestGetRecentEmails(t *testing.T) {
	api := newTestAPI(t)
	list := api.createList(t, "ana", "Mercado")
	for _, email := range []string{bruno.Email, carla.Email} {
		require.Equal(t, http.StatusCreated, api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share",
			models.ShareRequest{Email: email}).Code)
	}

	w := api.do(t, "ana", http.MethodGet, "/api/v1/users/recent-emails", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data []string `json:"data"`
	}
	testutil.ParseJSONResponse(t, w, &response)
	assert.Equal(t, []string{"carla@example.com", "bruno@example.com"}, response.Data)

	t.Run("empty for a user who never shared", func(t *testing.T) {
		w := api.do(t, "bruno", http.MethodGet, "/api/v1/users/recent-emails", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":[]}`, w.Body.String())
	})

	t.Run("clearing forgets the history", func(t *testing.T) {
		w := api.do(t, "ana", http.MethodDelete, "/api/v1/users/recent-emails", nil)
		require.Equal(t, http.StatusNoContent, w.Code)

		w = api.do(t, "ana", http.MethodGet, "/api/v1/users/recent-emails", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":[]}`, w.Body.String())
	})
}

func TestValidateEmail(t *testing.T) {
	api := newTestAPI(t)

	t.Run("registered user", func(t *testing.T) {
		w := api.do(t, "ana", http.MethodGet, "/api/v1/users/validate?email=Bruno@Example.com", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var result models.EmailValidation
		testutil.ParseJSONResponse(t, w, &result)
		assert.Equal(t, "bruno@example.com", result.Email)
		assert.True(t, result.Valido)
		assert.True(t, result.FormatoCorreto)
		require.NotNil(t, result.Usuario)
		assert.Equal(t, "bruno", result.Usuario.UID)
		assert.Empty(t, result.MensagemErro)
	})

	t.Run("unknown user", func(t *testing.T) {
		w := api.do(t, "ana", http.MethodGet, "/api/v1/users/validate?email=nobody@example.com", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var result models.EmailValidation
		testutil.ParseJSONResponse(t, w, &result)
		assert.False(t, result.Valido)
		assert.True(t, result.FormatoCorreto)
		assert.Equal(t, "User not found", result.MensagemErro)
	})

	t.Run("malformed address", func(t *testing.T) {
		w := api.do(t, "ana", http.MethodGet, "/api/v1/users/validate?email=nope", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var result models.EmailValidation
		testutil.ParseJSONResponse(t, w, &result)
		assert.False(t, result.FormatoCorreto)
		assert.Equal(t, "Invalid email format", result.MensagemErro)
	})

	t.Run("email is required", func(t *testing.T) {
		w := api.do(t, "ana", http.MethodGet, "/api/v1/users/validate", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
	})
}

func TestClearCache(t *testing.T) {
	ctx := context.Background()
	api := newTestAPI(t)
	list := api.createList(t, "ana", "Mercado")
	require.Equal(t, http.StatusCreated, api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share",
		models.ShareRequest{Email: bruno.Email}).Code)
	require.NoError(t, api.local.Set(ctx, "historico-emails/bruno", []string{"carla@example.com"}))
	require.NotZero(t, api.directory.CacheStats().Size)

	w := api.do(t, "ana", http.MethodDelete, "/api/v1/cache", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Removed int `json:"removed"`
	}
	testutil.ParseJSONResponse(t, w, &response)
	assert.GreaterOrEqual(t, response.Removed, 1)

	// live projections may write a fresh backup, but the history is gone
	keys, err := api.local.Keys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "historico-emails/ana")
	assert.Contains(t, keys, "historico-emails/bruno")
	assert.Zero(t, api.directory.CacheStats().Size)
}

func TestGetNotifications(t *testing.T) {
	api := newTestAPI(t)
	list := api.createList(t, "ana", "Mercado")
	api.addItem(t, "ana", list.ID, "Leite")
	w := api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share", models.ShareRequest{Email: "nobody@example.com"})
	require.Equal(t, http.StatusNotFound, w.Code)

	var response struct {
		Data []notify.Notification `json:"data"`
	}
	testutil.ParseJSONResponse(t, api.do(t, "ana", http.MethodGet, "/api/v1/notifications", nil), &response)
	require.Len(t, response.Data, 3)
	assert.Equal(t, notify.LevelSuccess, response.Data[0].Level)
	assert.Contains(t, response.Data[1].Message, "Leite")
	assert.Equal(t, notify.LevelError, response.Data[2].Level)

	t.Run("limit keeps the newest", func(t *testing.T) {
		var limited struct {
			Data []notify.Notification `json:"data"`
		}
		testutil.ParseJSONResponse(t, api.do(t, "ana", http.MethodGet, "/api/v1/notifications?limit=1", nil), &limited)
		require.Len(t, limited.Data, 1)
		assert.Equal(t, response.Data[2].ID, limited.Data[0].ID)
	})
}

func TestSweepInvitations(t *testing.T) {
	api := newTestAPI(t)
	list := api.createList(t, "ana", "Mercado")
	require.Equal(t, http.StatusCreated, api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/share",
		models.ShareRequest{Email: carla.Email}).Code)
	path := "/api/v1/lists/" + list.ID + "/invitations/sweep"

	t.Run("leaves open invitations alone", func(t *testing.T) {
		w := api.do(t, "ana", http.MethodPost, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"expired":0}`, w.Body.String())
	})

	t.Run("only list members may sweep", func(t *testing.T) {
		w := api.do(t, "carla", http.MethodPost, path, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("expires invitations past their deadline", func(t *testing.T) {
		err := api.store.RunTransaction(context.Background(), func(_ context.Context, tx storage.Tx) error {
			stored, err := tx.GetList(list.ID)
			if err != nil {
				return err
			}
			stored.ConvitesPendentes[0].DataExpiracao = time.Now().Add(-time.Hour)
			return tx.PutList(stored)
		})
		require.NoError(t, err)

		w := api.do(t, "ana", http.MethodPost, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"expired":1}`, w.Body.String())

		index, err := api.store.GetInvitationIndex(context.Background(), carla.UID)
		require.NoError(t, err)
		assert.Empty(t, index.Convites)

		stored, err := api.store.GetList(context.Background(), list.ID)
		require.NoError(t, err)
		require.Len(t, stored.ConvitesPendentes, 1)
		assert.Equal(t, models.InvitationExpired, stored.ConvitesPendentes[0].Status)
	})
}
