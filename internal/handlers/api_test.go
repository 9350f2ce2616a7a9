package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"vainalista-api/internal/auth"
	"vainalista-api/internal/cache"
	"vainalista-api/internal/connectivity"
	"vainalista-api/internal/directory"
	"vainalista-api/internal/logging"
	"vainalista-api/internal/models"
	"vainalista-api/internal/session"
	"vainalista-api/internal/storage"
	"vainalista-api/internal/testutil"
)

func TestMain(m *testing.M) {
	auth.BcryptCost = 4
	os.Exit(m.Run())
}

var (
	ana   = &models.Identity{UID: "ana", Email: "ana@example.com", DisplayName: "Ana"}
	bruno = &models.Identity{UID: "bruno", Email: "bruno@example.com", DisplayName: "Bruno"}
	carla = &models.Identity{UID: "carla", Email: "carla@example.com", DisplayName: "Carla"}
)

// tokens accepts a token equal to a known uid
type tokens map[string]*models.Identity

func (t tokens) Verify(_ context.Context, token string) (*models.Identity, error) {
	if identity, ok := t[token]; ok {
		return identity, nil
	}
	return nil, models.ErrNotAuthenticated
}

type testAPI struct {
	store     *storage.MemoryStore
	monitor   *connectivity.Monitor
	directory *directory.Directory
	local     *cache.Store
	sessions  *session.Manager
	router    *gin.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logging.Silence()

	local, err := cache.New(testutil.SetupTestDB(t))
	require.NoError(t, err)

	api := &testAPI{
		store:   storage.NewMemoryStore(),
		monitor: connectivity.NewMonitor(true, logging.For("connectivity")),
		local:   local,
	}
	api.directory = directory.New(api.store, local)
	api.sessions = session.NewManager(api.store, api.directory, api.monitor, session.WithCache(local))
	t.Cleanup(api.sessions.Close)

	// every test user is known to the directory up front
	for _, identity := range []*models.Identity{ana, bruno, carla} {
		require.NoError(t, api.store.PutUser(context.Background(), models.BasicUser{
			UID:   identity.UID,
			Email: identity.Email,
			Nome:  identity.DisplayName,
		}))
	}

	api.router = gin.New()
	Routes{
		Verifier:  tokens{"ana": ana, "bruno": bruno, "carla": carla},
		Sessions:  api.sessions,
		Directory: api.directory,
		Cache:     local,
		Health: NewHealthHandler(api.store,
			WithMonitor(api.monitor),
			WithSessions(api.sessions),
			WithDirectory(api.directory),
			WithCache(local),
		),
	}.Register(api.router)
	return api
}

// do sends a JSON request as the user whose token is token ("" for none)
func (api *testAPI) do(t *testing.T, token, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.MakeJSONRequest(t, method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	return w
}

// createList creates a list as token and returns it
func (api *testAPI) createList(t *testing.T, token, name string) models.List {
	t.Helper()
	w := api.do(t, token, http.MethodPost, "/api/v1/lists", models.NewList{Nome: name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var list models.List
	testutil.ParseJSONResponse(t, w, &list)
	return list
}

// addItem adds an item to listID as token and returns it
func (api *testAPI) addItem(t *testing.T, token, listID, name string) models.Item {
	t.Helper()
	w := api.do(t, token, http.MethodPost, "/api/v1/lists/"+listID+"/items", models.NewItem{Nome: name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var item models.Item
	testutil.ParseJSONResponse(t, w, &item)
	return item
}

// share invites invitee to listID as the owner and has invitee accept
func (api *testAPI) share(t *testing.T, owner, listID string, invitee *models.Identity) {
	t.Helper()
	w := api.do(t, owner, http.MethodPost, "/api/v1/lists/"+listID+"/share", models.ShareRequest{Email: invitee.Email})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(t, invitee.UID, http.MethodPost, "/api/v1/lists/"+listID+"/invitation/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var response models.ErrorResponse
	testutil.ParseJSONResponse(t, w, &response)
	return response.Code
}
