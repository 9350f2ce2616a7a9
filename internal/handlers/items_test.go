package handlers

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vainalista-api/internal/models"
	"vainalista-api/internal/testutil"
)

func TestAddItem(t *testing.T) {
	t.Run("appends with defaults", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")

		first := api.addItem(t, "ana", list.ID, "Leite")
		second := api.addItem(t, "ana", list.ID, "Pão")

		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, 1, first.Quantidade)
		assert.Equal(t, models.DefaultCategory, first.Categoria)
		assert.Equal(t, "ana", first.CriadoPor)
		assert.False(t, first.Concluido)
		assert.Greater(t, second.Ordem, first.Ordem)
	})

	t.Run("keeps the given quantity and category", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")

		w := api.do(t, "ana", http.MethodPost, "/api/v1/lists/"+list.ID+"/items",
			models.NewItem{Nome: "Ovos", Categoria: "Frios", Quantidade: 12})
		require.Equal(t, http.StatusCreated, w.Code)

		var item models.Item
		testutil.ParseJSONResponse(t, w, &item)
		assert.Equal(t, 12, item.Quantidade)
		assert.Equal(t, "Frios", item.Categoria)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")
		path := "/api/v1/lists/" + list.ID + "/items"

		assert.Equal(t, http.StatusBadRequest, api.do(t, "ana", http.MethodPost, path, map[string]int{"quantidade": 2}).Code)
		assert.Equal(t, http.StatusBadRequest, api.do(t, "ana", http.MethodPost, path, models.NewItem{Nome: "Ovos", Quantidade: -1}).Code)
		assert.Equal(t, http.StatusBadRequest, api.do(t, "ana", http.MethodPost, path, models.NewItem{Nome: "  "}).Code)
	})

	t.Run("outsiders may not add", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")

		w := api.do(t, "bruno", http.MethodPost, "/api/v1/lists/"+list.ID+"/items", models.NewItem{Nome: "Café"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("concurrent additions from two members are all kept", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")
		api.share(t, "ana", list.ID, bruno)
		api.store.SetMaxAttempts(50)

		const perUser = 5
		var wg sync.WaitGroup
		for _, token := range []string{"ana", "bruno"} {
			wg.Add(1)
			go func(token string) {
				defer wg.Done()
				for i := 0; i < perUser; i++ {
					w := api.do(t, token, http.MethodPost, "/api/v1/lists/"+list.ID+"/items", models.NewItem{Nome: token})
					assert.Equal(t, http.StatusCreated, w.Code)
				}
			}(token)
		}
		wg.Wait()

		var got models.List
		testutil.ParseJSONResponse(t, api.do(t, "ana", http.MethodGet, "/api/v1/lists/"+list.ID, nil), &got)
		assert.Len(t, got.Itens, 2*perUser)
	})
}

func TestUpdateItem(t *testing.T) {
	t.Run("merges the given fields", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")
		item := api.addItem(t, "ana", list.ID, "Leite")

		w := api.do(t, "ana", http.MethodPatch, "/api/v1/lists/"+list.ID+"/items/"+item.ID,
			models.ItemEdit{Quantidade: testutil.IntPtr(3), Concluido: testutil.BoolPtr(true)})
		require.Equal(t, http.StatusOK, w.Code)

		var updated models.Item
		testutil.ParseJSONResponse(t, w, &updated)
		assert.Equal(t, item.ID, updated.ID)
		assert.Equal(t, "Leite", updated.Nome)
		assert.Equal(t, 3, updated.Quantidade)
		assert.True(t, updated.Concluido)
		assert.Equal(t, item.CriadoPor, updated.CriadoPor)
		assert.True(t, item.DataAdicao.Equal(updated.DataAdicao))
	})

	t.Run("item not found", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")

		w := api.do(t, "ana", http.MethodPatch, "/api/v1/lists/"+list.ID+"/items/item_missing",
			models.ItemEdit{Concluido: testutil.BoolPtr(true)})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "ITEM_NOT_FOUND", errorCode(t, w))
	})

	t.Run("list not found", func(t *testing.T) {
		api := newTestAPI(t)

		w := api.do(t, "ana", http.MethodPatch, "/api/v1/lists/missing/items/item_1",
			models.ItemEdit{Concluido: testutil.BoolPtr(true)})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "LIST_NOT_FOUND", errorCode(t, w))
	})

	t.Run("rejects reserved item ids", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")

		w := api.do(t, "ana", http.MethodPatch, "/api/v1/lists/"+list.ID+"/items/__id__",
			models.ItemEdit{Concluido: testutil.BoolPtr(true)})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_ID", errorCode(t, w))
	})
}

func TestDeleteItem(t *testing.T) {
	api := newTestAPI(t)
	list := api.createList(t, "ana", "Mercado")
	milk := api.addItem(t, "ana", list.ID, "Leite")
	bread := api.addItem(t, "ana", list.ID, "Pão")

	w := api.do(t, "ana", http.MethodDelete, "/api/v1/lists/"+list.ID+"/items/"+milk.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	var got models.List
	testutil.ParseJSONResponse(t, api.do(t, "ana", http.MethodGet, "/api/v1/lists/"+list.ID, nil), &got)
	require.Len(t, got.Itens, 1)
	assert.Equal(t, bread.ID, got.Itens[0].ID)

	t.Run("deleting twice", func(t *testing.T) {
		w := api.do(t, "ana", http.MethodDelete, "/api/v1/lists/"+list.ID+"/items/"+milk.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteCompletedItems(t *testing.T) {
	t.Run("removes only completed items", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")
		milk := api.addItem(t, "ana", list.ID, "Leite")
		eggs := api.addItem(t, "ana", list.ID, "Ovos")
		api.addItem(t, "ana", list.ID, "Pão")
		for _, item := range []models.Item{milk, eggs} {
			w := api.do(t, "ana", http.MethodPatch, "/api/v1/lists/"+list.ID+"/items/"+item.ID,
				models.ItemEdit{Concluido: testutil.BoolPtr(true)})
			require.Equal(t, http.StatusOK, w.Code)
		}

		w := api.do(t, "ana", http.MethodDelete, "/api/v1/lists/"+list.ID+"/items?completed=true", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var response map[string]int
		testutil.ParseJSONResponse(t, w, &response)
		assert.Equal(t, 2, response["removed"])

		var got models.List
		testutil.ParseJSONResponse(t, api.do(t, "ana", http.MethodGet, "/api/v1/lists/"+list.ID, nil), &got)
		require.Len(t, got.Itens, 1)
		assert.Equal(t, "Pão", got.Itens[0].Nome)
	})

	t.Run("nothing to remove", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")
		api.addItem(t, "ana", list.ID, "Leite")

		w := api.do(t, "ana", http.MethodDelete, "/api/v1/lists/"+list.ID+"/items?completed=true", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var response map[string]int
		testutil.ParseJSONResponse(t, w, &response)
		assert.Equal(t, 0, response["removed"])
	})

	t.Run("requires completed=true", func(t *testing.T) {
		api := newTestAPI(t)
		list := api.createList(t, "ana", "Mercado")

		for _, query := range []string{"", "?completed=false", "?completed=maybe"} {
			w := api.do(t, "ana", http.MethodDelete, "/api/v1/lists/"+list.ID+"/items"+query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, query)
			assert.Equal(t, "INVALID_QUERY", errorCode(t, w))
		}
	})
}
