package listsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vainalista-api/internal/auth"
	"vainalista-api/internal/cache"
	"vainalista-api/internal/connectivity"
	"vainalista-api/internal/models"
	"vainalista-api/internal/notify"
	"vainalista-api/internal/storage"
	"vainalista-api/internal/testutil"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	baseTime = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	ana      = &models.Identity{UID: "ana", Email: "ana@example.com", DisplayName: "Ana"}
	bruno    = &models.Identity{UID: "bruno", Email: "bruno@example.com", DisplayName: "Bruno"}
)

type harness struct {
	store    *storage.MemoryStore
	session  *auth.Session
	monitor  *connectivity.Monitor
	recorder *notify.Recorder
	clock    *testutil.Clock
	engine   *Engine
}

func newHarness(t *testing.T, store *storage.MemoryStore, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    store,
		session:  auth.NewSession(),
		monitor:  connectivity.NewMonitor(true, nil),
		recorder: &notify.Recorder{},
		clock:    testutil.NewClock(baseTime, time.Second),
	}
	opts = append([]Option{WithNotifier(h.recorder), WithClock(h.clock.Now)}, opts...)
	h.engine = New(store, h.session, h.monitor, opts...)
	t.Cleanup(h.engine.Stop)
	return h
}

// signIn starts the engine for identity and waits for the user lists
// subscription to be live
func (h *harness) signIn(t *testing.T, identity *models.Identity) {
	t.Helper()
	h.session.SignIn(identity)
	h.engine.Start()
	require.Eventually(t, func() bool {
		h.engine.mu.Lock()
		defer h.engine.mu.Unlock()
		return h.engine.uid == identity.UID && h.engine.subs.Has(subUserLists)
	}, waitFor, tick)
}

func (h *harness) createList(t *testing.T, name string) *models.List {
	t.Helper()
	list, err := h.engine.CreateList(context.Background(), models.NewList{Nome: name})
	require.NoError(t, err)
	return list
}

func (h *harness) storedList(t *testing.T, id string) *models.List {
	t.Helper()
	list, err := h.store.GetList(context.Background(), id)
	require.NoError(t, err)
	return list
}

func notified(r *notify.Recorder, level notify.Level, message string) bool {
	for _, n := range r.All() {
		if n.Level == level && n.Message == message {
			return true
		}
	}
	return false
}

func TestCreateListAndAddItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)

	list := h.createList(t, "  Mercado ")
	assert.Equal(t, "Mercado", list.Nome)
	assert.Equal(t, models.DefaultCategory, list.Categoria)
	assert.Equal(t, list.ID, h.engine.SelectedID())
	assert.True(t, notified(h.recorder, notify.LevelSuccess, `List "Mercado" created`))

	item, err := h.engine.AddItem(ctx, models.NewItem{Nome: "Leite", Quantidade: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, item.Ordem)
	assert.Equal(t, 2, item.Quantidade)
	assert.Equal(t, models.DefaultCategory, item.Categoria)
	assert.Equal(t, ana.UID, item.CriadoPor)
	assert.Regexp(t, `^item_[0-9A-Z]{26}$`, item.ID)

	stored := h.storedList(t, list.ID)
	require.Len(t, stored.Itens, 1)
	assert.Equal(t, "Leite", stored.Itens[0].Nome)
	assert.True(t, stored.DataAtualizacao.After(stored.DataCriacao))

	require.Eventually(t, func() bool {
		current := h.engine.CurrentList().Get()
		return current != nil && current.ID == list.ID && len(current.Itens) == 1
	}, waitFor, tick)
}

func TestAddItemDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	list := h.createList(t, "Feira")

	item, err := h.engine.AddItemIn(ctx, list.ID, models.NewItem{Nome: "Banana"})
	require.NoError(t, err)
	assert.Equal(t, 1, item.Quantidade)

	t.Run("blank name is rejected", func(t *testing.T) {
		_, err := h.engine.AddItemIn(ctx, list.ID, models.NewItem{Nome: "   "})
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		assert.Len(t, h.storedList(t, list.ID).Itens, 1)
	})

	t.Run("list of another user is refused", func(t *testing.T) {
		other := newHarness(t, h.store)
		other.signIn(t, bruno)
		_, err := other.engine.AddItemIn(ctx, list.ID, models.NewItem{Nome: "Pera"})
		assert.ErrorIs(t, err, models.ErrPermissionDenied)
		last, ok := other.recorder.Last()
		require.True(t, ok)
		assert.Equal(t, "Permission denied", last.Title)
	})
}

func TestRemoveCompletedItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	list := h.createList(t, "Mercado")

	first, err := h.engine.AddItem(ctx, models.NewItem{Nome: "Leite"})
	require.NoError(t, err)
	second, err := h.engine.AddItem(ctx, models.NewItem{Nome: "Pão", Quantidade: 3})
	require.NoError(t, err)

	_, err = h.engine.UpdateItem(ctx, first.ID, models.ItemEdit{Concluido: testutil.BoolPtr(true)})
	require.NoError(t, err)

	removed, err := h.engine.RemoveCompletedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stored := h.storedList(t, list.ID)
	require.Len(t, stored.Itens, 1)
	assert.Equal(t, *second, stored.Itens[0])

	t.Run("nothing to remove is not a failure", func(t *testing.T) {
		before := h.storedList(t, list.ID).DataAtualizacao
		removed, err := h.engine.RemoveCompletedItems(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.True(t, notified(h.recorder, notify.LevelInfo, "No completed items to remove"))
		assert.Equal(t, before, h.storedList(t, list.ID).DataAtualizacao)
	})
}

func TestUpdateItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	list := h.createList(t, "Mercado")
	item, err := h.engine.AddItem(ctx, models.NewItem{Nome: "Leite"})
	require.NoError(t, err)

	t.Run("merges the given fields", func(t *testing.T) {
		updated, err := h.engine.UpdateItem(ctx, item.ID, models.ItemEdit{
			Nome:       testutil.StringPtr("Leite integral"),
			Quantidade: testutil.IntPtr(4),
		})
		require.NoError(t, err)
		assert.Equal(t, "Leite integral", updated.Nome)
		assert.Equal(t, 4, updated.Quantidade)
		assert.Equal(t, item.ID, updated.ID)
		assert.Equal(t, item.DataAdicao, updated.DataAdicao)
		assert.Equal(t, item.Categoria, updated.Categoria)
	})

	t.Run("item deleted by another session", func(t *testing.T) {
		require.NoError(t, h.engine.RemoveItemIn(ctx, list.ID, item.ID))
		_, err := h.engine.UpdateItem(ctx, item.ID, models.ItemEdit{Concluido: testutil.BoolPtr(true)})
		assert.ErrorIs(t, err, models.ErrItemNotFound)
		assert.True(t, notified(h.recorder, notify.LevelError, "Item not found"))
	})

	t.Run("remove missing item", func(t *testing.T) {
		assert.ErrorIs(t, h.engine.RemoveItem(ctx, "item_missing"), models.ErrItemNotFound)
	})
}

func TestOfflineMutationsFailFast(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	list := h.createList(t, "Mercado")
	before := h.storedList(t, list.ID)

	h.monitor.Set(false)
	h.recorder.Reset()

	_, err := h.engine.AddItem(ctx, models.NewItem{Nome: "Leite"})
	assert.ErrorIs(t, err, models.ErrOffline)
	assert.Equal(t, before, h.storedList(t, list.ID))

	all := h.recorder.All()
	require.Len(t, all, 1)
	assert.Equal(t, notify.LevelWarning, all[0].Level)
	assert.Equal(t, "Cannot add item while offline", all[0].Message)

	_, err = h.engine.CreateList(ctx, models.NewList{Nome: "Feira"})
	assert.ErrorIs(t, err, models.ErrOffline)

	_, err = h.engine.GetList(ctx, list.ID)
	assert.ErrorIs(t, err, models.ErrOffline)
	assert.True(t, notified(h.recorder, notify.LevelWarning, "Operation not available offline"))
}

func TestMutationsRequireUser(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore())
	h.engine.Start()

	_, err := h.engine.CreateList(context.Background(), models.NewList{Nome: "Mercado"})
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	assert.True(t, notified(h.recorder, notify.LevelError, "User not authenticated"))

	_, err = h.engine.AddItem(context.Background(), models.NewItem{Nome: "Leite"})
	assert.ErrorIs(t, err, models.ErrNoListSelected)
}

func TestConcurrentAddsAreNotLost(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	first := newHarness(t, store)
	first.signIn(t, ana)
	second := newHarness(t, store)
	second.signIn(t, ana)

	list := first.createList(t, "Mercado")

	// the second session commits between the first session's read and commit
	var mu sync.Mutex
	injected := false
	var attempts []int
	store.SetCommitHook(func(attempt int) {
		mu.Lock()
		attempts = append(attempts, attempt)
		if injected {
			mu.Unlock()
			return
		}
		injected = true
		mu.Unlock()
		_, err := second.engine.AddItemIn(ctx, list.ID, models.NewItem{Nome: "Pão"})
		require.NoError(t, err)
	})

	_, err := first.engine.AddItemIn(ctx, list.ID, models.NewItem{Nome: "Leite"})
	require.NoError(t, err)
	store.SetCommitHook(nil)

	stored := first.storedList(t, list.ID)
	require.Len(t, stored.Itens, 2)
	names := []string{stored.Itens[0].Nome, stored.Itens[1].Nome}
	assert.ElementsMatch(t, []string{"Leite", "Pão"}, names)
	assert.NotEqual(t, stored.Itens[0].ID, stored.Itens[1].ID)
	assert.NotEqual(t, stored.Itens[0].Ordem, stored.Itens[1].Ordem)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, attempts, 2, "the first session must have retried")
}

func TestItemIDsStayUnique(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	list := h.createList(t, "Mercado")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.engine.AddItemIn(ctx, list.ID, models.NewItem{Nome: "Item"})
		}()
	}
	wg.Wait()

	stored := h.storedList(t, list.ID)
	ids := make(map[string]bool)
	for _, item := range stored.Itens {
		assert.False(t, ids[item.ID], "duplicate id %s", item.ID)
		ids[item.ID] = true
	}
	assert.NotEmpty(t, stored.Itens)
}

func TestUserListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)

	older := h.createList(t, "Mercado")
	newer := h.createList(t, "Farmácia")

	ids := func() []string {
		var out []string
		for _, list := range h.engine.UserLists().Get() {
			out = append(out, list.ID)
		}
		return out
	}
	require.Eventually(t, func() bool {
		got := ids()
		return len(got) == 2 && got[0] == newer.ID
	}, waitFor, tick)

	_, err := h.engine.AddItemIn(ctx, older.ID, models.NewItem{Nome: "Leite"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got := ids()
		return len(got) == 2 && got[0] == older.ID && got[1] == newer.ID
	}, waitFor, tick)

	t.Run("archived lists leave the projection", func(t *testing.T) {
		require.NoError(t, h.engine.ArchiveList(ctx, newer.ID))
		require.Eventually(t, func() bool {
			got := ids()
			return len(got) == 1 && got[0] == older.ID
		}, waitFor, tick)
		assert.False(t, h.storedList(t, newer.ID).Ativa)
	})
}

func TestIdentityChanges(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	h.createList(t, "Mercado")
	require.Eventually(t, func() bool { return len(h.engine.UserLists().Get()) == 1 }, waitFor, tick)

	t.Run("same user twice keeps the subscriptions", func(t *testing.T) {
		resets := h.engine.Subscriptions().Resets()
		h.session.SignIn(ana)
		h.engine.onIdentity(&models.Identity{UID: ana.UID})
		assert.Never(t, func() bool {
			return h.engine.Subscriptions().Resets() != resets
		}, 100*time.Millisecond, tick)
		assert.Len(t, h.engine.UserLists().Get(), 1)
	})

	t.Run("sign out clears the projections", func(t *testing.T) {
		h.session.SignOut()
		require.Eventually(t, func() bool {
			return len(h.engine.UserLists().Get()) == 0 &&
				h.engine.CurrentList().Get() == nil &&
				h.engine.Subscriptions().Len() == 0
		}, waitFor, tick)
		assert.Empty(t, h.engine.SelectedID())
	})

	t.Run("another user sees only their lists", func(t *testing.T) {
		h.session.SignIn(bruno)
		require.Eventually(t, func() bool {
			return h.engine.Subscriptions().Has(subUserLists)
		}, waitFor, tick)
		assert.Never(t, func() bool {
			return len(h.engine.UserLists().Get()) != 0
		}, 100*time.Millisecond, tick)
	})
}

func TestOfflineBackupRestore(t *testing.T) {
	ctx := context.Background()
	local, err := cache.New(testutil.SetupTestDB(t))
	require.NoError(t, err)

	h := newHarness(t, storage.NewMemoryStore(), WithCache(local))
	h.signIn(t, ana)
	list := h.createList(t, "Mercado")

	require.Eventually(t, func() bool {
		lists, found, err := cache.GetAs[[]models.List](ctx, local, backupListsKey(ana.UID))
		return err == nil && found && len(lists) == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		current, found, err := cache.GetAs[*models.List](ctx, local, backupCurrentKey(ana.UID))
		return err == nil && found && current != nil
	}, waitFor, tick)

	h.session.SignOut()
	require.Eventually(t, func() bool { return len(h.engine.UserLists().Get()) == 0 }, waitFor, tick)

	h.monitor.Set(false)
	h.session.SignIn(ana)
	require.Eventually(t, func() bool {
		lists := h.engine.UserLists().Get()
		current := h.engine.CurrentList().Get()
		return len(lists) == 1 && lists[0].ID == list.ID && current != nil && current.ID == list.ID
	}, waitFor, tick)
	assert.Equal(t, list.ID, h.engine.SelectedID())
}

func TestResyncOnReconnect(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	list := h.createList(t, "Mercado")

	h.monitor.Set(false)
	require.Eventually(t, func() bool { return !h.engine.Online().Get() }, waitFor, tick)
	h.monitor.Set(true)

	require.Eventually(t, func() bool {
		for _, n := range h.recorder.All() {
			if n.Level == notify.LevelSuccess && n.Message == "Data synchronized" && n.Title == "Online" {
				return true
			}
		}
		return false
	}, waitFor, tick)
	assert.True(t, h.engine.Online().Get())
	assert.Equal(t, list.ID, h.engine.SelectedID())
	assert.True(t, h.engine.Subscriptions().Has(subCurrent))
}

func TestSyncErrors(t *testing.T) {
	t.Run("permission denied is reported distinctly", func(t *testing.T) {
		h := newHarness(t, storage.NewMemoryStore())
		h.signIn(t, ana)
		h.store.InjectError(models.ErrPermissionDenied)
		require.Eventually(t, func() bool {
			last, ok := h.recorder.Last()
			return ok && last.Level == notify.LevelError && last.Title == "Sync error"
		}, waitFor, tick)
	})

	t.Run("unavailable is a warning", func(t *testing.T) {
		h := newHarness(t, storage.NewMemoryStore())
		h.signIn(t, ana)
		h.store.InjectError(models.ErrUnavailable)
		require.Eventually(t, func() bool {
			return notified(h.recorder, notify.LevelWarning, "Service temporarily unavailable")
		}, waitFor, tick)
	})

	t.Run("errors without a user are suppressed", func(t *testing.T) {
		h := newHarness(t, storage.NewMemoryStore())
		h.engine.syncError(context.Background(), nil, models.ErrPermissionDenied)
		assert.Empty(t, h.recorder.All())
	})

	t.Run("errors of a cancelled subscription are suppressed", func(t *testing.T) {
		h := newHarness(t, storage.NewMemoryStore())
		h.session.SignIn(ana)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		h.engine.syncError(ctx, nil, models.ErrPermissionDenied)
		assert.Empty(t, h.recorder.All())
	})
}

func TestRemoveList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	list := h.createList(t, "Mercado")

	t.Run("only the owner may remove", func(t *testing.T) {
		other := newHarness(t, h.store)
		other.signIn(t, bruno)
		assert.ErrorIs(t, other.engine.RemoveList(ctx, list.ID), models.ErrPermissionDenied)
		assert.ErrorIs(t, other.engine.ArchiveList(ctx, list.ID), models.ErrPermissionDenied)
	})

	t.Run("removing the selected list clears the selection", func(t *testing.T) {
		require.NoError(t, h.engine.RemoveList(ctx, list.ID))
		assert.Empty(t, h.engine.SelectedID())
		assert.Nil(t, h.engine.CurrentList().Get())
		assert.False(t, h.engine.Subscriptions().Has(subCurrent))

		_, err := h.store.GetList(ctx, list.ID)
		assert.ErrorIs(t, err, models.ErrListNotFound)
		assert.True(t, notified(h.recorder, notify.LevelSuccess, "List permanently removed"))
	})

	t.Run("missing list", func(t *testing.T) {
		assert.ErrorIs(t, h.engine.RemoveList(ctx, list.ID), models.ErrListNotFound)
	})
}

func TestRemoveListDropsInvitationSentMeanwhile(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	h := newHarness(t, store)
	h.signIn(t, ana)
	list := h.createList(t, "Mercado")

	var injected atomic.Bool
	store.SetCommitHook(func(int) {
		if !injected.CompareAndSwap(false, true) {
			return
		}
		err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			stored, err := tx.GetList(list.ID)
			if err != nil {
				return err
			}
			inv := models.Invitation{
				ID:                 "c1",
				Email:              bruno.Email,
				ListaID:            list.ID,
				ConvidadoPor:       ana.UID,
				ConvidadoUID:       bruno.UID,
				DataConvite:        baseTime,
				Status:             models.InvitationPending,
				PermissaoOferecida: models.PermissionEditor,
			}
			stored.ConvitesPendentes = append(stored.ConvitesPendentes, inv)
			if err := tx.PutList(stored); err != nil {
				return err
			}
			return tx.PutInvitation(bruno.UID, models.InvitationSummary{ConviteID: inv.ID, ListaID: list.ID})
		})
		require.NoError(t, err)
	})
	defer store.SetCommitHook(nil)

	require.NoError(t, h.engine.RemoveList(ctx, list.ID))

	_, err := store.GetList(ctx, list.ID)
	assert.ErrorIs(t, err, models.ErrListNotFound)
	index, err := store.GetInvitationIndex(ctx, bruno.UID)
	require.NoError(t, err)
	assert.NotContains(t, index.Convites, list.ID)
}

// wrappingStore annotates lookups the way a store adapter adding context would
type wrappingStore struct {
	*storage.MemoryStore
}

func (s wrappingStore) GetList(ctx context.Context, id string) (*models.List, error) {
	list, err := s.MemoryStore.GetList(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listas/%s: %w", id, err)
	}
	return list, nil
}

func TestGetListMissingIsQuiet(t *testing.T) {
	h := &harness{
		session:  auth.NewSession(),
		monitor:  connectivity.NewMonitor(true, nil),
		recorder: &notify.Recorder{},
	}
	h.engine = New(wrappingStore{storage.NewMemoryStore()}, h.session, h.monitor, WithNotifier(h.recorder))
	t.Cleanup(h.engine.Stop)
	h.session.SignIn(ana)
	h.engine.Start()

	_, err := h.engine.GetList(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrListNotFound)
	assert.Empty(t, h.recorder.All())
}

func TestUpdateListAndStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	list := h.createList(t, "Mercado")

	updated, err := h.engine.UpdateList(ctx, list.ID, models.ListEdit{Nome: testutil.StringPtr("Supermercado"), Cor: testutil.StringPtr("#00ff00")})
	require.NoError(t, err)
	assert.Equal(t, "Supermercado", updated.Nome)
	assert.Equal(t, "#00ff00", updated.Cor)
	assert.True(t, updated.DataAtualizacao.After(list.DataAtualizacao))

	_, err = h.engine.UpdateList(ctx, list.ID, models.ListEdit{Nome: testutil.StringPtr(" ")})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	first, err := h.engine.AddItem(ctx, models.NewItem{Nome: "Leite", Categoria: "Laticínios"})
	require.NoError(t, err)
	_, err = h.engine.AddItem(ctx, models.NewItem{Nome: "Pão"})
	require.NoError(t, err)
	_, err = h.engine.AddItem(ctx, models.NewItem{Nome: "Café"})
	require.NoError(t, err)
	_, err = h.engine.UpdateItem(ctx, first.ID, models.ItemEdit{Concluido: testutil.BoolPtr(true)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats := h.engine.Stats()
		return stats != nil && stats.TotalItens == 3 && stats.ItensConcluidos == 1
	}, waitFor, tick)
	stats := h.engine.Stats()
	assert.Equal(t, 2, stats.ItensRestantes)
	assert.Equal(t, 33, stats.PercentualConcluido)
	assert.ElementsMatch(t, []string{"Laticínios", models.DefaultCategory}, stats.Categorias)
}

func TestSelectList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.signIn(t, ana)
	first := h.createList(t, "Mercado")
	second := h.createList(t, "Feira")
	assert.Equal(t, second.ID, h.engine.SelectedID())

	require.NoError(t, h.engine.SelectList(ctx, first.ID))
	require.Eventually(t, func() bool {
		current := h.engine.CurrentList().Get()
		return current != nil && current.ID == first.ID
	}, waitFor, tick)

	t.Run("selecting again is a no-op", func(t *testing.T) {
		before := h.engine.Subscriptions().Len()
		require.NoError(t, h.engine.SelectList(ctx, first.ID))
		assert.Equal(t, before, h.engine.Subscriptions().Len())
	})

	t.Run("missing list", func(t *testing.T) {
		assert.ErrorIs(t, h.engine.SelectList(ctx, "missing"), models.ErrListNotFound)
		assert.Equal(t, first.ID, h.engine.SelectedID())
	})
}

func TestNextOrdem(t *testing.T) {
	assert.Equal(t, 0, nextOrdem(nil))
	assert.Equal(t, 2, nextOrdem([]models.Item{{Ordem: 0}, {Ordem: 1}}))
	assert.Equal(t, 2, nextOrdem([]models.Item{{Ordem: 1}, {Ordem: 3}}), "count is free")
	assert.Equal(t, 3, nextOrdem([]models.Item{{Ordem: 0}, {Ordem: 2}}), "count is taken after a removal")
}

func TestStampIsMonotonic(t *testing.T) {
	frozen := testutil.NewClock(baseTime, 0)
	e := New(storage.NewMemoryStore(), auth.NewSession(), connectivity.NewMonitor(true, nil), WithClock(frozen.Now))

	first := e.stamp(baseTime)
	assert.True(t, first.After(baseTime))
	second := e.stamp(first)
	assert.True(t, second.After(first))

	assert.Equal(t, baseTime, e.stamp(baseTime.Add(-time.Hour)))
}

func TestWaitLoaded(t *testing.T) {
	ctx := context.Background()

	t.Run("returns once the stored lists are projected", func(t *testing.T) {
		store := storage.NewMemoryStore()
		id, err := store.CreateList(ctx, models.List{
			Nome:            "Mercado",
			CriadoPor:       ana.UID,
			DataCriacao:     baseTime,
			DataAtualizacao: baseTime,
			Ativa:           true,
		})
		require.NoError(t, err)

		h := newHarness(t, store)
		h.session.SignIn(ana)
		h.engine.Start()

		wait, cancel := context.WithTimeout(ctx, waitFor)
		defer cancel()
		require.NoError(t, h.engine.WaitLoaded(wait))

		lists := h.engine.UserLists().Get()
		require.Len(t, lists, 1)
		assert.Equal(t, id, lists[0].ID)
		current := h.engine.CurrentList().Get()
		require.NotNil(t, current)
		assert.Equal(t, id, current.ID)
	})

	t.Run("a failing subscription still counts as loaded", func(t *testing.T) {
		store := storage.NewMemoryStore()
		store.InjectError(models.ErrUnavailable)
		h := newHarness(t, store)
		h.session.SignIn(ana)
		h.engine.Start()

		wait, cancel := context.WithTimeout(ctx, waitFor)
		defer cancel()
		require.NoError(t, h.engine.WaitLoaded(wait))
		assert.Empty(t, h.engine.UserLists().Get())
	})

	t.Run("signed out is loaded", func(t *testing.T) {
		h := newHarness(t, storage.NewMemoryStore())
		h.signIn(t, ana)
		h.session.SignOut()
		require.Eventually(t, func() bool {
			return h.engine.Subscriptions().Len() == 0
		}, waitFor, tick)
		assert.NoError(t, h.engine.WaitLoaded(ctx))
	})

	t.Run("honours the caller's deadline before start", func(t *testing.T) {
		h := newHarness(t, storage.NewMemoryStore())
		wait, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, h.engine.WaitLoaded(wait), context.DeadlineExceeded)
	})

	t.Run("stopped engine", func(t *testing.T) {
		h := newHarness(t, storage.NewMemoryStore())
		h.engine.Stop()
		assert.ErrorIs(t, h.engine.WaitLoaded(ctx), models.ErrUnavailable)
	})
}
