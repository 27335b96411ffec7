package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auctionlens/itemtrack/api"
	"github.com/auctionlens/itemtrack/internal/snapshot"
	"github.com/auctionlens/itemtrack/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	lg := zap.NewNop()
	st, err := store.Open(filepath.Join(t.TempDir(), "items.db"), lg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cache := snapshot.New(st, time.Minute, 150, 1000, lg)
	srv := httptest.NewServer(New(st, cache, lg).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func seedItem(t *testing.T, st *store.Store, tag, name string, mods map[string][]string) int64 {
	t.Helper()
	ctx := context.Background()
	id, _, err := st.EnsureItem(ctx, tag, name, api.CategoryUnknown, api.TierUnknown)
	require.NoError(t, err)
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	for slug, values := range mods {
		for _, v := range values {
			require.NoError(t, tx.InsertModifier(ctx, id, slug, v, 1))
		}
	}
	require.NoError(t, tx.Commit())
	return id
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestCategoriesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	var cats []string
	resp := getJSON(t, srv.URL+"/items/categories", &cats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, cats, "SWORD")
	assert.Contains(t, cats, "PET")
}

func TestItemModifiersEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	seedItem(t, st, "ASPECT_OF_THE_END", "Aspect of the End", map[string][]string{
		"rarity_upgrades": {"1"},
		"!enchsharpness":  {"5", "6"},
	})

	var mods map[string][]string
	resp := getJSON(t, srv.URL+"/item/ASPECT_OF_THE_END/modifiers", &mods)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []string{"5", "6"}, mods["!enchsharpness"])
	assert.Equal(t, []string{"1"}, mods["rarity_upgrades"])
}

func TestItemModifiersUnknownTagIsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	var mods map[string][]string
	resp := getJSON(t, srv.URL+"/item/NOPE/modifiers", &mods)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, mods)
}

func TestAllModifiersSnapshot(t *testing.T) {
	srv, st := newTestServer(t)
	seedItem(t, st, "HYPERION", "Hyperion", map[string][]string{
		"rarity_upgrades": {"0", "1"},
	})
	seedItem(t, st, "TERMINATOR", "Terminator", map[string][]string{
		"rarity_upgrades": {"1"},
	})

	var view map[string][]string
	resp := getJSON(t, srv.URL+"/item/modifiers", &view)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []string{"0", "1"}, view["rarity_upgrades"])
}

func TestAllModifiersForceRefresh(t *testing.T) {
	srv, st := newTestServer(t)
	seedItem(t, st, "HYPERION", "Hyperion", map[string][]string{
		"rarity_upgrades": {"0"},
	})

	var view map[string][]string
	getJSON(t, srv.URL+"/item/modifiers", &view)
	require.Equal(t, []string{"0"}, view["rarity_upgrades"])

	seedItem(t, st, "TERMINATOR", "Terminator", map[string][]string{
		"rarity_upgrades": {"1"},
	})

	// Cached view is fresh, so the new value only shows after a force.
	getJSON(t, srv.URL+"/item/modifiers", &view)
	assert.Len(t, view["rarity_upgrades"], 1)
	getJSON(t, srv.URL+"/item/modifiers?force=true", &view)
	assert.ElementsMatch(t, []string{"0", "1"}, view["rarity_upgrades"])
}

func TestSearchEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	seedItem(t, st, "ASPECT_OF_THE_END", "Aspect of the End", nil)
	seedItem(t, st, "ASPECT_OF_THE_VOID", "Aspect of the Void", nil)

	var results []api.SearchResult
	resp := getJSON(t, srv.URL+"/items/search/Aspect", &results)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, results, 2)

	resp = getJSON(t, srv.URL+"/items/search/zzzz", &results)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, results)
}

func TestSearchIDEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	id := seedItem(t, st, "ASPECT_OF_THE_END", "Aspect of the End", nil)
	seedItem(t, st, "ASPECT_OF_THE_VOID", "Aspect of the Void", nil)

	var got int64
	resp := getJSON(t, srv.URL+"/items/search/"+url.PathEscape("Aspect of the End")+"/id", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, got)

	resp = getJSON(t, srv.URL+"/items/search/zzzz/id", &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, got)
}

func TestBazaarTagsAndIDs(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	seedItem(t, st, "BOOSTER_COOKIE", "Booster Cookie", nil)
	require.NoError(t, st.AddFlags(ctx, []string{"BOOSTER_COOKIE"}, api.FlagBazaar))

	var tags []string
	getJSON(t, srv.URL+"/items/bazaar/tags", &tags)
	assert.Equal(t, []string{"BOOSTER_COOKIE"}, tags)

	var ids map[string]int64
	getJSON(t, srv.URL+"/items/ids", &ids)
	assert.Contains(t, ids, "BOOSTER_COOKIE")
}
