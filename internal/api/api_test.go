package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/callpop/internal/cache"
	"github.com/sweeney/callpop/internal/history"
	"github.com/sweeney/callpop/internal/hub"
)

func newTestRouter(t *testing.T) (http.Handler, *history.SQLiteStore) {
	t.Helper()
	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, callID := range []string{"9001", "9002", "9003"} {
		_, err := store.Insert(context.Background(), history.Record{
			ID:          "rec-" + callID,
			CallID:      callID,
			Operator:    "101",
			PhoneNumber: "5551234567",
			Data:        []byte(`{"stage":4}`),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	customers := cache.NewNamespace[[]byte]("customers", time.Minute)
	router := NewRouter(Deps{
		Operators: hub.New(hub.Options{}),
		History:   store,
		Stats: func() Stats {
			return Stats{
				Operators:       hub.Stats{Sessions: 2, Operators: map[string]int{"101": 2}},
				Caches:          []cache.Stats{customers.Stats()},
				CallSessions:    1,
				Cursor:          42,
				StreamConnected: true,
			}
		},
	})
	return router, store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestOperatorCalls(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := get(t, router, "/api/operators/101/calls")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var records []history.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 3)
	assert.Equal(t, "9003", records[0].CallID)

	rec = get(t, router, "/api/operators/101/calls?limit=2")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 2)

	rec = get(t, router, "/api/operators/999/calls")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestOperatorCallsBadLimit(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, q := range []string{"limit=abc", "limit=0", "limit=-4"} {
		rec := get(t, router, "/api/operators/101/calls?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestCallByIDOrCallID(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, key := range []string{"rec-9002", "9002"} {
		rec := get(t, router, "/api/calls/"+key)
		require.Equal(t, http.StatusOK, rec.Code, key)
		var got history.Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "9002", got.CallID)
		assert.JSONEq(t, `{"stage":4}`, string(got.Data))
	}

	rec := get(t, router, "/api/calls/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"call not found"}`, rec.Body.String())
}

func TestStatsAndHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := get(t, router, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var st Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(42), st.Cursor)
	assert.Equal(t, 2, st.Operators.Operators["101"])
	require.Len(t, st.Caches, 1)
	assert.Equal(t, "customers", st.Caches[0].Name)
	assert.Equal(t, "1m0s", st.Caches[0].TTL)

	rec = get(t, router, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","streamConnected":true}`, rec.Body.String())
}

func TestWebsocketRouteRequiresUpgrade(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := get(t, router, "/ws")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
