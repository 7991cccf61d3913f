package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/config"
	"github.com/city-engagement/internal/domain"
	"github.com/city-engagement/internal/engine"
	"github.com/city-engagement/internal/memory"
	"github.com/city-engagement/internal/service"
	"github.com/city-engagement/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// downStore simulates an unreachable database
type downStore struct {
	service.ProfileStore
}

func (downStore) Get(context.Context, string) (*domain.Profile, error) {
	return nil, errors.New("connection refused")
}

func newTestHandler(t *testing.T, store service.ProfileStore) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	cfg.Engine.RetryInitialInterval = time.Millisecond
	cfg.Engine.RetryMaxInterval = time.Millisecond
	cfg.Engine.MaxAttempts = 2

	pipeline := engine.NewPipeline(catalog.Default(), engine.Options{Location: time.UTC})
	boards, err := service.NewLeaderboardManager(memory.NewRankIndex(), &cfg.Leaderboard, time.UTC, false, logger)
	require.NoError(t, err)
	svc := service.NewEngagementService(pipeline, store, boards, &cfg.Engine, logger)
	return NewHandler(svc, websocket.NewHub(logger), logger)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestRecordAction(t *testing.T) {
	router := newTestHandler(t, memory.NewProfileStore()).Router()

	rec, resp := do(t, router, http.MethodPost, "/api/v1/actions", RecordActionRequest{UserID: "alice", Action: "review"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	data := dataMap(t, resp)
	assert.Equal(t, float64(30), data["points_awarded"])
	assert.Equal(t, []interface{}{"first_review"}, data["new_badges"])

	cases := []struct {
		name string
		body interface{}
	}{
		{"MalformedBody", "{"},
		{"MissingUser", RecordActionRequest{Action: "review"}},
		{"UnknownAction", RecordActionRequest{UserID: "alice", Action: "rsvp"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := do(t, router, http.MethodPost, "/api/v1/actions", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGetProfile(t *testing.T) {
	router := newTestHandler(t, memory.NewProfileStore()).Router()

	rec, resp := do(t, router, http.MethodGet, "/api/v1/profiles/nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, resp)
	assert.Equal(t, float64(0), data["points"])
	assert.Equal(t, "Explorer", data["level"])
	assert.Equal(t, "Expert", data["next_level"])
	assert.Equal(t, float64(200), data["points_to_next_level"])

	do(t, router, http.MethodPost, "/api/v1/actions", RecordActionRequest{UserID: "bob", Action: "event_attend"})
	_, resp = do(t, router, http.MethodGet, "/api/v1/profiles/bob", nil)
	data = dataMap(t, resp)
	assert.Equal(t, float64(15), data["points"])
	assert.Equal(t, float64(185), data["points_to_next_level"])
}

func TestGrantSpecialEvent(t *testing.T) {
	router := newTestHandler(t, memory.NewProfileStore()).Router()

	rec, resp := do(t, router, http.MethodPost, "/api/v1/profiles/carol/events", SpecialEventRequest{EventID: "early_adopter"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(50), dataMap(t, resp)["total_points"])

	rec, _ = do(t, router, http.MethodPost, "/api/v1/profiles/carol/events", SpecialEventRequest{EventID: "black_friday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, router, http.MethodPost, "/api/v1/profiles/carol/events", SpecialEventRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboards(t *testing.T) {
	router := newTestHandler(t, memory.NewProfileStore()).Router()
	for _, user := range []string{"dana", "erin", "erin"} {
		do(t, router, http.MethodPost, "/api/v1/actions", RecordActionRequest{UserID: user, Action: "comment"})
	}

	rec, resp := do(t, router, http.MethodGet, "/api/v1/leaderboards/all_time?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, resp)
	entries := data["entries"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, "erin", entries[0].(map[string]interface{})["user_id"])
	assert.Equal(t, float64(2), data["total_entries"])

	rec, resp = do(t, router, http.MethodGet, "/api/v1/leaderboards/weekly/users/dana", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), dataMap(t, resp)["rank"])

	rec, resp = do(t, router, http.MethodGet, "/api/v1/leaderboards/all_time/around/dana?range=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 2)

	rec, resp = do(t, router, http.MethodGet, "/api/v1/leaderboards/all_time/users/nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), dataMap(t, resp)["rank"])

	rec, _ = do(t, router, http.MethodGet, "/api/v1/leaderboards/all_time/around/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/api/v1/leaderboards/daily", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCatalog(t *testing.T) {
	router := newTestHandler(t, memory.NewProfileStore()).Router()

	rec, resp := do(t, router, http.MethodGet, "/api/v1/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, resp)
	badges := data["badges"].([]interface{})
	assert.Len(t, badges, len(catalog.Default().Badges()))
	first := badges[0].(map[string]interface{})
	assert.Equal(t, "first_review", first["id"])
	assert.Equal(t, "action_count", first["condition"].(map[string]interface{})["type"])
	assert.Len(t, data["actions"], 7)
}

func TestStorageUnavailable(t *testing.T) {
	router := newTestHandler(t, downStore{memory.NewProfileStore()}).Router()

	rec, resp := do(t, router, http.MethodGet, "/api/v1/profiles/alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.False(t, resp.Success)

	rec, _ = do(t, router, http.MethodPost, "/api/v1/actions", RecordActionRequest{UserID: "alice", Action: "review"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	h := newTestHandler(t, memory.NewProfileStore())
	router := h.Router()

	rec, _ := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.AddReadinessCheck("redis", func(context.Context) error { return nil })
	rec, _ = do(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.AddReadinessCheck("postgres", func(context.Context) error { return errors.New("down") })
	rec, resp := do(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := dataMap(t, resp)["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["redis"])
	assert.Equal(t, "down", checks["postgres"])

	rec, _ = do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
