package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atillabyte/World/internal/eventbus"
	"github.com/atillabyte/World/internal/object"
	"github.com/atillabyte/World/internal/storage"
	"github.com/atillabyte/World/internal/world"
)

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, bus eventbus.EventBus) *RestServer {
	t.Helper()
	store := storage.NewMemoryObjectStore()
	ctx := context.Background()

	full := object.New().
		Set("name", "Full").
		Set("owner", "alice").
		Set("backgroundColor", int64(0x102030)).
		Set(world.WorldDataField, object.NewArray(
			object.New().Set("type", int64(9)).Set("x1", []byte{1, 2}).Set("y1", []byte{1, 1}),
			object.New().Set("type", int64(385)).Set("text", "hi").Set("x1", []byte{4}).Set("y1", []byte{4}),
		))
	require.NoError(t, store.SaveObject(ctx, storage.DefaultCollection, "full", full))
	require.NoError(t, store.SaveObject(ctx, storage.DefaultCollection, "empty",
		object.New().Set(world.WorldDataField, object.NewArray())))
	require.NoError(t, store.SaveObject(ctx, storage.DefaultCollection, "broken",
		object.New().Set(world.WorldDataField, object.NewArray(object.New().Set("type", int64(9)).Set("x", "@@@")))))

	rs, err := NewRestServer(Config{Store: store, Bus: bus, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	return rs
}

func do(t *testing.T, rs *RestServer, method, path string, body interface{}) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	rs.Handler().ServeHTTP(w, req)

	var resp response
	if w.Header().Get("Content-Type") != "" && json.Valid(w.Body.Bytes()) {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func TestHealth(t *testing.T) {
	rs := newTestServer(t, nil)
	w, _ := do(t, rs, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestWorldSummary(t *testing.T) {
	rs := newTestServer(t, nil)
	w, resp := do(t, rs, http.MethodGet, "/api/worlds/full", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary WorldSummary
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Equal(t, "Full", summary.Name)
	assert.Equal(t, "alice", summary.Owner)
	assert.Equal(t, 200, summary.Width)
	assert.Equal(t, "#102030", summary.BackgroundColor)
	assert.Equal(t, 2, summary.Tiles)
	assert.Equal(t, 3, summary.Positions)
}

func TestWorldErrors(t *testing.T) {
	rs := newTestServer(t, nil)

	w, resp := do(t, rs, http.MethodGet, "/api/worlds/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)

	w, _ = do(t, rs, http.MethodGet, "/api/worlds/broken", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestWorldDocument(t *testing.T) {
	rs := newTestServer(t, nil)
	w, _ := do(t, rs, http.MethodGet, "/api/worlds/full/document", nil)
	require.Equal(t, http.StatusOK, w.Code)

	snap, err := world.ParseJSON(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Full", snap.Name())
	assert.Equal(t, 3, snap.PositionCount())
}

func TestListWorlds(t *testing.T) {
	rs := newTestServer(t, nil)
	w, resp := do(t, rs, http.MethodGet, "/api/worlds", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Worlds []string `json:"worlds"`
		Total  int      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, []string{"broken", "empty", "full"}, data.Worlds)
	assert.Equal(t, 3, data.Total)
}

func TestDiffPreview(t *testing.T) {
	rs := newTestServer(t, nil)

	w, resp := do(t, rs, http.MethodPost, "/api/diff", DiffRequest{SourceID: "full", TargetID: "empty", Limit: 2})
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Missing  int               `json:"missing"`
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 3, data.Missing)
	assert.Len(t, data.Messages, 2)
	assert.JSONEq(t, `{"type":"b","args":[0,1,1,9]}`, string(data.Messages[0]))

	w, resp = do(t, rs, http.MethodPost, "/api/diff", DiffRequest{SourceID: "full", TargetID: "full"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Zero(t, data.Missing)
}

func TestDiffPreviewInlineSource(t *testing.T) {
	rs := newTestServer(t, nil)
	src := json.RawMessage(`{"worlddata":[{"type":385,"x":"AAU=","y":"AAc="}]}`)

	w, resp := do(t, rs, http.MethodPost, "/api/diff", DiffRequest{Source: src, TargetID: "empty"})
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Missing  int               `json:"missing"`
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Equal(t, 1, data.Missing)
	assert.JSONEq(t, `{"type":"b","args":[0,5,7,385,0]}`, string(data.Messages[0]))
}

func TestDiffPreviewBadRequests(t *testing.T) {
	rs := newTestServer(t, nil)

	w, _ := do(t, rs, http.MethodPost, "/api/diff", map[string]string{"source_id": "full"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, rs, http.MethodPost, "/api/diff", DiffRequest{TargetID: "full"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, rs, http.MethodPost, "/api/diff", DiffRequest{SourceID: "full", TargetID: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecentSyncsFromBus(t *testing.T) {
	bus := eventbus.NewMemoryBus(8)
	rs := newTestServer(t, bus)

	env, err := eventbus.NewSyncEnvelope(eventbus.EventSyncTimeout, "test", eventbus.SyncEvent{TargetID: "empty", Retries: 16})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), env))
	require.NoError(t, bus.Close())

	w, resp := do(t, rs, http.MethodGet, "/api/syncs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Syncs []eventbus.SyncEvent `json:"syncs"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data.Syncs, 1)
	assert.Equal(t, 16, data.Syncs[0].Retries)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, rs.Stop(ctx))
}

func TestMetricsEndpoint(t *testing.T) {
	rs := newTestServer(t, nil)
	do(t, rs, http.MethodGet, "/health", nil)
	do(t, rs, http.MethodGet, "/api/worlds", nil)
	w, _ := do(t, rs, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "worldsync_api_http_request_duration_seconds")
}

func TestValidateDocument(t *testing.T) {
	rs := newTestServer(t, nil)

	w, resp := do(t, rs, http.MethodPost, "/api/validate",
		json.RawMessage(`{"name":"ok","worlddata":[{"type":9,"x1":"AQ==","y1":"AQ=="}]}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = do(t, rs, http.MethodPost, "/api/validate",
		json.RawMessage(`{"worlddata":[{"layer":7}]}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, resp.Success)
	var data struct {
		Violations []world.Violation `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotEmpty(t, data.Violations)
	assert.Equal(t, "/worlddata/0/layer", data.Violations[0].Path)

	req := httptest.NewRequest(http.MethodPost, "/api/validate", bytes.NewReader([]byte(`{"worlddata":`)))
	rec := httptest.NewRecorder()
	rs.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
