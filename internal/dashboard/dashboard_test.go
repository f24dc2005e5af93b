package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/docstore"
	"github.com/docsync/docsync/internal/record"
	"github.com/docsync/docsync/internal/relation"
	"github.com/docsync/docsync/internal/store"
	dsync "github.com/docsync/docsync/internal/sync"
)

type fixture struct {
	server *Server
	local  *docstore.Store
	remote *docstore.Store
	http   *httptest.Server
}

func setupTestServer(t *testing.T) *fixture {
	t.Helper()

	local, err := docstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	rem, err := docstore.Open(t.TempDir(), nil)
	require.NoError(t, err)

	srv := NewServer(&Config{
		Backends: map[string]store.Reader{"local": local, "remote": rem},
		Presets:  relation.DefaultPresets(),
	})
	syncer, err := dsync.New(local, rem, dsync.Options{Observer: srv}, nil)
	require.NoError(t, err)
	srv.SetSyncer(syncer)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Stop()
	})
	return &fixture{server: srv, local: local, remote: rem, http: ts}
}

func (f *fixture) seed(t *testing.T, s store.Writer, table string, rec record.Record) {
	t.Helper()
	_, err := s.Create(context.Background(), table, rec)
	require.NoError(t, err)
}

func getJSON(t *testing.T, rawURL string, out any) int {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := setupTestServer(t)

	var body map[string]any
	status := getJSON(t, f.http.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"local", "remote"}, body["backends"])
	assert.Equal(t, true, body["sync"])
}

func TestList_FiltersAndPresets(t *testing.T) {
	f := setupTestServer(t)
	f.seed(t, f.local, "todos", record.Record{"id": "t1", "userId": "u1"})
	f.seed(t, f.local, "todos", record.Record{"id": "t2", "userId": "u2"})
	f.seed(t, f.local, "tasks", record.Record{"id": "k1", "todoId": "t1"})

	var body struct {
		Count   int              `json:"count"`
		Records []map[string]any `json:"records"`
	}
	q := url.Values{"where": {"userId=u1"}, "with": {"tasks"}}
	status := getJSON(t, f.http.URL+"/api/local/todos?"+q.Encode(), &body)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "t1", body.Records[0]["id"])
	tasks, ok := body.Records[0]["tasks"].([]any)
	require.True(t, ok)
	assert.Len(t, tasks, 1)
}

func TestList_DeletedFlag(t *testing.T) {
	f := setupTestServer(t)
	f.seed(t, f.local, "todos", record.Record{"id": "t1"})
	require.NoError(t, f.local.Delete(context.Background(), "todos", "t1"))

	var body struct {
		Count int `json:"count"`
	}
	getJSON(t, f.http.URL+"/api/local/todos", &body)
	assert.Equal(t, 0, body.Count)
	getJSON(t, f.http.URL+"/api/local/todos?deleted=true", &body)
	assert.Equal(t, 1, body.Count)
}

func TestGet_Errors(t *testing.T) {
	f := setupTestServer(t)
	f.seed(t, f.local, "todos", record.Record{"id": "t1"})

	tests := []struct {
		path   string
		status int
	}{
		{"/api/local/todos/t1", http.StatusOK},
		{"/api/local/todos/nope", http.StatusNotFound},
		{"/api/elsewhere/todos/t1", http.StatusNotFound},
		{"/api/local/todos/t1?with=nope", http.StatusBadRequest},
		{"/api/local/bad%20table", http.StatusBadRequest},
		{"/api/local/todos?where=novalue", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var body map[string]any
			assert.Equal(t, tt.status, getJSON(t, f.http.URL+tt.path, &body))
		})
	}
}

func TestSync_EndpointAndBroadcast(t *testing.T) {
	f := setupTestServer(t)
	f.seed(t, f.remote, "todos", record.Record{"id": "t1", "userId": "u1", "updatedAt": "2024-01-02T00:00:00Z"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var hello Message
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, MessageTypeHello, hello.Type)
	assert.Equal(t, 1, f.server.ClientCount())

	resp, err := http.Post(f.http.URL+"/api/sync/import/u1", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report dsync.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, 1, report.Written())

	_, err = f.local.GetByID(ctx, "todos", "t1")
	assert.NoError(t, err)

	var types []dsync.EventType
	for len(types) == 0 || types[len(types)-1] != dsync.EventFinished {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		require.Equal(t, MessageTypeSync, msg.Type)
		var e dsync.Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		assert.Equal(t, report.RunID, e.RunID)
		types = append(types, e.Type)
	}
	assert.Equal(t, dsync.EventStarted, types[0])
	assert.Len(t, types, 2+len(dsync.DefaultPlan()))
}

func TestSync_BadRequests(t *testing.T) {
	f := setupTestServer(t)

	resp, err := http.Post(f.http.URL+"/api/sync/sideways/u1", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bare := httptest.NewServer(NewServer(nil).Handler())
	defer bare.Close()
	resp, err = http.Post(bare.URL+"/api/sync/import/u1", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(&Config{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Start())
	assert.NotEqual(t, "127.0.0.1:0", srv.GetAddr())

	resp, err := http.Get("http://" + srv.GetAddr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, srv.Stop())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(record.NotFound("get", "t", "x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(record.Invalidf("get", "t", "bad")))
	assert.Equal(t, http.StatusBadGateway, statusFor(record.Wrap(record.KindBackend, "get", "t", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(record.Wrap(record.KindIO, "get", "t", context.Canceled)))
}
