package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/linktags/internal/bus"
	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/index"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/scheduler"
	"github.com/MrSnakeDoc/linktags/internal/store"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter/extension"
	"github.com/MrSnakeDoc/linktags/internal/syncmanager"
)

// memRemote is an in-memory backend shared by every adapter built in a test.
type memRemote struct {
	mu   sync.Mutex
	data *string
	seq  int
}

type memAdapter struct{ r *memRemote }

func (a *memAdapter) Init(context.Context, domain.SyncServiceConfig) error { return nil }

func (a *memAdapter) GetAuthStatus(context.Context) domain.AuthStatus {
	return domain.AuthAuthenticated
}

func (a *memAdapter) GetRemoteMetadata(context.Context) (*domain.SyncMetadata, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	return a.r.meta(), nil
}

func (a *memAdapter) Download(context.Context) (syncadapter.DownloadResult, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	if a.r.data == nil {
		return syncadapter.DownloadResult{}, nil
	}
	data := *a.r.data
	return syncadapter.DownloadResult{Data: &data, RemoteMeta: a.r.meta()}, nil
}

func (a *memAdapter) Upload(_ context.Context, data string, expected *domain.SyncMetadata) (*domain.SyncMetadata, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	if expected != nil && !expected.Equal(a.r.meta()) {
		return nil, &syncadapter.PreconditionError{Expected: expected}
	}
	a.r.seq++
	a.r.data = &data
	return a.r.meta(), nil
}

func (a *memAdapter) Destroy() error { return nil }

// meta must be called with r.mu held.
func (r *memRemote) meta() *domain.SyncMetadata {
	if r.data == nil {
		return nil
	}
	return &domain.SyncMetadata{Version: "v" + strconv.Itoa(r.seq)}
}

type fixture struct {
	router http.Handler
	store  *store.Store
	bus    *bus.MemoryBus
	remote *memRemote
	d      deps.Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()

	st := store.New(index.NewMemoryIndex(), nil, log)
	st.Index().UpdateServices([]domain.SyncServiceConfig{
		{
			ID: "dav", Type: domain.ServiceWebDAV, Enabled: true,
			Credentials: domain.SyncCredentials{Username: "me", Password: "secret"},
		},
		{ID: "off", Type: domain.ServiceWebDAV, Enabled: false},
	})
	require.NoError(t, st.Replace(ctx, domain.Collection{
		"https://go.dev/doc":   {Tags: []string{"go", "docs"}, Meta: domain.BookmarkMeta{Title: "Go docs", Created: 1, Updated: 1}},
		"https://redis.io/":    {Tags: []string{"db"}, Meta: domain.BookmarkMeta{Title: "Redis", Created: 1, Updated: 2}},
		"https://example.com/": {Tags: []string{"misc"}, Meta: domain.BookmarkMeta{Created: 1, Updated: 3}},
	}))

	remote := &memRemote{}
	sm, err := syncmanager.New(syncmanager.Options{
		Configs: st,
		Local:   st,
		Factory: func(domain.SyncServiceConfig) (syncadapter.Adapter, error) {
			return &memAdapter{r: remote}, nil
		},
		Logger:        log,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)

	cm, err := commands.NewManager(commands.ManagerOptions{
		Resolver:         st.ResolveBookmarks,
		Persister:        st.PersistBookmarks,
		HistoryPersister: st.SaveHistory,
		MaxHistorySize:   10,
		Logger:           log,
	})
	require.NoError(t, err)

	as, err := scheduler.NewAutoSync(scheduler.AutoSyncOptions{
		Locks:    index.NewMemoryLockStore(),
		Services: st,
		Queue:    sm,
		Logger:   log,
		OwnerID:  "node-a",
	})
	require.NoError(t, err)

	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	d := deps.Deps{
		Logger:    log,
		StartTime: time.Now(),
		Version:   "test",
		Store:     st,
		Commands:  cm,
		Sync:      sm,
		AutoSync:  as,
		Bus:       b,
	}
	return &fixture{router: NewRouter(log, d), store: st, bus: b, remote: remote, d: d}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) tags(t *testing.T, url string) []string {
	t.Helper()
	c, err := f.store.Snapshot(context.Background())
	require.NoError(t, err)
	e, ok := c[url]
	if !ok {
		return nil
	}
	return e.Tags
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestCommandsUndoRedo(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/commands", map[string]any{
		"type": "add", "urls": []string{"https://go.dev/doc", "https://unknown.test/"}, "text": "lang, Go",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]any](t, rec)
	assert.Equal(t, true, res["canUndo"])
	assert.Equal(t, false, res["canRedo"])

	assert.Equal(t, []string{"go", "docs", "lang", "Go"}, f.tags(t, "https://go.dev/doc"))
	assert.Nil(t, f.tags(t, "https://unknown.test/"), "commands never create bookmarks")

	rec = f.do(t, http.MethodPost, "/api/history/undo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["applied"])
	assert.Equal(t, []string{"go", "docs"}, f.tags(t, "https://go.dev/doc"))

	rec = f.do(t, http.MethodPost, "/api/history/redo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"go", "docs", "lang", "Go"}, f.tags(t, "https://go.dev/doc"))

	// Nothing left to redo.
	rec = f.do(t, http.MethodPost, "/api/history/redo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["applied"])

	rec = f.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[commands.HistoryRecord](t, rec)
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, commands.TypeAdd, hist.Entries[0].Type)
	assert.Equal(t, 0, hist.CurrentIndex)
}

func TestRemovingLastTagDeletesBookmark(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/commands", map[string]any{
		"type": "remove", "urls": []string{"https://redis.io/"}, "tags": []string{"db"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]any](t, rec)
	first := res["results"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 1, first["deletedCount"])
	assert.Nil(t, f.tags(t, "https://redis.io/"))

	rec = f.do(t, http.MethodPost, "/api/history/undo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"db"}, f.tags(t, "https://redis.io/"))
}

func TestBatchWithLabelIsOneStep(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/commands/batch", map[string]any{
		"label": "cleanup",
		"commands": []map[string]any{
			{"type": "rename", "urls": []string{"https://go.dev/doc"}, "sourceTags": []string{"docs"}, "targetTags": []string{"reference"}},
			{"type": "add", "urls": []string{"https://example.com/"}, "tags": []string{"reference"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"go", "reference"}, f.tags(t, "https://go.dev/doc"))
	assert.Equal(t, []string{"misc", "reference"}, f.tags(t, "https://example.com/"))

	hist := decode[commands.HistoryRecord](t, f.do(t, http.MethodGet, "/api/history", nil))
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, commands.TypeComposite, hist.Entries[0].Type)

	f.do(t, http.MethodPost, "/api/history/undo", nil)
	assert.Equal(t, []string{"go", "docs"}, f.tags(t, "https://go.dev/doc"))
	assert.Equal(t, []string{"misc"}, f.tags(t, "https://example.com/"))
}

func TestCommandValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		target string
		body   any
	}{
		{"unknown type", http.MethodPost, "/api/commands", map[string]any{"type": "tag", "urls": []string{"https://a"}}},
		{"no urls", http.MethodPost, "/api/commands", map[string]any{"type": "add", "tags": []string{"x"}}},
		{"unknown field", http.MethodPost, "/api/commands", map[string]any{"type": "add", "urls": []string{"https://a"}, "nope": 1}},
		{"empty batch", http.MethodPost, "/api/commands/batch", map[string]any{"commands": []any{}}},
		{"zero history size", http.MethodPut, "/api/history/max-size", map[string]any{"maxSize": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestSetMaxHistorySizeTrims(t *testing.T) {
	f := newFixture(t)
	for _, tag := range []string{"a", "b", "c"} {
		rec := f.do(t, http.MethodPost, "/api/commands", map[string]any{
			"type": "add", "urls": []string{"https://example.com/"}, "tags": []string{tag},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, http.MethodPut, "/api/history/max-size", map[string]any{"maxSize": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hist := decode[commands.HistoryRecord](t, rec)
	assert.Len(t, hist.Entries, 2)
	assert.Equal(t, 2, hist.MaxSize)
	assert.Equal(t, 1, hist.CurrentIndex)
}

func TestBookmarksSearch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/bookmarks?tags=go", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, body["total"])

	rec = f.do(t, http.MethodGet, "/api/bookmarks?q=redis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[map[string]any](t, rec)["results"].([]any)
	require.NotEmpty(t, results)
	assert.Equal(t, "https://redis.io/", results[0].(map[string]any)["url"])

	rec = f.do(t, http.MethodGet, "/api/bookmarks?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sync/dav", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[syncmanager.Result](t, rec)
	assert.Equal(t, "dav", res.ServiceID)
	assert.Equal(t, syncmanager.ActionUpload, res.Action)

	f.remote.mu.Lock()
	uploaded := *f.remote.data
	f.remote.mu.Unlock()
	remote, err := syncmanager.DecodeDocument(uploaded)
	require.NoError(t, err)
	assert.Len(t, remote, 3)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown service", "/api/sync/nope", http.StatusNotFound},
		{"disabled service", "/api/sync/off", http.StatusConflict},
		{"queue unknown", "/api/sync/nope/queue", http.StatusNotFound},
		{"queue known", "/api/sync/dav/queue", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.target, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec = f.do(t, http.MethodGet, "/api/sync/dav/auth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(domain.AuthAuthenticated), decode[map[string]any](t, rec)["status"])
}

func TestSyncAll(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Len(t, body["results"], 1)
	assert.Nil(t, body["errors"])
}

func TestSyncServicesRedactsSecrets(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/sync/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "secret")
	services := decode[[]domain.SyncServiceConfig](t, rec)
	require.Len(t, services, 2)
	for _, s := range services {
		if s.ID == "dav" {
			assert.Equal(t, "me", s.Credentials.Username)
			assert.Equal(t, "***", s.Credentials.Password)
		}
	}
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/lifecycle/visibility", map[string]any{"visible": true})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "node-a", body["owner"])
	assert.Equal(t, true, body["leader"])

	rec = f.do(t, http.MethodPost, "/api/lifecycle/unload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["leader"])
}

func TestBridgeRelaysFrames(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	received := make(chan []byte, 4)
	unsub, err := f.bus.Subscribe(context.Background(), func(frame []byte) { received <- frame })
	require.NoError(t, err)
	defer unsub()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/bridge"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Peer to bus.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"source":"utags-extension","id":"1"}`)))
	select {
	case frame := <-received:
		assert.JSONEq(t, `{"source":"utags-extension","id":"1"}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("frame from peer never reached the bus")
	}

	// Bus to peer. The peer's own frame above must not come back first.
	require.NoError(t, f.bus.Publish(context.Background(), []byte(`{"source":"utags-webapp","id":"2"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"utags-webapp","id":"2"}`, string(frame))
}

func TestBridgeRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/bridge"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatusMemoryOnly(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Mode       string                    `json:"mode"`
		Components map[string]map[string]any `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "operational", body.Mode)
	assert.Equal(t, "disabled", body.Components["redis"]["mode"])
	assert.Equal(t, "in-process", body.Components["bus"]["mode"])
	assert.EqualValues(t, 2, body.Components["services"]["services_loaded"])
	assert.EqualValues(t, 3, body.Components["services"]["bookmarks"])
}

func TestReadyzWithoutRedis(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDiscoverExtensions(t *testing.T) {
	f := newFixture(t)
	d := f.d
	d.ExtensionOptions = []extension.Option{extension.WithDiscoveryWindow(200 * time.Millisecond)}
	router := NewRouter(logger.NewNop(), d)

	// A peer answering discovery broadcasts, the way the extension does.
	unsub, err := f.bus.Subscribe(context.Background(), func(frame []byte) {
		var msg extension.Message
		if json.Unmarshal(frame, &msg) != nil || msg.Type != extension.TypeDiscover {
			return
		}
		reply, _ := json.Marshal(extension.Message{
			Source:      extension.SourcePeer,
			ID:          msg.ID,
			ExtensionID: "abcdef0123456789",
			Type:        extension.TypeDiscoveryResponse,
			Payload:     json.RawMessage(`{"displayName":"Tags Helper"}`),
		})
		_ = f.bus.Publish(context.Background(), reply)
	})
	require.NoError(t, err)
	defer unsub()

	req := httptest.NewRequest(http.MethodGet, "/api/extensions/discover", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	targets := decode[[]map[string]string](t, rec)
	require.Len(t, targets, 1)
	assert.Equal(t, "abcdef0123456789", targets[0]["extensionId"])
	assert.Equal(t, "Tags Helper", targets[0]["name"])
}
