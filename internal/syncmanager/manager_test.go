package syncmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/index"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter"
)

// remote is a backend shared by every adapter the factory builds.
type remote struct {
	mu           sync.Mutex
	data         *string
	meta         *domain.SyncMetadata
	seq          int
	metaErr      error
	beforeUpload func(r *remote)
	// beforeDownload runs without r.mu held, once.
	beforeDownload func()
	block        chan struct{}

	inits, destroys, uploads, metaCalls int
}

// write must be called with r.mu held.
func (r *remote) write(data string) {
	r.seq++
	r.data = &data
	r.meta = &domain.SyncMetadata{Version: fmt.Sprintf("v%d", r.seq)}
}

func (r *remote) writeCollection(t *testing.T, c domain.Collection) {
	t.Helper()
	doc, err := EncodeDocument(c, 0)
	require.NoError(t, err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write(doc)
}

func (r *remote) collection(t *testing.T) domain.Collection {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotNil(t, r.data)
	c, err := DecodeDocument(*r.data)
	require.NoError(t, err)
	return c
}

func (r *remote) counts() (inits, destroys, uploads, metaCalls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inits, r.destroys, r.uploads, r.metaCalls
}

type fakeAdapter struct{ r *remote }

func (a *fakeAdapter) Init(context.Context, domain.SyncServiceConfig) error {
	a.r.mu.Lock()
	a.r.inits++
	block := a.r.block
	a.r.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil
}

func (a *fakeAdapter) GetAuthStatus(context.Context) domain.AuthStatus {
	return domain.AuthAuthenticated
}

func (a *fakeAdapter) GetRemoteMetadata(context.Context) (*domain.SyncMetadata, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	a.r.metaCalls++
	if a.r.metaErr != nil {
		return nil, a.r.metaErr
	}
	return a.r.meta.Clone(), nil
}

func (a *fakeAdapter) Download(context.Context) (syncadapter.DownloadResult, error) {
	a.r.mu.Lock()
	hook := a.r.beforeDownload
	a.r.beforeDownload = nil
	a.r.mu.Unlock()
	if hook != nil {
		hook()
	}

	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	if a.r.data == nil {
		return syncadapter.DownloadResult{}, nil
	}
	data := *a.r.data
	return syncadapter.DownloadResult{Data: &data, RemoteMeta: a.r.meta.Clone()}, nil
}

func (a *fakeAdapter) Upload(_ context.Context, data string, expected *domain.SyncMetadata) (*domain.SyncMetadata, error) {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	a.r.uploads++
	if hook := a.r.beforeUpload; hook != nil {
		a.r.beforeUpload = nil
		hook(a.r)
	}
	if expected != nil && !expected.Equal(a.r.meta) {
		return nil, &syncadapter.PreconditionError{Expected: expected}
	}
	a.r.write(data)
	return a.r.meta.Clone(), nil
}

func (a *fakeAdapter) Destroy() error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	a.r.destroys++
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	m   *Manager
	idx *index.MemoryIndex
	r   *remote
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	idx := index.NewMemoryIndex()
	idx.UpdateServices([]domain.SyncServiceConfig{
		{ID: "svc", Type: domain.ServiceWebDAV, Enabled: true},
		{ID: "off", Type: domain.ServiceWebDAV, Enabled: false},
	})
	r := &remote{}
	opts := Options{
		Configs:       idx,
		Local:         idx,
		Factory:       func(domain.SyncServiceConfig) (syncadapter.Adapter, error) { return &fakeAdapter{r: r}, nil },
		Clock:         (&fakeClock{now: time.UnixMilli(1_000_000)}).Now,
		RetryInterval: time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := New(opts)
	require.NoError(t, err)
	return &fixture{m: m, idx: idx, r: r}
}

func (f *fixture) setLocal(t *testing.T, c domain.Collection) {
	t.Helper()
	require.NoError(t, f.idx.Replace(context.Background(), c))
	require.NoError(t, f.m.NotifyDataChanged(context.Background()))
}

func (f *fixture) local(t *testing.T) domain.Collection {
	t.Helper()
	c, err := f.idx.Snapshot(context.Background())
	require.NoError(t, err)
	return c
}

func tagged(tags ...string) *domain.BookmarkEntry {
	return &domain.BookmarkEntry{Tags: tags, Meta: domain.BookmarkMeta{Created: 1, Updated: 1}}
}

func TestFirstSyncUploads(t *testing.T) {
	f := newFixture(t, nil)
	f.setLocal(t, domain.Collection{"https://a": tagged("x")})

	res, err := f.m.Sync(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, ActionUpload, res.Action)
	assert.Equal(t, 1, res.Attempts)

	assert.Equal(t, []string{"x"}, f.r.collection(t)["https://a"].Tags)

	cfg, _ := f.idx.Get(context.Background(), "svc")
	assert.Equal(t, "v1", cfg.LastSyncMeta.Version)
	assert.Equal(t, res.SyncedAt, cfg.LastSyncTimestamp)

	inits, destroys, _, _ := f.r.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, destroys)
}

func TestDecisionTable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.setLocal(t, domain.Collection{"https://a": tagged("x")})
	_, err := f.m.Sync(ctx, "svc")
	require.NoError(t, err)

	// Nothing changed.
	res, err := f.m.Sync(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)

	// Only local changed.
	f.setLocal(t, domain.Collection{"https://a": tagged("x", "y")})
	res, err = f.m.Sync(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, ActionUpload, res.Action)
	assert.Equal(t, []string{"x", "y"}, f.r.collection(t)["https://a"].Tags)

	// Only remote changed.
	f.r.writeCollection(t, domain.Collection{"https://b": tagged("z")})
	res, err = f.m.Sync(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, ActionDownload, res.Action)
	local := f.local(t)
	assert.Len(t, local, 1)
	assert.Equal(t, []string{"z"}, local["https://b"].Tags)

	// Both changed.
	f.r.writeCollection(t, domain.Collection{"https://b": tagged("z", "remote")})
	f.setLocal(t, domain.Collection{"https://b": tagged("local", "z"), "https://c": tagged("c")})
	res, err = f.m.Sync(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, res.Action)

	for _, c := range []domain.Collection{f.local(t), f.r.collection(t)} {
		assert.Equal(t, []string{"local", "z", "remote"}, c["https://b"].Tags)
		assert.Equal(t, []string{"c"}, c["https://c"].Tags)
	}
}

func TestDownloadKeepsCommandCommittedMeanwhile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.setLocal(t, domain.Collection{"https://u": tagged("a")})
	_, err := f.m.Sync(ctx, "svc")
	require.NoError(t, err)

	cm, err := commands.NewManager(commands.ManagerOptions{
		Resolver:  f.idx.ResolveBookmarks,
		Persister: f.idx.PersistBookmarks,
	})
	require.NoError(t, err)

	// Only the remote changed when the sync starts; the command lands while
	// the download is in flight.
	f.r.writeCollection(t, domain.Collection{"https://u": tagged("a"), "https://v": tagged("b")})
	f.r.mu.Lock()
	f.r.beforeDownload = func() {
		_, err := cm.ExecuteCommand(ctx, commands.NewAddTagCommand([]string{"https://u"}, []string{"edited"}))
		require.NoError(t, err)
	}
	f.r.mu.Unlock()

	res, err := f.m.Sync(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, res.Action)
	assert.True(t, cm.CanUndo())

	for _, c := range []domain.Collection{f.local(t), f.r.collection(t)} {
		assert.Equal(t, []string{"a", "edited"}, c["https://u"].Tags)
		assert.Equal(t, []string{"b"}, c["https://v"].Tags)
	}
}

func TestConflictIsRetriedWithFreshMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.setLocal(t, domain.Collection{"https://a": tagged("x")})
	_, err := f.m.Sync(ctx, "svc")
	require.NoError(t, err)

	f.setLocal(t, domain.Collection{"https://a": tagged("x", "mine")})
	concurrent, err := EncodeDocument(domain.Collection{"https://a": tagged("x"), "https://w": tagged("theirs")}, 0)
	require.NoError(t, err)
	f.r.mu.Lock()
	f.r.beforeUpload = func(r *remote) { r.write(concurrent) }
	f.r.mu.Unlock()

	res, err := f.m.Sync(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, res.Action)
	assert.Equal(t, 2, res.Attempts)

	remote := f.r.collection(t)
	assert.Equal(t, []string{"x", "mine"}, remote["https://a"].Tags)
	assert.Equal(t, []string{"theirs"}, remote["https://w"].Tags)
}

func TestConflictRetriesAreBounded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(o *Options) { o.MaxAttempts = 2 })
	f.setLocal(t, domain.Collection{"https://a": tagged("x")})
	_, err := f.m.Sync(ctx, "svc")
	require.NoError(t, err)
	f.setLocal(t, domain.Collection{"https://a": tagged("y")})

	// Every upload loses the race.
	var hook func(r *remote)
	hook = func(r *remote) {
		r.write(`{"version":3,"bookmarks":{}}`)
		r.beforeUpload = hook
	}
	f.r.mu.Lock()
	f.r.beforeUpload = hook
	f.r.mu.Unlock()

	_, err = f.m.Sync(ctx, "svc")
	require.Error(t, err)
	assert.True(t, syncadapter.IsConflict(err))

	_, destroys, uploads, _ := f.r.counts()
	assert.Equal(t, 2, destroys)
	assert.Equal(t, 1+2, uploads)
}

func TestTransportErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.r.metaErr = &syncadapter.TransportError{Op: "PROPFIND", Status: 500}

	_, err := f.m.Sync(context.Background(), "svc")
	require.Error(t, err)
	assert.ErrorIs(t, err, syncadapter.ErrTransport)

	_, destroys, _, metaCalls := f.r.counts()
	assert.Equal(t, 1, metaCalls)
	assert.Equal(t, 1, destroys)
}

func TestSyncRejectsUnknownAndDisabled(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.m.Sync(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrServiceNotFound)

	_, err = f.m.Sync(context.Background(), "off")
	assert.ErrorIs(t, err, ErrServiceDisabled)
}

func TestConcurrentSyncsShareOneRun(t *testing.T) {
	f := newFixture(t, nil)
	f.r.block = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.m.Sync(context.Background(), "svc")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool {
		inits, _, _, _ := f.r.counts()
		return inits == 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.r.block)
	wg.Wait()

	inits, _, uploads, _ := f.r.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, uploads)
	assert.Same(t, results[0], results[1])
}

func TestSyncAllCombinesErrors(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.idx.Save(context.Background(), domain.SyncServiceConfig{ID: "broken", Type: "ftp", Enabled: true}))
	f.m.factory = func(cfg domain.SyncServiceConfig) (syncadapter.Adapter, error) {
		if cfg.ID == "broken" {
			return nil, errors.New("no adapter")
		}
		return &fakeAdapter{r: f.r}, nil
	}

	results, err := f.m.SyncAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter")
	require.Len(t, results, 1)
	assert.Equal(t, "svc", results[0].ServiceID)
}

func TestEnqueueDeduplicates(t *testing.T) {
	done := make(chan string, 4)
	f := newFixture(t, func(o *Options) {
		o.OnResult = func(id string, _ *Result, err error) {
			assert.NoError(t, err)
			done <- id
		}
	})

	assert.False(t, f.m.Enqueue("svc"), "enqueue before start")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.m.Start(ctx)
	f.m.Start(ctx)
	defer f.m.Stop()

	f.r.block = make(chan struct{})
	require.True(t, f.m.Enqueue("svc"))
	require.Eventually(t, func() bool {
		inits, _, _, _ := f.r.counts()
		return inits == 1
	}, time.Second, time.Millisecond)

	// The first sync is running, so one more can wait in the queue.
	assert.True(t, f.m.Enqueue("svc"))
	assert.False(t, f.m.Enqueue("svc"))

	f.r.mu.Lock()
	close(f.r.block)
	f.r.block = nil
	f.r.mu.Unlock()

	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			assert.Equal(t, "svc", id)
		case <-time.After(2 * time.Second):
			t.Fatal("queued sync did not run")
		}
	}
}

func TestAuthStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	st, err := f.m.AuthStatus(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthAuthenticated, st)

	_, destroys, _, _ := f.r.counts()
	assert.Equal(t, 1, destroys)

	_, err = f.m.AuthStatus(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrServiceNotFound)

	f.m.factory = func(domain.SyncServiceConfig) (syncadapter.Adapter, error) {
		return nil, &syncadapter.ConfigError{Field: "type", Reason: "unknown"}
	}
	st, err = f.m.AuthStatus(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthRequiresConfig, st)
}
