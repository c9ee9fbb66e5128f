// Package extension syncs through a browser-extension peer reachable only
// over a broadcast message channel. Requests are correlated by id and each
// one is settled exactly once: by the peer's answer, by its timer, or by
// Destroy.
package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/linktags/internal/bus"
	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter"
)

// Default timeouts.
const (
	DefaultPingTimeout     = 5 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultDiscoveryWindow = 3 * time.Second
)

// Target is a peer found by discovery.
type Target struct {
	ExtensionID string
	Name        string
}

type options struct {
	pingTimeout     time.Duration
	requestTimeout  time.Duration
	discoveryWindow time.Duration
}

// Option tunes an Adapter.
type Option func(*options)

// WithPingTimeout overrides the PING timeout used by Init.
func WithPingTimeout(d time.Duration) Option { return func(o *options) { o.pingTimeout = d } }

// WithRequestTimeout overrides the timeout of data requests.
func WithRequestTimeout(d time.Duration) Option { return func(o *options) { o.requestTimeout = d } }

// WithDiscoveryWindow overrides how long discovery collects answers.
func WithDiscoveryWindow(d time.Duration) Option { return func(o *options) { o.discoveryWindow = d } }

type reply struct {
	msg *Message
	err error
}

type pendingRequest struct {
	timer *time.Timer
	done  chan reply
}

type discoveryRun struct {
	seen map[string]bool
	done chan struct{}
}

// Adapter implements syncadapter.Adapter over a bus.Bus.
type Adapter struct {
	life syncadapter.Lifecycle
	bus  bus.Bus
	log  logger.Logger
	opts options

	subMu sync.Mutex
	unsub func()

	mu          sync.Mutex
	extensionID string
	pending     map[string]*pendingRequest
	discovery   *discoveryRun

	eventMu  sync.Mutex
	onTarget func(Target)
}

// New creates an adapter talking over b.
func New(b bus.Bus, log logger.Logger, opts ...Option) *Adapter {
	if log == nil {
		log = logger.NewNop()
	}
	o := options{
		pingTimeout:     DefaultPingTimeout,
		requestTimeout:  DefaultRequestTimeout,
		discoveryWindow: DefaultDiscoveryWindow,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Adapter{
		bus:     b,
		log:     log,
		opts:    o,
		pending: make(map[string]*pendingRequest),
	}
}

// OnTargetFound registers the discovery callback. The callback must not
// call Destroy.
func (a *Adapter) OnTargetFound(fn func(Target)) {
	a.eventMu.Lock()
	defer a.eventMu.Unlock()
	a.onTarget = fn
}

// Init stores cfg and requires the peer to answer PING with PONG.
func (a *Adapter) Init(ctx context.Context, cfg domain.SyncServiceConfig) error {
	if cfg.Type != domain.ServiceBrowserExtension {
		return &syncadapter.ConfigError{Field: "type", Reason: fmt.Sprintf("must be %s, got %q", domain.ServiceBrowserExtension, cfg.Type)}
	}
	if strings.TrimSpace(cfg.Target.ExtensionID) == "" {
		return &syncadapter.ConfigError{Field: "target.extensionId", Reason: "is required"}
	}
	if err := a.life.Begin(cfg); err != nil {
		return err
	}

	a.mu.Lock()
	a.extensionID = cfg.Target.ExtensionID
	a.mu.Unlock()

	if err := a.ensureSubscribed(ctx); err != nil {
		a.life.Reset()
		return err
	}

	msg, err := a.request(ctx, TypePing, nil, a.opts.pingTimeout)
	if err == nil {
		var payload string
		if jerr := json.Unmarshal(msg.Payload, &payload); jerr != nil || payload != Pong {
			err = &syncadapter.DataError{What: "PING response", Err: fmt.Errorf("expected %s, got %s", Pong, string(msg.Payload))}
		}
	}
	if err != nil {
		a.life.Reset()
		return fmt.Errorf("extension %s did not answer: %w", cfg.Target.ExtensionID, err)
	}

	a.log.Debug("extension peer ready", logger.String("service", cfg.ID), logger.String("extension", cfg.Target.ExtensionID))
	return nil
}

// GetAuthStatus asks the peer. Every failure maps to AuthError.
func (a *Adapter) GetAuthStatus(ctx context.Context) domain.AuthStatus {
	if _, err := a.life.Ready(); err != nil {
		if errors.Is(err, syncadapter.ErrNotInitialized) {
			return domain.AuthRequiresConfig
		}
		return domain.AuthError
	}

	msg, err := a.request(ctx, TypeGetAuthStatus, nil, a.opts.requestTimeout)
	if err != nil {
		a.log.Debug("extension auth status failed", logger.Error(err))
		return domain.AuthError
	}
	var raw string
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		return domain.AuthError
	}
	status, ok := domain.ParseAuthStatus(raw)
	if !ok {
		return domain.AuthError
	}
	return status
}

// GetRemoteMetadata returns nil when the peer holds no data.
func (a *Adapter) GetRemoteMetadata(ctx context.Context) (*domain.SyncMetadata, error) {
	if _, err := a.life.Ready(); err != nil {
		return nil, err
	}
	msg, err := a.request(ctx, TypeGetRemoteMetadata, nil, a.opts.requestTimeout)
	if err != nil {
		return nil, err
	}
	if isNull(msg.Payload) {
		return nil, nil
	}
	var meta domain.SyncMetadata
	if err := json.Unmarshal(msg.Payload, &meta); err != nil {
		return nil, &syncadapter.DataError{What: "remote metadata", Err: err}
	}
	return &meta, nil
}

// Download fetches the peer's document.
func (a *Adapter) Download(ctx context.Context) (syncadapter.DownloadResult, error) {
	if _, err := a.life.Ready(); err != nil {
		return syncadapter.DownloadResult{}, err
	}
	msg, err := a.request(ctx, TypeDownloadData, nil, a.opts.requestTimeout)
	if err != nil {
		return syncadapter.DownloadResult{}, err
	}
	if isNull(msg.Payload) {
		return syncadapter.DownloadResult{}, nil
	}
	var p DownloadPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return syncadapter.DownloadResult{}, &syncadapter.DataError{What: "download payload", Err: err}
	}
	if p.Data == nil {
		return syncadapter.DownloadResult{}, nil
	}
	return syncadapter.DownloadResult{Data: p.Data, RemoteMeta: p.RemoteMeta}, nil
}

// Upload sends data with the expected fingerprint; the peer enforces it.
func (a *Adapter) Upload(ctx context.Context, data string, expected *domain.SyncMetadata) (*domain.SyncMetadata, error) {
	if _, err := a.life.Ready(); err != nil {
		return nil, err
	}
	msg, err := a.request(ctx, TypeUploadData, UploadPayload{Data: data, Metadata: expected}, a.opts.requestTimeout)
	if err != nil {
		var pre *syncadapter.PreconditionError
		if errors.As(err, &pre) {
			pre.Expected = expected.Clone()
		}
		return nil, err
	}
	if isNull(msg.Payload) {
		return nil, &syncadapter.DataError{What: "upload response", Err: errors.New("missing metadata")}
	}
	var meta domain.SyncMetadata
	if err := json.Unmarshal(msg.Payload, &meta); err != nil {
		return nil, &syncadapter.DataError{What: "upload response", Err: err}
	}
	return &meta, nil
}

// Destroy unsubscribes, rejects every pending request with ErrDestroyed
// and stops event delivery.
func (a *Adapter) Destroy() error {
	if !a.life.End() {
		return syncadapter.ErrDestroyed
	}

	a.mu.Lock()
	for id, p := range a.pending {
		delete(a.pending, id)
		p.timer.Stop()
		p.done <- reply{err: syncadapter.ErrDestroyed}
	}
	if a.discovery != nil {
		close(a.discovery.done)
		a.discovery = nil
	}
	a.mu.Unlock()

	// Wait for an in-flight callback to return.
	a.eventMu.Lock()
	a.onTarget = nil
	a.eventMu.Unlock()

	a.subMu.Lock()
	unsub := a.unsub
	a.unsub = nil
	a.subMu.Unlock()
	if unsub != nil {
		unsub()
	}
	return nil
}

// DiscoverTargets broadcasts a discovery request and collects answers for
// the discovery window. The returned channel closes when the window ends.
// A call while a discovery runs returns the running one's channel.
func (a *Adapter) DiscoverTargets(ctx context.Context) (<-chan struct{}, error) {
	if a.life.Destroyed() {
		return nil, syncadapter.ErrDestroyed
	}
	if err := a.ensureSubscribed(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.discovery != nil {
		done := a.discovery.done
		a.mu.Unlock()
		return done, nil
	}
	run := &discoveryRun{seen: make(map[string]bool), done: make(chan struct{})}
	a.discovery = run
	a.mu.Unlock()

	time.AfterFunc(a.opts.discoveryWindow, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.discovery == run {
			a.discovery = nil
			close(run.done)
		}
	})

	frame, err := json.Marshal(Message{
		Source:            SourceWebapp,
		ID:                uuid.NewString(),
		TargetExtensionID: BroadcastTarget,
		Type:              TypeDiscover,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode discovery request: %w", err)
	}
	if err := a.bus.Publish(ctx, frame); err != nil {
		return nil, &syncadapter.TransportError{Op: TypeDiscover, Err: err}
	}
	return run.done, nil
}

func (a *Adapter) ensureSubscribed(ctx context.Context) error {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	if a.unsub != nil {
		return nil
	}
	if a.life.Destroyed() {
		return syncadapter.ErrDestroyed
	}
	unsub, err := a.bus.Subscribe(ctx, a.handle)
	if err != nil {
		return &syncadapter.TransportError{Op: "subscribe", Err: err}
	}
	a.unsub = unsub
	return nil
}

// request publishes one message and waits for its settlement.
func (a *Adapter) request(ctx context.Context, msgType string, payload any, timeout time.Duration) (*Message, error) {
	msg := Message{
		Source: SourceWebapp,
		ID:     uuid.NewString(),
		Type:   msgType,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}

	a.mu.Lock()
	if a.life.Destroyed() {
		a.mu.Unlock()
		return nil, syncadapter.ErrDestroyed
	}
	msg.TargetExtensionID = a.extensionID
	p := &pendingRequest{done: make(chan reply, 1)}
	timeoutErr := &syncadapter.TimeoutError{
		ExtensionID: a.extensionID,
		MessageType: msgType,
		RequestID:   msg.ID,
		Timeout:     timeout,
	}
	p.timer = time.AfterFunc(timeout, func() { a.settle(msg.ID, reply{err: timeoutErr}) })
	a.pending[msg.ID] = p
	a.mu.Unlock()

	frame, err := json.Marshal(msg)
	if err == nil {
		err = a.bus.Publish(ctx, frame)
	}
	if err != nil {
		a.settle(msg.ID, reply{err: &syncadapter.TransportError{Op: msgType, Err: err}})
	}

	var r reply
	select {
	case r = <-p.done:
	case <-ctx.Done():
		// A reply may have settled first; it wins over the cancellation.
		a.settle(msg.ID, reply{err: ctx.Err()})
		r = <-p.done
	}
	return r.result(msgType)
}

// result turns a settlement into the request outcome.
func (r reply) result(msgType string) (*Message, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.msg.Error != "" {
		return nil, peerError(msgType, r.msg.Error)
	}
	return r.msg, nil
}

// settle resolves a pending request if nobody did yet.
func (a *Adapter) settle(id string, r reply) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[id]
	if !ok {
		return
	}
	delete(a.pending, id)
	p.timer.Stop()
	p.done <- r
}

// handle filters inbound frames and routes them.
func (a *Adapter) handle(frame []byte) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return
	}
	if msg.Source != SourcePeer || a.life.Destroyed() {
		return
	}

	if msg.Type == TypeDiscoveryResponse {
		a.handleDiscovery(&msg)
		return
	}

	a.mu.Lock()
	own := a.extensionID
	a.mu.Unlock()
	if own == "" || msg.ExtensionID != own {
		return
	}
	a.settle(msg.ID, reply{msg: &msg})
}

func (a *Adapter) handleDiscovery(msg *Message) {
	var p DiscoveryPayload
	if !isNull(msg.Payload) {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			a.log.Debug("ignoring malformed discovery response", logger.Error(err))
			return
		}
	}
	id := msg.ExtensionID
	if id == "" {
		id = p.ExtensionID
	}
	if id == "" {
		return
	}

	a.mu.Lock()
	run := a.discovery
	if run == nil || run.seen[id] {
		a.mu.Unlock()
		return
	}
	run.seen[id] = true
	a.mu.Unlock()

	a.emit(Target{ExtensionID: id, Name: targetName(id, p)})
}

func (a *Adapter) emit(t Target) {
	a.eventMu.Lock()
	defer a.eventMu.Unlock()
	if a.life.Destroyed() || a.onTarget == nil {
		return
	}
	a.onTarget(t)
}

// targetName prefers the peer's display name, then "Extension <name>",
// then a shortened id.
func targetName(id string, p DiscoveryPayload) string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.ExtensionName != "":
		return "Extension " + p.ExtensionName
	case len(id) > 8:
		return "Extension " + id[:8] + "..."
	default:
		return "Extension " + id
	}
}

// peerError maps an error string reported by the peer.
func peerError(msgType, text string) error {
	if strings.Contains(strings.ToLower(text), "precondition") {
		return &syncadapter.PreconditionError{Detail: text}
	}
	return &syncadapter.TransportError{Op: msgType, Err: errors.New(text)}
}
