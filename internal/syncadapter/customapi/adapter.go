// Package customapi syncs against a plain HTTP resource that supports
// HEAD, GET and conditional PUT.
package customapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter"
	"github.com/MrSnakeDoc/linktags/internal/transport"
)

// APIKeyHeader carries Credentials.APIKey.
const APIKeyHeader = "X-API-Key"

// Adapter implements syncadapter.Adapter for a generic HTTP endpoint.
type Adapter struct {
	life      syncadapter.Lifecycle
	requester transport.Requester
	logger    logger.Logger
}

// New creates a custom API adapter.
func New(requester transport.Requester, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{requester: requester, logger: log}
}

// Init validates the endpoint URL.
func (a *Adapter) Init(_ context.Context, cfg domain.SyncServiceConfig) error {
	if cfg.Type != domain.ServiceCustomAPI {
		return &syncadapter.ConfigError{Field: "type", Reason: fmt.Sprintf("must be %s, got %q", domain.ServiceCustomAPI, cfg.Type)}
	}
	u, err := url.Parse(resourceURL(cfg))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &syncadapter.ConfigError{Field: "target.url", Reason: "must be an absolute http(s) URL"}
	}
	return a.life.Begin(cfg)
}

// GetAuthStatus probes the resource with HEAD.
func (a *Adapter) GetAuthStatus(ctx context.Context) domain.AuthStatus {
	cfg, err := a.life.Ready()
	if err != nil {
		if errors.Is(err, syncadapter.ErrNotInitialized) {
			return domain.AuthRequiresConfig
		}
		return domain.AuthError
	}
	resp, err := a.do(ctx, cfg, http.MethodHead, nil, nil)
	if err != nil {
		return domain.AuthError
	}
	switch {
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		return domain.AuthUnauthenticated
	case resp.OK() || resp.Status == http.StatusNotFound:
		return domain.AuthAuthenticated
	default:
		return domain.AuthError
	}
}

// GetRemoteMetadata returns nil on 404.
func (a *Adapter) GetRemoteMetadata(ctx context.Context) (*domain.SyncMetadata, error) {
	cfg, err := a.life.Ready()
	if err != nil {
		return nil, err
	}
	resp, err := a.do(ctx, cfg, http.MethodHead, nil, nil)
	if err != nil {
		return nil, &syncadapter.TransportError{Op: "HEAD", Err: err}
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	if !resp.OK() {
		return nil, &syncadapter.TransportError{Op: "HEAD", Status: resp.Status}
	}
	return MetadataFromHeaders(resp.Headers), nil
}

// Download fetches the document; the fingerprint comes from its headers.
func (a *Adapter) Download(ctx context.Context) (syncadapter.DownloadResult, error) {
	cfg, err := a.life.Ready()
	if err != nil {
		return syncadapter.DownloadResult{}, err
	}
	resp, err := a.do(ctx, cfg, http.MethodGet, nil, nil)
	if err != nil {
		return syncadapter.DownloadResult{}, &syncadapter.TransportError{Op: "GET", Err: err}
	}
	if resp.Status == http.StatusNotFound {
		return syncadapter.DownloadResult{}, nil
	}
	if !resp.OK() {
		return syncadapter.DownloadResult{}, &syncadapter.TransportError{Op: "GET", Status: resp.Status}
	}
	data := string(resp.Body)
	return syncadapter.DownloadResult{Data: &data, RemoteMeta: MetadataFromHeaders(resp.Headers)}, nil
}

// Upload PUTs data with If-Match when expected carries a version.
func (a *Adapter) Upload(ctx context.Context, data string, expected *domain.SyncMetadata) (*domain.SyncMetadata, error) {
	cfg, err := a.life.Ready()
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"Content-Type": "application/json; charset=utf-8"}
	if expected != nil && expected.Version != "" {
		headers["If-Match"] = expected.Version
	}
	resp, err := a.do(ctx, cfg, http.MethodPut, headers, []byte(data))
	if err != nil {
		return nil, &syncadapter.TransportError{Op: "PUT", Err: err}
	}
	if resp.Status == http.StatusPreconditionFailed {
		return nil, &syncadapter.PreconditionError{Expected: expected.Clone(), Detail: "etag mismatch"}
	}
	if !resp.OK() {
		return nil, &syncadapter.TransportError{Op: "PUT", Status: resp.Status}
	}

	if meta := MetadataFromHeaders(resp.Headers); meta.Version != "" {
		return meta, nil
	}
	meta, err := a.GetRemoteMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, &syncadapter.DataError{What: "remote metadata", Err: errors.New("missing after upload")}
	}
	return meta, nil
}

// Destroy marks the adapter unusable.
func (a *Adapter) Destroy() error {
	if !a.life.End() {
		return syncadapter.ErrDestroyed
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, cfg domain.SyncServiceConfig, method string, headers map[string]string, body []byte) (*transport.Response, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	switch {
	case cfg.Credentials.Token != "":
		headers["Authorization"] = "Bearer " + cfg.Credentials.Token
	case cfg.Credentials.APIKey != "":
		headers[APIKeyHeader] = cfg.Credentials.APIKey
	}
	a.logger.Debug("custom api request", logger.String("service", cfg.ID), logger.String("method", method))
	return a.requester.Do(ctx, &transport.Request{
		Method:   method,
		URL:      resourceURL(cfg),
		Headers:  headers,
		Body:     body,
		Username: cfg.Credentials.Username,
		Password: cfg.Credentials.Password,
	})
}

// MetadataFromHeaders reads ETag and Last-Modified.
func MetadataFromHeaders(h http.Header) *domain.SyncMetadata {
	etag := strings.TrimSpace(h.Get("ETag"))
	meta := &domain.SyncMetadata{Version: etag, SHA: etag}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			meta.Timestamp = t.UnixMilli()
		}
	}
	return meta
}

func resourceURL(cfg domain.SyncServiceConfig) string {
	if cfg.Target.Path == "" {
		return cfg.Target.URL
	}
	return strings.TrimRight(cfg.Target.URL, "/") + "/" + strings.TrimLeft(cfg.Target.Path, "/")
}
