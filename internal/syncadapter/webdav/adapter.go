// Package webdav stores the bookmark document on a WebDAV server and uses
// ETags for optimistic concurrency.
package webdav

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

const (
	methodPropfind = "PROPFIND"
	methodMkcol    = "MKCOL"

	// StatusMultiStatus is the WebDAV 207 reply.
	StatusMultiStatus = http.StatusMultiStatus
)

// Adapter implements syncadapter.Adapter over WebDAV.
type Adapter struct {
	life      syncadapter.Lifecycle
	requester transport.Requester
	logger    logger.Logger
}

// New creates a WebDAV adapter.
func New(requester transport.Requester, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{requester: requester, logger: log}
}

// Init validates the base URL and file path, then checks that the server
// answers a PROPFIND on the base collection. Any HTTP status counts as
// reachable; rejected credentials are left for GetAuthStatus to report.
func (a *Adapter) Init(ctx context.Context, cfg domain.SyncServiceConfig) error {
	if err := validate(cfg); err != nil {
		return err
	}

	resp, err := a.do(ctx, cfg, methodPropfind, "", map[string]string{"Depth": "0"}, []byte(propfindBody))
	if err != nil {
		return &syncadapter.TransportError{Op: "PROPFIND " + cfg.Target.URL, Err: err}
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		a.logger.Warn("webdav server rejected the credentials",
			logger.String("service", cfg.ID),
			logger.Int("status", resp.Status))
	}
	return a.life.Begin(cfg)
}

func validate(cfg domain.SyncServiceConfig) error {
	if cfg.Type != domain.ServiceWebDAV {
		return &syncadapter.ConfigError{Field: "type", Reason: fmt.Sprintf("must be %s, got %q", domain.ServiceWebDAV, cfg.Type)}
	}
	u, err := url.Parse(cfg.Target.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &syncadapter.ConfigError{Field: "target.url", Reason: "must be an absolute http(s) URL"}
	}
	p := strings.Trim(cfg.Target.Path, "/")
	if p == "" || strings.HasSuffix(cfg.Target.Path, "/") {
		return &syncadapter.ConfigError{Field: "target.path", Reason: "must name a file"}
	}
	return nil
}

// GetAuthStatus probes the base collection.
func (a *Adapter) GetAuthStatus(ctx context.Context) domain.AuthStatus {
	cfg, err := a.life.Ready()
	if err != nil {
		if errors.Is(err, syncadapter.ErrNotInitialized) {
			return domain.AuthRequiresConfig
		}
		return domain.AuthError
	}

	resp, err := a.do(ctx, cfg, methodPropfind, "", map[string]string{"Depth": "0"}, []byte(propfindBody))
	if err != nil {
		a.logger.Debug("webdav auth probe failed", logger.String("service", cfg.ID), logger.Error(err))
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

// GetRemoteMetadata returns nil when the file does not exist.
func (a *Adapter) GetRemoteMetadata(ctx context.Context) (*domain.SyncMetadata, error) {
	cfg, err := a.life.Ready()
	if err != nil {
		return nil, err
	}
	res, err := a.stat(ctx, cfg, filePath(cfg))
	if err != nil || res == nil {
		return nil, err
	}
	if res.IsCollection {
		return nil, &syncadapter.DataError{What: "remote resource", Err: fmt.Errorf("%s is a collection", filePath(cfg))}
	}
	return res.metadata(), nil
}

// Download fetches the file after a metadata probe.
func (a *Adapter) Download(ctx context.Context) (syncadapter.DownloadResult, error) {
	meta, err := a.GetRemoteMetadata(ctx)
	if err != nil || meta == nil {
		return syncadapter.DownloadResult{}, err
	}
	cfg, err := a.life.Ready()
	if err != nil {
		return syncadapter.DownloadResult{}, err
	}

	path := filePath(cfg)
	resp, err := a.do(ctx, cfg, http.MethodGet, path, nil, nil)
	if err != nil {
		return syncadapter.DownloadResult{}, &syncadapter.TransportError{Op: "GET " + path, Err: err}
	}
	if resp.Status == http.StatusNotFound {
		return syncadapter.DownloadResult{}, nil
	}
	if !resp.OK() {
		return syncadapter.DownloadResult{}, &syncadapter.TransportError{Op: "GET " + path, Status: resp.Status}
	}

	data := string(resp.Body)
	return syncadapter.DownloadResult{Data: &data, RemoteMeta: meta}, nil
}

// Upload creates missing parent collections, PUTs the document and
// returns the fingerprint reported by the server afterwards.
func (a *Adapter) Upload(ctx context.Context, data string, expected *domain.SyncMetadata) (*domain.SyncMetadata, error) {
	cfg, err := a.life.Ready()
	if err != nil {
		return nil, err
	}

	if err := a.ensureParents(ctx, cfg); err != nil {
		return nil, err
	}

	path := filePath(cfg)
	headers := map[string]string{"Content-Type": "application/json; charset=utf-8"}
	if tag := ifMatch(expected); tag != "" {
		headers["If-Match"] = tag
	}

	resp, err := a.do(ctx, cfg, http.MethodPut, path, headers, []byte(data))
	if err != nil {
		return nil, &syncadapter.TransportError{Op: "PUT " + path, Err: err}
	}
	if resp.Status == http.StatusPreconditionFailed {
		return nil, &syncadapter.PreconditionError{Expected: expected.Clone(), Detail: "etag mismatch on " + path}
	}
	if !resp.OK() {
		return nil, &syncadapter.TransportError{Op: "PUT " + path, Status: resp.Status}
	}

	a.logger.Debug("webdav upload done", logger.String("service", cfg.ID), logger.Int("bytes", len(data)))

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

// stat runs PROPFIND depth 0. A nil resource means 404/409.
func (a *Adapter) stat(ctx context.Context, cfg domain.SyncServiceConfig, path string) (*resource, error) {
	resp, err := a.do(ctx, cfg, methodPropfind, path, map[string]string{"Depth": "0"}, []byte(propfindBody))
	if err != nil {
		return nil, &syncadapter.TransportError{Op: "PROPFIND " + path, Err: err}
	}
	switch {
	case resp.Status == http.StatusNotFound || resp.Status == http.StatusConflict:
		return nil, nil
	case resp.Status == StatusMultiStatus || resp.Status == http.StatusOK:
		res, err := parseMultistatus(resp.Body)
		if err != nil {
			return nil, &syncadapter.DataError{What: "PROPFIND response", Err: err}
		}
		return res, nil
	default:
		return nil, &syncadapter.TransportError{Op: "PROPFIND " + path, Status: resp.Status}
	}
}

// ensureParents walks every ancestor of the file and creates the missing
// ones. MKCOL answering 405 means the collection already exists.
func (a *Adapter) ensureParents(ctx context.Context, cfg domain.SyncServiceConfig) error {
	for _, dir := range parentDirs(cfg.Target.Path) {
		res, err := a.stat(ctx, cfg, dir)
		if err != nil {
			return err
		}
		if res != nil {
			continue
		}

		resp, err := a.do(ctx, cfg, methodMkcol, dir, nil, nil)
		if err != nil {
			return &syncadapter.TransportError{Op: "MKCOL " + dir, Err: err}
		}
		switch resp.Status {
		case http.StatusCreated, http.StatusOK, http.StatusNoContent, http.StatusMethodNotAllowed:
			a.logger.Debug("webdav collection ready", logger.String("dir", dir), logger.Int("status", resp.Status))
		default:
			return &syncadapter.TransportError{Op: "MKCOL " + dir, Status: resp.Status}
		}
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, cfg domain.SyncServiceConfig, method, path string, headers map[string]string, body []byte) (*transport.Response, error) {
	if headers == nil && method == methodPropfind {
		headers = map[string]string{}
	}
	if method == methodPropfind {
		headers["Content-Type"] = "application/xml; charset=utf-8"
	}
	return a.requester.Do(ctx, &transport.Request{
		Method:   method,
		URL:      resolveURL(cfg.Target.URL, path),
		Headers:  headers,
		Body:     body,
		Username: cfg.Credentials.Username,
		Password: cfg.Credentials.Password,
	})
}

// ifMatch picks the fingerprint to send as If-Match.
func ifMatch(expected *domain.SyncMetadata) string {
	if expected == nil {
		return ""
	}
	if expected.Version != "" {
		return expected.Version
	}
	return expected.SHA
}

func filePath(cfg domain.SyncServiceConfig) string {
	return strings.Trim(cfg.Target.Path, "/")
}

// parentDirs lists the ancestors of path, outermost first, each ending
// with a slash. Example: "a/b/c.json" -> ["a/", "a/b/"]
func parentDirs(path string) []string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	dirs := make([]string, 0, len(segments))
	for i := 1; i < len(segments); i++ {
		dirs = append(dirs, strings.Join(segments[:i], "/")+"/")
	}
	return dirs
}

// resolveURL joins base and a relative path, escaping every segment.
func resolveURL(base, path string) string {
	base = strings.TrimRight(base, "/") + "/"
	if path == "" {
		return base
	}
	trailing := strings.HasSuffix(path, "/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	out := base + strings.Join(segments, "/")
	if trailing {
		out += "/"
	}
	return out
}
