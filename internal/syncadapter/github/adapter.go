// Package github stores the bookmark document in a repository file through
// the GitHub contents API. The blob sha is the fingerprint.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
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
	DefaultAPIBase = "https://api.github.com"
	DefaultBranch  = "main"

	acceptJSON = "application/vnd.github+json"
	acceptRaw  = "application/vnd.github.raw"
)

type contentFile struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Type     string `json:"type"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

// Adapter implements syncadapter.Adapter over the contents API.
type Adapter struct {
	life      syncadapter.Lifecycle
	requester transport.Requester
	logger    logger.Logger
}

// New creates a GitHub adapter.
func New(requester transport.Requester, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{requester: requester, logger: log}
}

// Init validates repo, path and token.
func (a *Adapter) Init(_ context.Context, cfg domain.SyncServiceConfig) error {
	if cfg.Type != domain.ServiceGitHub {
		return &syncadapter.ConfigError{Field: "type", Reason: fmt.Sprintf("must be %s, got %q", domain.ServiceGitHub, cfg.Type)}
	}
	owner, name, ok := strings.Cut(cfg.Target.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return &syncadapter.ConfigError{Field: "target.repo", Reason: `must be "owner/name"`}
	}
	if strings.Trim(cfg.Target.Path, "/") == "" {
		return &syncadapter.ConfigError{Field: "target.path", Reason: "is required"}
	}
	if cfg.Credentials.Token == "" {
		return &syncadapter.ConfigError{Field: "credentials.token", Reason: "is required"}
	}
	return a.life.Begin(cfg)
}

// GetAuthStatus calls GET /user with the token.
func (a *Adapter) GetAuthStatus(ctx context.Context) domain.AuthStatus {
	cfg, err := a.life.Ready()
	if err != nil {
		if errors.Is(err, syncadapter.ErrNotInitialized) {
			return domain.AuthRequiresConfig
		}
		return domain.AuthError
	}
	resp, err := a.do(ctx, cfg, http.MethodGet, apiBase(cfg)+"/user", acceptJSON, nil)
	if err != nil {
		return domain.AuthError
	}
	switch {
	case resp.OK():
		return domain.AuthAuthenticated
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		return domain.AuthUnauthenticated
	default:
		return domain.AuthError
	}
}

// GetRemoteMetadata returns nil when the file is missing.
func (a *Adapter) GetRemoteMetadata(ctx context.Context) (*domain.SyncMetadata, error) {
	cfg, err := a.life.Ready()
	if err != nil {
		return nil, err
	}
	file, err := a.stat(ctx, cfg)
	if err != nil || file == nil {
		return nil, err
	}
	return shaMeta(file.SHA), nil
}

// Download returns the decoded file content.
func (a *Adapter) Download(ctx context.Context) (syncadapter.DownloadResult, error) {
	cfg, err := a.life.Ready()
	if err != nil {
		return syncadapter.DownloadResult{}, err
	}
	file, err := a.stat(ctx, cfg)
	if err != nil || file == nil {
		return syncadapter.DownloadResult{}, err
	}

	var data string
	switch file.Encoding {
	case "base64":
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
		if err != nil {
			return syncadapter.DownloadResult{}, &syncadapter.DataError{What: "file content", Err: err}
		}
		data = string(raw)
	default:
		// Files above the inline size limit come back without content.
		resp, err := a.do(ctx, cfg, http.MethodGet, contentsURL(cfg, true), acceptRaw, nil)
		if err != nil {
			return syncadapter.DownloadResult{}, &syncadapter.TransportError{Op: "GET raw contents", Err: err}
		}
		if !resp.OK() {
			return syncadapter.DownloadResult{}, &syncadapter.TransportError{Op: "GET raw contents", Status: resp.Status}
		}
		data = string(resp.Body)
	}
	return syncadapter.DownloadResult{Data: &data, RemoteMeta: shaMeta(file.SHA)}, nil
}

// Upload commits data. The expected sha is checked before writing and sent
// along so GitHub rejects a concurrent commit.
func (a *Adapter) Upload(ctx context.Context, data string, expected *domain.SyncMetadata) (*domain.SyncMetadata, error) {
	cfg, err := a.life.Ready()
	if err != nil {
		return nil, err
	}

	current, err := a.stat(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sha := ""
	if current != nil {
		sha = current.SHA
	}
	if expected != nil && expected.SHA != sha {
		return nil, &syncadapter.PreconditionError{Expected: expected.Clone(), Detail: fmt.Sprintf("remote sha is %q", sha)}
	}

	body, err := json.Marshal(putRequest{
		Message: "Update bookmarks",
		Content: base64.StdEncoding.EncodeToString([]byte(data)),
		SHA:     sha,
		Branch:  branch(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode commit: %w", err)
	}

	resp, err := a.do(ctx, cfg, http.MethodPut, contentsURL(cfg, false), acceptJSON, body)
	if err != nil {
		return nil, &syncadapter.TransportError{Op: "PUT contents", Err: err}
	}
	switch {
	case resp.Status == http.StatusConflict || resp.Status == http.StatusPreconditionFailed:
		return nil, &syncadapter.PreconditionError{Expected: expected.Clone(), Detail: "file changed during upload"}
	case !resp.OK():
		return nil, &syncadapter.TransportError{Op: "PUT contents", Status: resp.Status}
	}

	var out putResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.Content.SHA == "" {
		return nil, &syncadapter.DataError{What: "commit response", Err: err}
	}
	a.logger.Debug("github commit done", logger.String("service", cfg.ID), logger.String("sha", out.Content.SHA))
	return shaMeta(out.Content.SHA), nil
}

// Destroy marks the adapter unusable.
func (a *Adapter) Destroy() error {
	if !a.life.End() {
		return syncadapter.ErrDestroyed
	}
	return nil
}

func (a *Adapter) stat(ctx context.Context, cfg domain.SyncServiceConfig) (*contentFile, error) {
	resp, err := a.do(ctx, cfg, http.MethodGet, contentsURL(cfg, true), acceptJSON, nil)
	if err != nil {
		return nil, &syncadapter.TransportError{Op: "GET contents", Err: err}
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	if !resp.OK() {
		return nil, &syncadapter.TransportError{Op: "GET contents", Status: resp.Status}
	}
	var file contentFile
	if err := json.Unmarshal(resp.Body, &file); err != nil {
		return nil, &syncadapter.DataError{What: "contents response", Err: err}
	}
	if file.Type != "" && file.Type != "file" {
		return nil, &syncadapter.DataError{What: "contents response", Err: fmt.Errorf("%s is a %s", cfg.Target.Path, file.Type)}
	}
	return &file, nil
}

func (a *Adapter) do(ctx context.Context, cfg domain.SyncServiceConfig, method, target, accept string, body []byte) (*transport.Response, error) {
	headers := map[string]string{
		"Accept":               accept,
		"Authorization":        "Bearer " + cfg.Credentials.Token,
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if body != nil {
		headers["Content-Type"] = "application/json"
	}
	return a.requester.Do(ctx, &transport.Request{Method: method, URL: target, Headers: headers, Body: body})
}

func shaMeta(sha string) *domain.SyncMetadata {
	return &domain.SyncMetadata{SHA: sha, Version: sha}
}

func apiBase(cfg domain.SyncServiceConfig) string {
	if cfg.Target.URL != "" {
		return strings.TrimRight(cfg.Target.URL, "/")
	}
	return DefaultAPIBase
}

func branch(cfg domain.SyncServiceConfig) string {
	if cfg.Target.Branch != "" {
		return cfg.Target.Branch
	}
	return DefaultBranch
}

func contentsURL(cfg domain.SyncServiceConfig, withRef bool) string {
	segments := strings.Split(strings.Trim(cfg.Target.Path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := fmt.Sprintf("%s/repos/%s/contents/%s", apiBase(cfg), cfg.Target.Repo, strings.Join(segments, "/"))
	if withRef {
		u += "?ref=" + url.QueryEscape(branch(cfg))
	}
	return u
}
