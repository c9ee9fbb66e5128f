package domain

import (
	"errors"
	"time"
)

// ErrServiceNotFound is returned by config stores for unknown service ids.
var ErrServiceNotFound = errors.New("sync service not found")

// SyncMetadata is an opaque fingerprint of a remote resource.
// It is compared for equality only, never interpreted.
type SyncMetadata struct {
	Timestamp int64  `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	SHA       string `json:"sha,omitempty" yaml:"sha,omitempty"`
}

// Equal compares two fingerprints. Two nil values are equal.
func (m *SyncMetadata) Equal(other *SyncMetadata) bool {
	if m == nil || other == nil {
		return m == nil && other == nil
	}
	return *m == *other
}

// Clone copies the fingerprint.
func (m *SyncMetadata) Clone() *SyncMetadata {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// ServiceType selects the backend kind of a sync service.
type ServiceType string

const (
	ServiceWebDAV           ServiceType = "webdav"
	ServiceGitHub           ServiceType = "github"
	ServiceCustomAPI        ServiceType = "customApi"
	ServiceBrowserExtension ServiceType = "browserExtension"
)

// Valid reports whether t is a known backend kind.
func (t ServiceType) Valid() bool {
	switch t {
	case ServiceWebDAV, ServiceGitHub, ServiceCustomAPI, ServiceBrowserExtension:
		return true
	}
	return false
}

// AuthStatus is the classified authentication state of a backend.
type AuthStatus string

const (
	AuthUnknown         AuthStatus = "unknown"
	AuthRequiresConfig  AuthStatus = "requires_config"
	AuthAuthenticated   AuthStatus = "authenticated"
	AuthUnauthenticated AuthStatus = "unauthenticated"
	AuthError           AuthStatus = "error"
)

// ParseAuthStatus maps a wire value onto a known status.
func ParseAuthStatus(s string) (AuthStatus, bool) {
	switch st := AuthStatus(s); st {
	case AuthUnknown, AuthRequiresConfig, AuthAuthenticated, AuthUnauthenticated, AuthError:
		return st, true
	}
	return AuthError, false
}

// SyncTarget identifies the remote resource. Which fields matter depends
// on the service type.
type SyncTarget struct {
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`                 // webdav / customApi base URL
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`               // file path below URL, or repo path
	Repo        string `json:"repo,omitempty" yaml:"repo,omitempty"`               // github "owner/name"
	Branch      string `json:"branch,omitempty" yaml:"branch,omitempty"`           // github branch
	ExtensionID string `json:"extensionId,omitempty" yaml:"extensionId,omitempty"` // browserExtension peer
}

// SyncCredentials are secrets for a backend. Never logged.
type SyncCredentials struct {
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
	APIKey   string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
}

// Merge strategy names for tags and meta.
const (
	MergeUnion  = "union"
	MergeMerge  = "merge"
	MergeLocal  = "local"
	MergeRemote = "remote"
	MergeNewer  = "newer"
)

// MergeStrategy names the merge policy applied when both sides changed.
type MergeStrategy struct {
	Tags string `json:"tags,omitempty" yaml:"tags,omitempty"` // union | local | remote | newer
	Meta string `json:"meta,omitempty" yaml:"meta,omitempty"` // merge | local | remote | newer
}

// SyncServiceConfig describes one configured backend.
type SyncServiceConfig struct {
	ID      string      `json:"id" yaml:"id"`
	Name    string      `json:"name,omitempty" yaml:"name,omitempty"`
	Type    ServiceType `json:"type" yaml:"type"`
	Enabled bool        `json:"enabled" yaml:"enabled"`
	Scope   string      `json:"scope,omitempty" yaml:"scope,omitempty"`

	Target      SyncTarget      `json:"target" yaml:"target"`
	Credentials SyncCredentials `json:"credentials" yaml:"credentials"`

	AutoSyncEnabled        bool `json:"autoSyncEnabled" yaml:"autoSyncEnabled"`
	AutoSyncInterval       int  `json:"autoSyncInterval" yaml:"autoSyncInterval"` // minutes
	AutoSyncOnChanges      bool `json:"autoSyncOnChanges" yaml:"autoSyncOnChanges"`
	AutoSyncDelayOnChanges int  `json:"autoSyncDelayOnChanges" yaml:"autoSyncDelayOnChanges"` // minutes

	// ─────────────────────────────
	// Engine-owned state
	// ─────────────────────────────

	LastSyncTimestamp       int64         `json:"lastSyncTimestamp,omitempty" yaml:"-"`
	LastDataChangeTimestamp int64         `json:"lastDataChangeTimestamp,omitempty" yaml:"-"`
	LastSyncMeta            *SyncMetadata `json:"lastSyncMeta,omitempty" yaml:"-"`

	// RemovedAt is set when the service disappeared from the services file.
	RemovedAt int64 `json:"removedAt,omitempty" yaml:"-"`

	MergeStrategy MergeStrategy `json:"mergeStrategy" yaml:"mergeStrategy"`
}

// Interval returns AutoSyncInterval as a duration.
func (c *SyncServiceConfig) Interval() time.Duration {
	return time.Duration(c.AutoSyncInterval) * time.Minute
}

// DelayOnChanges returns AutoSyncDelayOnChanges as a duration.
func (c *SyncServiceConfig) DelayOnChanges() time.Duration {
	return time.Duration(c.AutoSyncDelayOnChanges) * time.Minute
}

// ApplyEdit copies user-editable fields from next into c. When the
// target identity changes, the sync state is reset so the next sync
// starts from a fresh comparison.
func (c *SyncServiceConfig) ApplyEdit(next SyncServiceConfig) {
	critical := c.Type != next.Type || c.Target != next.Target

	lastSync, lastChange, lastMeta := c.LastSyncTimestamp, c.LastDataChangeTimestamp, c.LastSyncMeta
	*c = next
	c.LastDataChangeTimestamp = lastChange
	if critical {
		c.LastSyncTimestamp = 0
		c.LastSyncMeta = nil
		return
	}
	c.LastSyncTimestamp = lastSync
	c.LastSyncMeta = lastMeta
}

// SyncDocumentVersion is the current payload format version.
const SyncDocumentVersion = 3

// SyncDocument is the payload exchanged with every backend.
type SyncDocument struct {
	Version    int        `json:"version"`
	ExportedAt int64      `json:"exportedAt"`
	Bookmarks  Collection `json:"bookmarks"`
}

// Redacted returns a copy safe to expose: secrets are masked and the sync
// fingerprint is kept.
func (c SyncServiceConfig) Redacted() SyncServiceConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Credentials = SyncCredentials{
		Username: c.Credentials.Username,
		Password: mask(c.Credentials.Password),
		Token:    mask(c.Credentials.Token),
		APIKey:   mask(c.Credentials.APIKey),
	}
	c.LastSyncMeta = c.LastSyncMeta.Clone()
	return c
}
