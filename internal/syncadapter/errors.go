package syncadapter

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// State errors.
var (
	ErrNotInitialized     = errors.New("sync adapter is not initialized")
	ErrAlreadyInitialized = errors.New("sync adapter is already initialized")
	ErrDestroyed          = errors.New("sync adapter instance destroyed")
	ErrInvalidConfig      = errors.New("invalid sync service configuration")
)

// Conflict and transport sentinels, matched through errors.Is.
var (
	ErrPreconditionFailed = errors.New("remote precondition failed")
	ErrTimeout            = errors.New("request timed out")
	ErrTransport          = errors.New("transport error")
	ErrInvalidData        = errors.New("invalid data")
)

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid sync service configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// TransportError is a network failure or an unexpected status.
type TransportError struct {
	Op     string // e.g. "PROPFIND /bookmarks.json"
	Status int    // 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// PreconditionError means the remote no longer matches the expected fingerprint.
type PreconditionError struct {
	Expected *domain.SyncMetadata
	Detail   string
}

func (e *PreconditionError) Error() string {
	if e.Detail != "" {
		return "remote precondition failed: " + e.Detail
	}
	return "remote precondition failed"
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPreconditionFailed }

// TimeoutError is returned when a peer request got no answer in time.
type TimeoutError struct {
	ExtensionID string
	MessageType string
	RequestID   string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to extension %s timed out: type=%s id=%s timeout=%s",
		e.ExtensionID, e.MessageType, e.RequestID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// DataError is a malformed payload from a backend or peer.
type DataError struct {
	What string
	Err  error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %v", e.What, e.Err)
	}
	return "invalid " + e.What
}

func (e *DataError) Unwrap() error { return e.Err }

func (e *DataError) Is(target error) bool { return target == ErrInvalidData }

// IsConflict reports whether err is a precondition failure.
func IsConflict(err error) bool { return errors.Is(err, ErrPreconditionFailed) }
