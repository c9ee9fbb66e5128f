package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/syncmanager"
)

type syncAllResponse struct {
	Results []*syncmanager.Result `json:"results"`
	Errors  []string              `json:"errors,omitempty"`
}

type authResponse struct {
	ServiceID string            `json:"serviceId"`
	Status    domain.AuthStatus `json:"status"`
}

func syncContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(r.Context(), timeout)
	}
	return context.WithCancel(r.Context())
}

// SyncService runs one synchronization and waits for the result.
func SyncService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "serviceID")
		ctx, cancel := syncContext(r, d.SyncTimeout)
		defer cancel()

		res, err := d.Sync.Sync(ctx, id)
		if err != nil {
			d.Logger.Warn("sync request failed", logger.String("service", id), logger.Error(err))
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// SyncAll synchronizes every enabled service. Partial failures are
// reported next to the successful results.
func SyncAll(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := syncContext(r, d.SyncTimeout)
		defer cancel()

		results, err := d.Sync.SyncAll(ctx)
		resp := syncAllResponse{Results: results}
		if resp.Results == nil {
			resp.Results = []*syncmanager.Result{}
		}
		for _, e := range multierr.Errors(err) {
			resp.Errors = append(resp.Errors, e.Error())
		}

		status := http.StatusOK
		if err != nil {
			status = http.StatusMultiStatus
			if len(results) == 0 {
				status = statusFor(multierr.Errors(err)[0])
			}
		}
		writeJSON(w, status, resp)
	}
}

// SyncServices lists configured services with secrets masked.
func SyncServices(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services, err := d.Store.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]domain.SyncServiceConfig, 0, len(services))
		for _, s := range services {
			out = append(out, s.Redacted())
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// QueueSync schedules a background sync and returns immediately.
func QueueSync(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "serviceID")
		if _, err := d.Store.Get(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		queued := d.Sync.Enqueue(id)
		writeJSON(w, http.StatusAccepted, map[string]any{"serviceId": id, "queued": queued})
	}
}

// SyncAuthStatus asks the backend of a service for its auth state.
func SyncAuthStatus(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "serviceID")
		st, err := d.Sync.AuthStatus(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, authResponse{ServiceID: id, Status: st})
	}
}
