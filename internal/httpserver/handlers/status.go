package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	redisstore "github.com/MrSnakeDoc/linktags/internal/store/redis"
)

type componentStatus struct {
	OK             bool   `json:"ok"`
	Mode           string `json:"mode,omitempty"`
	ServicesLoaded *int   `json:"services_loaded,omitempty"`
	Bookmarks      *int   `json:"bookmarks,omitempty"`
	LastReload     string `json:"last_reload,omitempty"`
	Owner          string `json:"owner,omitempty"`
	Leader         *bool  `json:"leader,omitempty"`
	CanUndo        *bool  `json:"can_undo,omitempty"`
	CanRedo        *bool  `json:"can_redo,omitempty"`
	Entries        *int   `json:"entries,omitempty"`
	Persisted      *int64 `json:"persisted,omitempty"`
	Impact         string `json:"impact,omitempty"`
	Error          string `json:"error,omitempty"`
}

type statusResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Status reports the state of every engine component.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]componentStatus{
			"services": servicesStatus(d),
			"redis":    checkRedis(r.Context(), d),
			"autosync": autoSyncStatus(d),
			"history":  historyStatus(d),
		}
		if d.Bus != nil {
			components["bus"] = componentStatus{OK: true, Mode: busMode(d)}
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func servicesStatus(d deps.Deps) componentStatus {
	idx := d.Store.Index()
	services, bookmarks := idx.Count(), idx.BookmarkCount()
	lastReload := "never"
	if t := d.Store.GetLastReload(); !t.IsZero() {
		lastReload = t.Format(time.RFC3339)
	}
	return componentStatus{
		OK:             services > 0,
		ServicesLoaded: &services,
		Bookmarks:      &bookmarks,
		LastReload:     lastReload,
	}
}

func autoSyncStatus(d deps.Deps) componentStatus {
	if d.AutoSync == nil {
		return componentStatus{OK: false, Error: "not configured"}
	}
	leader := d.AutoSync.HoldsLock()
	return componentStatus{OK: true, Owner: d.AutoSync.OwnerID(), Leader: &leader}
}

func historyStatus(d deps.Deps) componentStatus {
	if d.Commands == nil {
		return componentStatus{OK: false, Error: "not configured"}
	}
	canUndo, canRedo := d.Commands.CanUndo(), d.Commands.CanRedo()
	entries := len(d.Commands.Record().Entries)
	return componentStatus{OK: true, CanUndo: &canUndo, CanRedo: &canRedo, Entries: &entries}
}

func busMode(d deps.Deps) string {
	if d.RedisClient != nil {
		return "redis-pubsub"
	}
	return "in-process"
}

// determineMode is "critical" without services, "degraded" when Redis is
// configured but down, otherwise "operational".
func determineMode(components map[string]componentStatus) string {
	if services, ok := components["services"]; ok && !services.OK {
		return "critical"
	}
	if redis, ok := components["redis"]; ok && !redis.OK && redis.Mode != "disabled" {
		return "degraded"
	}
	return "operational"
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     true,
			Mode:   "disabled",
			Impact: "memory-only, state lost on restart",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "persistence-and-cross-process-bus-unavailable",
			Error:  err.Error(),
		}
	}

	st := componentStatus{OK: true, Mode: "persistent"}
	if stats, err := redisstore.NewStore(d.RedisClient).GetStats(ctx); err == nil {
		st.Persisted = &stats.Bookmarks
	}
	return st
}
