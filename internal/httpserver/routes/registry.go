package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/httpserver/mw"
	"github.com/MrSnakeDoc/linktags/internal/logger"
)

const (
	defaultRequestTimeout = 5 * time.Second
	rateLimitMaxEntries   = 4096
)

// Access selects the middleware stack a route group is mounted behind.
type Access int

const (
	// Public routes are not filtered.
	Public Access = iota
	// API routes check the host and run under the short request timeout.
	API
	// Admin routes check the client CIDR and the host.
	Admin
	// Sync routes check the host and are rate limited per client and
	// service. They carry their own deadline.
	Sync
	// Internal routes check the client CIDR only and have no timeout.
	Internal
)

func (a Access) String() string {
	switch a {
	case Public:
		return "public"
	case API:
		return "api"
	case Admin:
		return "admin"
	case Sync:
		return "sync"
	case Internal:
		return "internal"
	}
	return "unknown"
}

// Registrar mounts the routes of one group.
type Registrar func(r chi.Router, d deps.Deps)

type group struct {
	name   string
	access Access
	reg    Registrar
}

var groups []group

// Register adds a route group. Called from init() in each route file.
func Register(name string, access Access, reg Registrar) {
	groups = append(groups, group{name: name, access: access, reg: reg})
}

// RegisterAll mounts every group behind its access stack. Called once
// from NewRouter.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, g := range groups {
		g.reg(stack(r, d, g.access), d)
		if d.Logger != nil {
			d.Logger.Debug("routes mounted",
				logger.String("group", g.name),
				logger.String("access", g.access.String()))
		}
	}
}

func stack(r chi.Router, d deps.Deps, access Access) chi.Router {
	switch access {
	case API:
		timeout := d.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		return r.With(mw.EnforceHost(d.AllowedHosts, d.Logger), middleware.Timeout(timeout))
	case Admin:
		return r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger), mw.EnforceHost(d.AllowedHosts, d.Logger))
	case Sync:
		return r.With(mw.EnforceHost(d.AllowedHosts, d.Logger), syncLimit(d))
	case Internal:
		return r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
	default:
		return r
	}
}

// syncLimit keys the limiter on client IP and the service in the path.
func syncLimit(d deps.Deps) func(http.Handler) http.Handler {
	return mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.SyncRateBurst,
		RefillPerIPPerMin: d.SyncRatePerMin,
		MaxEntries:        rateLimitMaxEntries,
		TrustProxy:        d.TrustProxy,
		Scope:             func(r *http.Request) string { return chi.URLParam(r, "serviceID") },
	})
}
