package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/linktags/internal/bus"
	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/scheduler"
	"github.com/MrSnakeDoc/linktags/internal/store"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter/extension"
	"github.com/MrSnakeDoc/linktags/internal/syncmanager"
)

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	TimeNow   func() time.Time // for testing, defaults to time.Now

	AllowedHosts []string // Host headers allowed to access the server
	AllowedCIDRS []string // IPs allowed to access probes and admin endpoints
	TrustProxy   bool     // true if running behind a trusted reverse proxy (e.g., cloudflared)

	RequestTimeout time.Duration // deadline of short API calls
	SyncTimeout    time.Duration // deadline of a sync started over HTTP
	SyncRateBurst  int           // per-IP burst on sync endpoints
	SyncRatePerMin int           // per-IP refill on sync endpoints

	RedisClient *redis.Client // nil in memory-only mode
	Store       *store.Store  // bookmarks, history and service configs
	Commands    *commands.Manager
	Sync        *syncmanager.Manager
	AutoSync    *scheduler.AutoSync
	Bus         bus.Bus // peer frames relayed by the websocket bridge

	ExtensionOptions []extension.Option // used by target discovery
	ReloadTrigger    chan struct{}      // Channel to trigger manual services reload
}

// Now returns TimeNow() or time.Now().
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
