package syncmanager

import (
	"fmt"

	"github.com/MrSnakeDoc/linktags/internal/bus"
	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter/customapi"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter/extension"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter/github"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter/webdav"
	"github.com/MrSnakeDoc/linktags/internal/transport"
)

// Factory builds a fresh, uninitialized adapter for a service.
type Factory func(cfg domain.SyncServiceConfig) (syncadapter.Adapter, error)

// FactoryDeps are the shared resources adapters are built from.
type FactoryDeps struct {
	Requester        transport.Requester
	Bus              bus.Bus
	Logger           logger.Logger
	ExtensionOptions []extension.Option
}

// NewFactory returns the Factory covering every known service type.
func NewFactory(deps FactoryDeps) Factory {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return func(cfg domain.SyncServiceConfig) (syncadapter.Adapter, error) {
		l := log.With(logger.String("service", cfg.ID), logger.String("type", string(cfg.Type)))
		switch cfg.Type {
		case domain.ServiceWebDAV:
			return webdav.New(deps.Requester, l), nil
		case domain.ServiceCustomAPI:
			return customapi.New(deps.Requester, l), nil
		case domain.ServiceGitHub:
			return github.New(deps.Requester, l), nil
		case domain.ServiceBrowserExtension:
			if deps.Bus == nil {
				return nil, fmt.Errorf("%w: no message bus for %s", syncadapter.ErrInvalidConfig, cfg.Type)
			}
			return extension.New(deps.Bus, l, deps.ExtensionOptions...), nil
		default:
			return nil, &syncadapter.ConfigError{Field: "type", Reason: fmt.Sprintf("unknown service type %q", cfg.Type)}
		}
	}
}
