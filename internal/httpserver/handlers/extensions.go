package handlers

import (
	"net/http"
	"sync"

	"github.com/MrSnakeDoc/linktags/internal/httpserver/deps"
	"github.com/MrSnakeDoc/linktags/internal/logger"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter/extension"
)

type targetResponse struct {
	ExtensionID string `json:"extensionId"`
	Name        string `json:"name"`
}

// DiscoverExtensions broadcasts a discovery request over the bus and
// returns the peers that answered within the discovery window.
func DiscoverExtensions(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := extension.New(d.Bus, d.Logger, d.ExtensionOptions...)
		defer func() {
			if err := a.Destroy(); err != nil {
				d.Logger.Debug("failed to destroy discovery adapter", logger.Error(err))
			}
		}()

		var (
			mu      sync.Mutex
			targets = []targetResponse{}
		)
		a.OnTargetFound(func(t extension.Target) {
			mu.Lock()
			targets = append(targets, targetResponse{ExtensionID: t.ExtensionID, Name: t.Name})
			mu.Unlock()
		})

		done, err := a.DiscoverTargets(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		select {
		case <-done:
		case <-r.Context().Done():
			writeError(w, http.StatusGatewayTimeout, r.Context().Err().Error())
			return
		}

		mu.Lock()
		defer mu.Unlock()
		writeJSON(w, http.StatusOK, targets)
	}
}
