package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrSnakeDoc/linktags/internal/commands"
	"github.com/MrSnakeDoc/linktags/internal/domain"
	"github.com/MrSnakeDoc/linktags/internal/syncadapter"
	"github.com/MrSnakeDoc/linktags/internal/syncmanager"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrServiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, commands.ErrOperationInProgress),
		errors.Is(err, syncmanager.ErrServiceDisabled),
		syncadapter.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, commands.ErrInvalidHistorySize),
		errors.Is(err, commands.ErrNilCommand),
		errors.Is(err, commands.ErrEmptyComposite),
		errors.Is(err, syncadapter.ErrInvalidConfig),
		errors.Is(err, syncmanager.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, syncadapter.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, syncadapter.ErrTransport),
		errors.Is(err, syncadapter.ErrInvalidData):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
