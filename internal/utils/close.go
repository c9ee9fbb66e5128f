package utils

import (
	"io"

	"github.com/MrSnakeDoc/linktags/internal/logger"
)

// MustClose closes a named resource at shutdown and logs the outcome.
// It reports whether the close succeeded. A nil closer is a no-op.
func MustClose(c io.Closer, name string, log logger.Logger) bool {
	if c == nil {
		return true
	}
	if err := c.Close(); err != nil {
		log.Warn("failed to close", logger.String("resource", name), logger.Error(err))
		return false
	}
	log.Debug("closed", logger.String("resource", name))
	return true
}
