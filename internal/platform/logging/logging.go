// Package logging configures the shared structured logger.
package logging

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a structured logger for the named component. The log level is
// read from CHRONICLE_LOG_LEVEL (debug, info, warn, error); empty defaults
// to info.
func New(component string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          component,
	})
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CHRONICLE_LOG_LEVEL"))) {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}
