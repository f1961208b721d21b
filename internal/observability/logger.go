package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dvrsch/lensctl/internal/logging"
)

// InitLogger configures the process logger for a binary and stamps it
// with the app name. Level, timestamps and color come from the runtime
// logging profile and its env overrides.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
