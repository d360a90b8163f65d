package dbsock

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLogger returns the logger used when no WithLogger option is given:
// zerolog's global logger.
func DefaultLogger() zerolog.Logger {
	return log.Logger.With().Str("component", "dbsock").Logger()
}

// unhandledResponse is installed when a caller passes a nil continuation
func unhandledResponse(logger zerolog.Logger, seq uint64) ResponseFunc {
	return func(fields *Fields) {
		logger.Warn().
			Uint64("request_seq", seq).
			Interface("fields", fields.Map()).
			Msg("unhandled response function called")
	}
}
