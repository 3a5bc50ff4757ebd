package conduit

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the package-wide default logger, grounded on cuemby-warren's
// pkg/log (a package-level zerolog.Logger configured once at process
// start). Replace it with SetLogger if the host application wants its own
// sink/level/format instead of the console-writer default.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// SetLogger replaces the package-wide logger.
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// componentLogger returns a child logger tagged with a component name,
// mirroring cuemby-warren's log.WithComponent.
func componentLogger(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
