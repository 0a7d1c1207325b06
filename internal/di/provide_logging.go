package di

import (
	"fmt"
	"io"
	"os"
	"strings"

	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
	"github.com/rs/zerolog"
	otaerrors "github.com/savaki/iothub-ota/internal/errors"
)

const LogFormatEnv = "OTA_LOG_FORMAT"

// NewLogger creates the default warn level logger on stderr, used until
// --log-level has been parsed.
func NewLogger() zerolog.Logger {
	return newLogger(os.Stderr, zerolog.WarnLevel, os.Getenv(LogFormatEnv))
}

// ProvideLogger creates the process logger writing to stderr at level.
// OTA_LOG_FORMAT=json selects JSON output, otherwise console format is used.
func ProvideLogger(level string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return newLogger(os.Stderr, lvl, os.Getenv(LogFormatEnv)), nil
}

// ParseLevel parses a --log-level value. An empty value means warn.
func ParseLevel(level string) (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("%w: invalid log level %q", otaerrors.ErrInvalidArguments, level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	return lvl, nil
}

func newLogger(w io.Writer, lvl zerolog.Level, format string) zerolog.Logger {
	if !strings.EqualFold(format, "json") {
		w = zerolog.ConsoleWriter{Out: w}
	}

	logger := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	forwardAzureLogs(logger)
	return logger
}

// forwardAzureLogs routes Azure SDK pipeline events to logger at debug level
func forwardAzureLogs(logger zerolog.Logger) {
	if logger.GetLevel() > zerolog.DebugLevel {
		azlog.SetListener(nil)
		return
	}

	azlog.SetEvents(azlog.EventRequest, azlog.EventResponse, azlog.EventResponseError, azlog.EventRetryPolicy)
	azlog.SetListener(func(event azlog.Event, msg string) {
		logger.Debug().Str("azure_event", string(event)).Msg(msg)
	})
}
