package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initialized  bool
	loggerMu     sync.RWMutex
)

// ParseLevel maps a config level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger builds a logger writing to out, as JSON or as console output
func NewLogger(out io.Writer, pretty bool) zerolog.Logger {
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()
}

// InitLogger initializes the global structured logger
func InitLogger(level string, pretty bool) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if initialized {
		return
	}

	zerolog.SetGlobalLevel(ParseLevel(level))
	globalLogger = NewLogger(os.Stdout, pretty)

	// Set as global logger
	log.Logger = globalLogger

	initialized = true
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	loggerMu.RLock()
	ready := initialized
	logger := globalLogger
	loggerMu.RUnlock()

	if !ready {
		// Initialize with defaults if not already initialized
		InitLogger("info", false)
		return GetLogger()
	}
	return logger
}

// WithSession derives a logger for one client session from base. An empty
// correlation ID gets a fresh one.
func WithSession(base zerolog.Logger, sessionID, correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return base.With().
		Str("session_id", sessionID).
		Str("correlation_id", correlationID).
		Logger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}

// NewSessionID generates a new client session ID
func NewSessionID() string {
	return uuid.NewString()
}
