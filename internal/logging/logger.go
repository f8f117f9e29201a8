package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// NewLogger builds the structured logger used by the orchestrator and the agent client.
// JSON in production, text with full timestamps otherwise.
func NewLogger(environment string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if strings.EqualFold(environment, "production") {
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.DebugLevel)
	}

	return logger
}

// Discard returns a logger that drops everything, for callers that do not care
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// WithInvocation returns an entry scoped to one orchestrator invocation.
// Use this for every log line emitted while serving a plan, build or chat request.
func WithInvocation(logger *logrus.Logger, sessionID, mode string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"mode":       mode,
	})
}
