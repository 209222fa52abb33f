package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger writes to out and, when journal is set, also to the systemd
// journal. A journal that cannot be opened is reported and skipped.
func setupLogger(out io.Writer, level, format string, journal bool) *slog.Logger {
	logLevel := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var console slog.Handler
	if strings.ToLower(format) == "text" {
		console = slog.NewTextHandler(out, opts)
	} else {
		console = slog.NewJSONHandler(out, opts)
	}

	handlers := []slog.Handler{console}
	var journalErr error
	if journal {
		h, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: logLevel,
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			journalErr = err
		} else {
			handlers = append(handlers, h)
		}
	}

	logger := slog.New(slogmulti.Fanout(handlers...)).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
	if journalErr != nil {
		logger.Warn("systemd journal unavailable, logging to console only", "error", journalErr)
	}
	return logger
}

// toJournalKey maps an attribute key onto the journal's field alphabet.
func toJournalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}
