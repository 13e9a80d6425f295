// Package mlog is a thin debug-level wrapper over log/slog used across the
// mesh engine and its collaborators.
package mlog

import (
	"context"
	"flag"
	"log/slog"
	"os"
)

// The engine only ever logs at four distinct severities — a fatal/
// operator-attention condition, a recoverable failure, routine node
// lifecycle events, and per-packet ingress/egress detail — so the level
// scheme is collapsed to those instead of carrying the teacher's unused
// intermediate tiers.
const (
	Critical = 1
	Error    = 2
	Info     = 3
	Packets  = 4
)

var (
	debugLevel  = flag.Int("debug", Info, "debug level (1-4)")
	logger      *slog.Logger
	initialized bool
)

func Init() {
	if initialized {
		return
	}
	initialized = true

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevelFor(*debugLevel),
	}))
	slog.SetDefault(logger)
}

func slogLevelFor(level int) slog.Level {
	switch {
	case level >= Packets:
		return slog.LevelDebug
	case level >= Info:
		return slog.LevelInfo
	case level >= Error:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Log emits msg at the given debug level if the configured threshold allows
// it. Callers must never pass decrypted payload bytes or key material as
// args — ingress authentication failures are logged with the drop kind
// only, never with frame contents.
func Log(level int, msg string, args ...interface{}) {
	if !initialized {
		Init()
	}
	if *debugLevel < level {
		return
	}

	slogLevel := slogLevelFor(level)
	if !logger.Enabled(context.TODO(), slogLevel) {
		return
	}

	allArgs := make([]interface{}, len(args)+2)
	copy(allArgs, args)
	allArgs[len(args)] = "debug_level"
	allArgs[len(args)+1] = level
	logger.Log(context.TODO(), slogLevel, msg, allArgs...)
}

func SetLevel(level int) {
	*debugLevel = level
	if initialized {
		Init()
	}
}

func Level() int {
	return *debugLevel
}
