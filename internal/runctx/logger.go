package runctx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mpataki/polyrun/internal/polyglot"
)

// LevelTrace sits below debug for chatty guest logging
const LevelTrace = slog.LevelDebug - 4

// LoggerObject exposes logger to guests as trace, debug, info, warn and error.
// The first argument is the message; the rest are key/value attributes
func LoggerObject(ctx context.Context, logger *slog.Logger) *polyglot.HostObject {
	method := func(level slog.Level) polyglot.HostFunc {
		return func(args []any) (any, error) {
			if len(args) == 0 {
				return nil, nil
			}
			msg, ok := args[0].(string)
			if !ok {
				msg = fmt.Sprint(args[0])
			}
			logger.Log(ctx, level, msg, args[1:]...)
			return nil, nil
		}
	}

	return &polyglot.HostObject{
		Name: "logger",
		Methods: map[string]polyglot.HostFunc{
			"trace": method(LevelTrace),
			"debug": method(slog.LevelDebug),
			"info":  method(slog.LevelInfo),
			"warn":  method(slog.LevelWarn),
			"error": method(slog.LevelError),
		},
	}
}
