package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger on top of zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter wraps an existing zerolog.Logger.
func NewZerologAdapter(l zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: l}
}

// NewConsoleLogger returns a human readable zerolog logger, as used by the CLI.
func NewConsoleLogger(w io.Writer, level LogLevel, component string) *ZerologAdapter {
	ctx := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(zerologLevel(level)).
		With().
		Timestamp()

	if component != "" {
		ctx = ctx.Str("component", component)
	}

	return &ZerologAdapter{logger: ctx.Logger()}
}

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) {
	z.logger.Debug().Fields(pairs(args)).Msg(msg)
}

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) {
	z.logger.Info().Fields(pairs(args)).Msg(msg)
}

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) {
	z.logger.Warn().Fields(pairs(args)).Msg(msg)
}

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) {
	z.logger.Error().Fields(pairs(args)).Msg(msg)
}

func zerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// pairs converts slog style key/value args into a zerolog field map. A
// dangling value is recorded under "!BADKEY" like slog does.
func pairs(args []any) map[string]any {
	out := make(map[string]any, len(args)/2)

	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			out["!BADKEY"] = args[i]
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}

		if err, isErr := args[i+1].(error); isErr {
			out[key] = err.Error()
			continue
		}

		out[key] = args[i+1]
	}

	return out
}
