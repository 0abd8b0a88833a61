// Package logging provides the minimal logging interface used across
// recallmesh and adapters for slog and zerolog.
//
// Every component accepts a Logger so callers can plug in any structured
// logger. Messages are dotted event names ("runner.run.start") followed by
// key/value pairs:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text"})
//	r := runner.New(root, func(o *runner.Options) { o.Logger = logger })
//
// NoOpLogger is the default everywhere a logger is optional.
package logging
