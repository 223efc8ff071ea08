// Package log provides the dispatch service's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that preserves the
// formatter/outputs pipeline, so slog-aware libraries and our own code share
// one output path.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("broker"), log.Str("queue", "high"))
//	l.Info("task claimed", log.Int("attempt", 1))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config with a level
// and format ("text" or "json"). To capture stdlib log output (Pebble logs
// through the standard logger), use RedirectStdLog.
package log
