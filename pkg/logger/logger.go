// Package logger constructs the structured loggers used throughout
// lsmforest. Every component that can block or fail takes a
// *zap.SugaredLogger rather than talking to the standard library's log
// package directly.
package logger

import "go.uber.org/zap"

// New builds a production logger: JSON-encoded, info level and above,
// suitable for the engine running as a long-lived process.
func New() (*zap.SugaredLogger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return base.Sugar(), nil
}

// NewDevelopment builds a human-readable, debug-level logger suitable for
// the diagnostic CLI and local development.
func NewDevelopment() (*zap.SugaredLogger, error) {
	base, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return base.Sugar(), nil
}

// NewNop returns a logger that discards everything, for callers and tests
// that don't care about log output.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
