// Package logging constructs the engine's structured logger, grounded
// in pkg/base/base.go's Strategy.Logger *zap.Logger field and the
// zap.NewProduction/NewDevelopment constructors the teacher's cmd
// entrypoints call.
package logging

import "go.uber.org/zap"

// New builds a production JSON logger, or a development console
// logger when dev is true (e.g. for `cmd/cranker` run with -dev).
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
