package peripheral

import (
	"context"

	"go.uber.org/zap"
)

// AbsentReader stands in for a card reader that was not found.  Every card
// wait against it resolves to no_reader.
type AbsentReader struct{}

func (AbsentReader) Poll() (string, bool) { return "", false }
func (AbsentReader) ResetBuffers()        {}
func (AbsentReader) Present() bool        { return false }

// LogLock only logs.  It is used when no lock hardware is configured.
type LogLock struct {
	Logger *zap.Logger
}

func (l LogLock) Open(context.Context) error {
	if l.Logger != nil {
		l.Logger.Info("lock open requested (no actuator configured)")
	}
	return nil
}
