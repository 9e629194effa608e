package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger creates a logger for tests along with the observed
// entries, so assertions can be made about what was logged.
func NewTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, observed := observer.New(TraceLevel)
	return zap.New(core), observed
}
