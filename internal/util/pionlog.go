package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion-internal logs (ICE, DTLS, SCTP) into the
// pterm logger so transport diagnostics share one output stream.
type PionLoggerFactory struct{}

func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) prefix(msg string) string {
	return fmt.Sprintf("[%s] %s", l.scope, msg)
}

func (l pionLogger) Trace(msg string)                          { LogDebug("%s", l.prefix(msg)) }
func (l pionLogger) Tracef(format string, args ...interface{}) { l.Trace(fmt.Sprintf(format, args...)) }
func (l pionLogger) Debug(msg string)                          { LogDebug("%s", l.prefix(msg)) }
func (l pionLogger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l pionLogger) Info(msg string)                           { LogDebug("%s", l.prefix(msg)) }
func (l pionLogger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l pionLogger) Warn(msg string)                           { LogWarning("%s", l.prefix(msg)) }
func (l pionLogger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l pionLogger) Error(msg string)                          { LogError("%s", l.prefix(msg)) }
func (l pionLogger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }
