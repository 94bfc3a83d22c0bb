// Package logging adapts the bitrise logger to the key/value Logger used by
// the flash and fastboot packages.
package logging

import (
	"fmt"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Adapter implements flash.Logger on top of a log.Logger.
type Adapter struct {
	logger log.Logger
}

// New wraps logger.
func New(logger log.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Debug logs at debug level. It is printed only when debug logging is enabled.
func (a *Adapter) Debug(msg string, keysAndValues ...interface{}) {
	a.logger.Debugf("%s", format(msg, keysAndValues))
}

// Info logs at info level.
func (a *Adapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Infof("%s", format(msg, keysAndValues))
}

// Error logs at error level.
func (a *Adapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Errorf("%s", format(msg, keysAndValues))
}

// format renders msg followed by key=value pairs. A trailing key without a
// value is printed as key=MISSING.
func format(msg string, keysAndValues []interface{}) string {
	if len(keysAndValues) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		b.WriteByte(' ')
		fmt.Fprint(&b, keysAndValues[i])
		b.WriteByte('=')
		if i+1 < len(keysAndValues) {
			v := fmt.Sprint(keysAndValues[i+1])
			if strings.ContainsAny(v, " \t\"=") {
				v = fmt.Sprintf("%q", v)
			}
			b.WriteString(v)
		} else {
			b.WriteString("MISSING")
		}
	}
	return b.String()
}
