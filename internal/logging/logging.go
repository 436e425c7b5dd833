// Package logging is a thin wrapper around logrus, giving the rest of the
// module the same call-site shape the teacher used with the stdlib log
// package ("Redis server listening on %s") while producing structured,
// leveled output. Startup, snapshot loading and a replica's link to its
// master log at Info (failures at Warn/Error); per-connection accept/close
// lines log at Debug. Handshake steps and individual commands are not
// logged.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel adjusts verbosity; "debug" turns on the per-connection
// accept/close lines.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		base.Warnf("logging: unknown level %q, keeping %s", level, base.GetLevel())
		return
	}
	base.SetLevel(lvl)
}

// L returns the package-wide logger.
func L() *logrus.Logger { return base }

// WithField is a convenience passthrough to the package-wide logger.
func WithField(key string, value interface{}) *logrus.Entry {
	return base.WithField(key, value)
}
