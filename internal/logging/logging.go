// Package logging wraps logrus into the leveled, best-effort operator
// log apfsck writes alongside its report output, grounded on the
// logrus usage in the example pack's CLI tools (debug/info/warn calls
// gated by a single level, set once at startup). It is never the
// channel that surfaces a Corruption, Unsupported, CrashSignature, or
// Weird finding — that always goes through internal/report — so a
// logging failure never fails a run.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled logger apfsck threads through its driver
// packages for operator-visibility messages only.
type Logger = logrus.FieldLogger

// New builds a Logger writing to stderr at level, parsed the way
// logrus itself parses its level strings ("debug", "info", "warn",
// "error"). An unrecognised level falls back to info rather than
// failing startup over a logging preference.
func New(level string) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return l
}
