package report

import "fmt"

// Thresholds gates the three conditionally-fatal error classes. Each
// flag corresponds directly to a CLI switch (-c, -u, -w).
type Thresholds struct {
	Crash   bool
	Unknown bool
	Weird   bool
}

// Check reports whether err is fatal under t, and if so returns the
// single report line to print. The second return value is false when
// err should be suppressed silently (an Unsupported, CrashSignature, or
// Weird error whose threshold isn't enabled).
func (t Thresholds) Check(context string, err error) (line string, fatal bool) {
	if err == nil {
		return "", false
	}

	switch err.(type) {
	case *Unsupported:
		if !t.Unknown {
			return "", false
		}
	case *CrashSignature:
		if !t.Crash {
			return "", false
		}
	case *Weird:
		if !t.Weird {
			return "", false
		}
	case *SystemError, *Corruption:
		// always fatal
	default:
		// an unrecognised error type is still reported and still fatal:
		// the policy is fail-fast by default, not fail-open.
	}

	if context == "" {
		return err.Error(), true
	}
	return fmt.Sprintf("%s: %s", context, err.Error()), true
}
