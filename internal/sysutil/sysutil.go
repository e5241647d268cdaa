// Package sysutil holds process-level helpers used by the entrypoint: global
// logger setup, build version resolution and env flag parsing.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps a LOG_LEVEL value onto a zerolog level. Unknown and empty
// values fall back to info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogLevel sets the global zerolog level.
func SetLogLevel(lvl string) {
	zerolog.SetGlobalLevel(ParseLevel(lvl))
}

// ConfigureLogger replaces the global logger. Every line carries the service
// name. With pretty set, output uses the console writer and honours NO_COLOR.
func ConfigureLogger(w io.Writer, level string, pretty bool, service string) {
	SetLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    IsTruthy(os.Getenv("NO_COLOR")),
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", service).Logger()
}

// ResolveVersion picks the version reported by /system/info and the trace
// resource: the linker-injected build version, then APP_VERSION, then "dev".
func ResolveVersion(build string) string {
	return strings.TrimSpace(FirstNonEmpty(build, os.Getenv("APP_VERSION"), "dev"))
}

// IsTruthy reports whether an env value means "on": 1, true, yes, y or on,
// case-insensitive.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// FirstNonEmpty returns the first value that is not blank, unmodified.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
