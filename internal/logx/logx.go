// Package logx is the single seam through which this module logs. It wraps
// charmbracelet/log rather than scattering fmt.Sprintf calls throughout
// soundcore and the hda packages.
package logx

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the leveled logger used throughout soundcore and hdacore.
type Logger struct {
	base *charmlog.Logger
}

var std = New("hdacore")

// New creates a named Logger writing to stderr.
func New(name string) *Logger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          name,
	})
	return &Logger{base: l}
}

// Std returns the package-wide default logger.
func Std() *Logger { return std }

// With returns a child logger carrying additional key/value context, e.g.
// logx.Std().With("controller", id).Infof("bring-up complete")
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{base: l.base.With(kv...)}
}

func (l *Logger) Debugf(format string, args ...any) { l.base.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.base.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.base.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.base.Errorf(format, args...) }

// SetLevel adjusts verbosity; accepts "debug", "info", "warn", "error".
func (l *Logger) SetLevel(level string) {
	lv, err := charmlog.ParseLevel(level)
	if err != nil {
		return
	}
	l.base.SetLevel(lv)
}

// SetLevel adjusts the package-wide default logger's verbosity.
func SetLevel(level string) { std.SetLevel(level) }
