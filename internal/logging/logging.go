// Package logging wraps logrus with the field conventions used across the
// coordinator: every entry tagged with a component, every error logged with
// its Go error value rather than stringified early.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a thin wrapper over *logrus.Logger.
type Logger struct {
	*logrus.Logger
}

// Config controls level and format.
type Config struct {
	Level  string // debug|info|warn|error, default info
	Format string // text|json, default text
}

// New builds a logger from Config.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l.SetOutput(os.Stdout)
	return &Logger{Logger: l}
}

// Component returns a logger entry pre-tagged with a subsystem name.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}
