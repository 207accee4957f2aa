package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Nop returns an entry that discards everything written to it
func Nop() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// OrNop returns entry, or a discarding entry when entry is nil
func OrNop(entry *logrus.Entry) *logrus.Entry {
	if entry == nil {
		return Nop()
	}
	return entry
}

// Configure sets up the standard logger the way every binary expects it
func Configure(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
