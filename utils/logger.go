package utils

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	InfoLogger  *logrus.Logger
	ErrorLogger *logrus.Logger
)

// InitLogger sets up the default text loggers. Tests call it directly.
func InitLogger() {
	ConfigureLogger("info", "text")
}

// ConfigureLogger builds the info/error loggers for the given level and
// format ("text" or "json").
func ConfigureLogger(level, format string) {
	InfoLogger = logrus.New()
	ErrorLogger = logrus.New()

	// Info ke stdout, error ke stderr
	InfoLogger.SetOutput(os.Stdout)
	ErrorLogger.SetOutput(os.Stderr)

	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if strings.EqualFold(format, "json") {
		formatter = &logrus.JSONFormatter{}
	}
	InfoLogger.SetFormatter(formatter)
	ErrorLogger.SetFormatter(formatter)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	InfoLogger.SetLevel(lvl)
	ErrorLogger.SetLevel(logrus.ErrorLevel)
	if lvl > logrus.ErrorLevel {
		// debug/trace also show up on the error logger
		ErrorLogger.SetLevel(lvl)
	}
}

// Loggers returns the configured loggers, initializing defaults if needed.
func Loggers() (*logrus.Logger, *logrus.Logger) {
	if InfoLogger == nil || ErrorLogger == nil {
		InitLogger()
	}
	return InfoLogger, ErrorLogger
}
