package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	InfoLogger  *logrus.Logger
	ErrorLogger *logrus.Logger
)

func InitLogger() {
	InfoLogger = logrus.New()
	ErrorLogger = logrus.New()

	InfoLogger.SetOutput(os.Stdout)
	InfoLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ErrorLogger.SetOutput(os.Stderr)
	ErrorLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	InfoLogger.SetLevel(logrus.InfoLevel)
	ErrorLogger.SetLevel(logrus.ErrorLevel)
}

// SetLevel changes the InfoLogger level; unknown names keep the current level.
func SetLevel(name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		ErrorLogger.WithField("level", name).Warn("unknown log level")
		return
	}
	InfoLogger.SetLevel(level)
}

// Component returns a logger tagged with the component name, for services and workers.
func Component(name string) *logrus.Entry {
	return InfoLogger.WithField("component", name)
}
