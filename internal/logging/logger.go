package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is shared by every package. It writes JSON lines to stderr until
// Configure points it somewhere else.
var Logger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}()

// Configure sets the level and destination of Logger.
func Configure(levelStr string, out io.Writer) {
	if out != nil {
		Logger.SetOutput(out)
	}
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		Logger.Warnf("Invalid log level '%s', defaulting to info", levelStr)
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)
}

// OpenFile opens (appending) the log file used while the terminal UI owns stdout.
func OpenFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "mqt.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
