package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

// Options controls where and how process logs are written.
type Options struct {
	Level  string
	Format string
	File   string
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init sets the log level, falling back to info for unknown levels.
func Init(level string) {
	if log == nil {
		log = newLogger()
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

// Setup applies Options and returns a closer for the log file, if any.
func Setup(opts Options) (io.Closer, error) {
	Init(opts.Level)

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format: %s", opts.Format)
	}

	if opts.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

// L returns the process logger for components that take a logrus.FieldLogger.
func L() logrus.FieldLogger {
	return log
}

// Or returns l when set and the process logger otherwise.
func Or(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	return log
}

func Debug(args ...interface{}) {
	log.Debug(args...)
}

func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Info(args ...interface{}) {
	log.Info(args...)
}

func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warn(args ...interface{}) {
	log.Warn(args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Error(args ...interface{}) {
	log.Error(args...)
}

func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

func Fatal(args ...interface{}) {
	log.Fatal(args...)
}

func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}
