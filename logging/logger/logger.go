// Package logger wraps logrus with context-first helpers. Every call takes a
// context so that trace ids travel with the log entry.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ncobase/telemetry/logging/logger/config"
	"github.com/sirupsen/logrus"
)

// Key constants
const (
	VersionKey   = "version"
	ComponentKey = "component"
)

// Logger represents logger instance
type Logger struct {
	*logrus.Logger
	version string

	mu       sync.Mutex
	logFile  *os.File
	logPath  string
	stopRoll chan struct{}
}

var (
	// stdLogger is the process default logger
	stdLogger *Logger
	// once ensures that the logger is initialized only once
	once sync.Once
)

// StdLogger returns the process default logger
func StdLogger() *Logger {
	once.Do(func() {
		stdLogger = newLogger()
	})
	return stdLogger
}

func newLogger() *Logger {
	l := &Logger{Logger: logrus.New()}
	l.SetFormatter(&logrus.JSONFormatter{})
	return l
}

// New creates a standalone logger from cfg. The returned cleanup closes any
// log file that was opened.
func New(cfg *config.Config) (*Logger, func(), error) {
	l := newLogger()
	cleanup, err := l.Init(cfg)
	if err != nil {
		return nil, nil, err
	}
	return l, cleanup, nil
}

// Init initializes the logger with the given configuration
func (l *Logger) Init(c *config.Config) (func(), error) {
	if c == nil {
		c = config.Default()
	}

	level := logrus.InfoLevel
	if c.Level != "" {
		parsed, err := logrus.ParseLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		level = parsed
	}
	l.SetLevel(level)

	switch c.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	switch c.Output {
	case "stdout":
		l.SetOutput(os.Stdout)
	case "file":
		if c.OutputFile == "" {
			return nil, fmt.Errorf("log output is file but output_file is empty")
		}
		l.logPath = c.OutputFile
		if err := l.setupLogFile(); err != nil {
			return nil, err
		}
		l.stopRoll = make(chan struct{})
		go l.periodicLogRotation(l.stopRoll)
	default:
		l.SetOutput(os.Stderr)
	}

	if c.Version != "" {
		l.SetVersion(c.Version)
	}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.stopRoll != nil {
			close(l.stopRoll)
			l.stopRoll = nil
		}
		if l.logFile != nil {
			_ = l.logFile.Close()
			l.logFile = nil
		}
	}, nil
}

// SetVersion sets the version for logging
func (l *Logger) SetVersion(v string) {
	l.version = v
}

// setupLogFile sets up the log file
func (l *Logger) setupLogFile() error {
	if err := os.MkdirAll(filepath.Dir(l.logPath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return l.rotateLog()
}

// rotateLog switches output to the file for the current day
func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	logFilePath := fmt.Sprintf("%s.%s.log", strings.TrimSuffix(l.logPath, ".log"), time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}

	l.logFile = f
	l.Logger.SetOutput(f)
	return nil
}

// periodicLogRotation rotates the log every 24 hours
func (l *Logger) periodicLogRotation(stop <-chan struct{}) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.rotateLog(); err != nil {
				l.Logger.Errorf("Error rotating log: %v", err)
			}
		case <-stop:
			return
		}
	}
}

// entryFromContext creates a new log entry with fields from context
func (l *Logger) entryFromContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}

	if traceID := getTraceID(ctx); traceID != "" {
		fields[traceKey] = traceID
	}

	if l.version != "" {
		fields[VersionKey] = l.version
	}

	return l.WithFields(fields)
}

// EntryWithFields returns an entry carrying the context fields plus fields
func (l *Logger) EntryWithFields(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	return l.entryFromContext(ctx).WithFields(fields)
}

// WithComponent returns an entry tagged with the component name
func (l *Logger) WithComponent(ctx context.Context, component string) *logrus.Entry {
	return l.entryFromContext(ctx).WithField(ComponentKey, component)
}

func (l *Logger) log(ctx context.Context, level logrus.Level, args ...any) {
	l.entryFromContext(ctx).Log(level, args...)
}

func (l *Logger) logf(ctx context.Context, level logrus.Level, format string, args ...any) {
	l.entryFromContext(ctx).Logf(level, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, args ...any) {
	l.log(ctx, logrus.DebugLevel, args...)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, args ...any) {
	l.log(ctx, logrus.InfoLevel, args...)
}

// Warn logs a warn message
func (l *Logger) Warn(ctx context.Context, args ...any) {
	l.log(ctx, logrus.WarnLevel, args...)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, args ...any) {
	l.log(ctx, logrus.ErrorLevel, args...)
}

// Debugf logs a debug message with format
func (l *Logger) Debugf(ctx context.Context, format string, args ...any) {
	l.logf(ctx, logrus.DebugLevel, format, args...)
}

// Infof logs an info message with format
func (l *Logger) Infof(ctx context.Context, format string, args ...any) {
	l.logf(ctx, logrus.InfoLevel, format, args...)
}

// Warnf logs a warn message with format
func (l *Logger) Warnf(ctx context.Context, format string, args ...any) {
	l.logf(ctx, logrus.WarnLevel, format, args...)
}

// Errorf logs an error message with format
func (l *Logger) Errorf(ctx context.Context, format string, args ...any) {
	l.logf(ctx, logrus.ErrorLevel, format, args...)
}

// SetOutput sets the output destination for the logger
func (l *Logger) SetOutput(out io.Writer) {
	l.Logger.SetOutput(out)
}

// Exported functions operating on the process default logger

func Init(c *config.Config) (func(), error) { return StdLogger().Init(c) }
func SetVersion(v string)                   { StdLogger().SetVersion(v) }
func SetOutput(out io.Writer)               { StdLogger().SetOutput(out) }

func EntryWithFields(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	return StdLogger().EntryWithFields(ctx, fields)
}

func Debug(ctx context.Context, args ...any) { StdLogger().Debug(ctx, args...) }
func Info(ctx context.Context, args ...any)  { StdLogger().Info(ctx, args...) }
func Warn(ctx context.Context, args ...any)  { StdLogger().Warn(ctx, args...) }
func Error(ctx context.Context, args ...any) { StdLogger().Error(ctx, args...) }

func Debugf(ctx context.Context, format string, args ...any) {
	StdLogger().Debugf(ctx, format, args...)
}
func Infof(ctx context.Context, format string, args ...any) {
	StdLogger().Infof(ctx, format, args...)
}
func Warnf(ctx context.Context, format string, args ...any) {
	StdLogger().Warnf(ctx, format, args...)
}
func Errorf(ctx context.Context, format string, args ...any) {
	StdLogger().Errorf(ctx, format, args...)
}
