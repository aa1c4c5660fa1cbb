package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions configures the global logger output
type LogOptions struct {
	Level  string // debug, info, warn, error
	Format string // console or json; empty picks console on a terminal
	// File, when set, receives logs through a rotating writer instead of stderr
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger provides leveled logging with verbose mode support
type Logger struct {
	verbose bool
	zl      zerolog.Logger
	closer  io.Closer
	mu      sync.RWMutex
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = &Logger{
			verbose: false,
			zl:      newZerolog(os.Stderr, "", zerolog.InfoLevel),
		}
	})
	return globalLogger
}

// Configure replaces the logger output according to opts
func (l *Logger) Configure(opts LogOptions) error {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var out io.Writer = os.Stderr
	var closer io.Closer
	format := opts.Format
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		out = rotator
		closer = rotator
		if format == "" {
			format = "json"
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer != nil {
		l.closer.Close()
	}
	if l.verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	l.zl = newZerolog(out, format, level)
	l.closer = closer
	return nil
}

// Close releases a log file opened by Configure
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

func newZerolog(out io.Writer, format string, level zerolog.Level) zerolog.Logger {
	if format == "" {
		format = "json"
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "console"
		}
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Zerolog returns the underlying structured logger
func (l *Logger) Zerolog() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

// SetVerbose enables or disables verbose logging
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
	if verbose {
		l.zl = l.zl.Level(zerolog.DebugLevel)
	} else if l.zl.GetLevel() == zerolog.DebugLevel {
		l.zl = l.zl.Level(zerolog.InfoLevel)
	}
}

// IsVerbose returns whether verbose logging is enabled
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// Debug logs a debug message (only when verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	zl := l.Zerolog()
	zl.Debug().Msgf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	zl := l.Zerolog()
	zl.Info().Msgf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	zl := l.Zerolog()
	zl.Warn().Msgf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	zl := l.Zerolog()
	zl.Error().Msgf(format, args...)
}

// Debugf is a convenience function for debug logging
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof is a convenience function for info logging
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf is a convenience function for warning logging
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf is a convenience function for error logging
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// SetVerboseMode is a convenience function to set global verbose mode
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// LogOperation logs the start and end of an operation
func LogOperation(operation string, fn func() error) error {
	logger := GetLogger()
	logger.Debug("Starting operation: %s", operation)

	start := time.Now()
	err := fn()

	if err != nil {
		logger.Debug("Operation failed: %s - %v", operation, err)
	} else {
		logger.Debug("Operation completed: %s (%s)", operation, time.Since(start).Round(time.Millisecond))
	}

	return err
}

// LogOperationf logs the start and end of an operation with formatted message
func LogOperationf(format string, fn func() error, args ...interface{}) error {
	operation := fmt.Sprintf(format, args...)
	return LogOperation(operation, fn)
}
