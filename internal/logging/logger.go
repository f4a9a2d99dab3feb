// Package logging provides structured logging for the blkreactor project.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with reactor-specific structured fields.
type Logger struct {
	zlog zerolog.Logger
	aw   *asyncWriter
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// ParseLevel maps a level name to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config holds logging configuration.
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // If true, writes are synchronous (useful for testing)
	NoColor bool // If true, disables ANSI color codes (useful for testing)
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// asyncWriter decouples log writes from the caller through a buffered
// channel so poll loops never block on I/O.
type asyncWriter struct {
	out    io.Writer
	ch     chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func newAsyncWriter(w io.Writer, bufferSize int) *asyncWriter {
	aw := &asyncWriter{
		out:  w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for msg := range aw.ch {
		aw.out.Write(msg)
	}
}

func (aw *asyncWriter) Write(p []byte) (n int, err error) {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	aw.mu.Unlock()

	// Copy since zerolog reuses p.
	msg := make([]byte, len(p))
	copy(msg, p)

	// Non-blocking: drop when the buffer is full rather than stall a
	// reactor.
	select {
	case aw.ch <- msg:
		return len(p), nil
	default:
		return len(p), nil
	}
}

func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.ch)
	}
	aw.mu.Unlock()
	<-aw.done
	return nil
}

// NewLogger creates a new structured logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var aw *asyncWriter
	var output io.Writer = config.Output
	if !config.Sync {
		aw = newAsyncWriter(config.Output, 1000)
		output = aw
	}

	var zlog zerolog.Logger
	switch config.Format {
	case "json":
		zlog = zerolog.New(output).With().Timestamp().Logger()
	default:
		consoleWriter := zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
		zlog = zerolog.New(consoleWriter).With().Timestamp().Logger()
	}

	zlog = zlog.Level(zerolog.Level(config.Level))

	return &Logger{zlog: zlog, aw: aw}
}

// Close flushes and stops the async writer, if any. Call it before process
// exit so buffered log lines reach their destination; the logger must not
// be used afterwards.
func (l *Logger) Close() error {
	if l.aw == nil {
		return nil
	}
	return l.aw.Close()
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithReactor returns a logger with reactor ID context.
func (l *Logger) WithReactor(reactorID int) *Logger {
	return &Logger{zlog: l.zlog.With().Int("reactor", reactorID).Logger(), aw: l.aw}
}

// WithUnit returns a logger with work unit context.
func (l *Logger) WithUnit(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("unit", name).Logger(), aw: l.aw}
}

// WithQueue returns a logger with queue context.
func (l *Logger) WithQueue(queueID int) *Logger {
	return &Logger{zlog: l.zlog.With().Int("queue", queueID).Logger(), aw: l.aw}
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger(), aw: l.aw}
}

// Standard logging methods
func (l *Logger) Debug(msg string, args ...any) {
	l.emit(l.zlog.Debug(), msg, args)
}

func (l *Logger) Info(msg string, args ...any) {
	l.emit(l.zlog.Info(), msg, args)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.emit(l.zlog.Warn(), msg, args)
}

func (l *Logger) Error(msg string, args ...any) {
	l.emit(l.zlog.Error(), msg, args)
}

func (l *Logger) emit(event *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	event.Msg(msg)
}

// Printf-style logging for compatibility
func (l *Logger) Debugf(format string, args ...any) {
	l.zlog.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.zlog.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zlog.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zlog.Error().Msgf(format, args...)
}

// Convenience functions for the default logger
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
