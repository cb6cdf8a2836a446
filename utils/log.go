package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// slog has no TRACE or CRITICAL; they sit one step outside DEBUG and ERROR.
var slogLevels = map[LogLevel]slog.Level{
	TRACE:    slog.LevelDebug - 4,
	DEBUG:    slog.LevelDebug,
	INFO:     slog.LevelInfo,
	WARN:     slog.LevelWarn,
	ERROR:    slog.LevelError,
	CRITICAL: slog.LevelError + 4,
}

func (l LogLevel) slogLevel() slog.Level {
	if lv, ok := slogLevels[l]; ok {
		return lv
	}
	return slog.LevelInfo
}

func ParseLogLevel(s string) (LogLevel, error) {
	for lv := TRACE; lv <= CRITICAL; lv++ {
		if strings.EqualFold(s, lv.String()) {
			return lv, nil
		}
	}
	if strings.EqualFold(s, "warning") {
		return WARN, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Logger is a leveled structured logger writing to a file, stdout, or both.
// Arguments after the message are slog key/value pairs.
type Logger struct {
	level  *slog.LevelVar
	file   *os.File
	logger *slog.Logger
}

func NewFileLogger(filePath string, minLevel LogLevel, alsoStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	var w io.Writer = f
	if alsoStdout {
		w = io.MultiWriter(f, os.Stdout)
	}
	l := NewLogger(w, minLevel)
	l.file = f
	return l, nil
}

func NewLogger(w io.Writer, minLevel LogLevel) *Logger {
	level := new(slog.LevelVar)
	level.Set(minLevel.slogLevel())
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	})
	return &Logger{level: level, logger: slog.New(h)}
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	lv, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	for name, sl := range slogLevels {
		if sl == lv {
			return slog.String(slog.LevelKey, name.String())
		}
	}
	return a
}

// With returns a logger that adds args to every record. It shares the
// level and the underlying file with l.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{level: l.level, file: l.file, logger: l.logger.With(args...)}
}

// Slog exposes the underlying slog logger for libraries that take one.
func (l *Logger) Slog() *slog.Logger { return l.logger }

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

func (l *Logger) Enabled(level LogLevel) bool {
	return l.logger.Enabled(context.Background(), level.slogLevel())
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	l.logger.Log(context.Background(), level.slogLevel(), msg, args...)
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }

// Throttled logs one event class at a bounded rate. Records dropped by the
// limiter are counted and reported on the next record that gets through.
type Throttled struct {
	log        *Logger
	level      LogLevel
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

func NewThrottled(log *Logger, level LogLevel, every time.Duration, burst int) *Throttled {
	return &Throttled{
		log:     log,
		level:   level,
		limiter: rate.NewLimiter(rate.Every(every), burst),
	}
}

func (t *Throttled) Log(msg string, args ...any) bool {
	return t.LogAt(time.Now(), msg, args...)
}

// LogAt is Log with an explicit clock reading.
func (t *Throttled) LogAt(now time.Time, msg string, args ...any) bool {
	if !t.limiter.AllowN(now, 1) {
		t.suppressed.Add(1)
		return false
	}
	if n := t.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	t.log.log(t.level, msg, args...)
	return true
}

func (t *Throttled) Suppressed() uint64 { return t.suppressed.Load() }
