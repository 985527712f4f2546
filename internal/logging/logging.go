// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the leveled logger used throughout the router
// control plane, with an optional syslog fan-out for remote collection.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Logger.
type Config struct {
	Level  Level
	Output io.Writer
	Syslog SyslogConfig
}

// DefaultConfig returns the logger configuration used when the process
// starts without explicit overrides.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
		Syslog: DefaultSyslogConfig(),
	}
}

// Logger is a leveled logger that fans out to stderr/file and, optionally,
// syslog.
type Logger struct {
	mu     sync.Mutex
	level  Level
	std    *log.Logger
	syslog io.Writer
}

// New builds a Logger from cfg. Syslog connection failures are logged to
// the primary output and otherwise ignored — syslog export is best-effort.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	l := &Logger{
		level: cfg.Level,
		std:   log.New(out, "", log.LstdFlags),
	}

	if cfg.Syslog.Enabled {
		w, err := NewSyslogWriter(cfg.Syslog)
		if err != nil {
			l.std.Printf("[logging] syslog disabled: %v", err)
		} else {
			l.syslog = w
		}
	}

	return l
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.std.Printf("[%s] %s", level, msg)
	if l.syslog != nil {
		fmt.Fprintf(l.syslog, "%s %s\n", level, msg)
	}
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// default is the process-wide logger used by the package-level helpers
// below, mirroring the teacher's logging.Debug/Info/Error free functions.
var (
	defaultMu     sync.RWMutex
	defaultLogger = New(DefaultConfig())
)

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func Debug(format string, args ...any) { current().Debug(format, args...) }
func Info(format string, args ...any)  { current().Info(format, args...) }
func Warn(format string, args ...any)  { current().Warn(format, args...) }
func Error(format string, args ...any) { current().Error(format, args...) }

// SyslogConfig configures the optional remote syslog writer.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int // RFC 5424 facility number, e.g. 1 = user-level
}

// DefaultSyslogConfig returns syslog export disabled, with the defaults
// that are applied when it is turned on without overrides.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "landscape-router",
		Facility: 1,
	}
}

// NewSyslogWriter dials a remote syslog collector and returns a writer that
// forwards every log line to it.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "landscape-router"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	w, err := syslog.Dial(cfg.Protocol, addr, priority, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog: %w", err)
	}
	return w, nil
}

// Since is a small convenience used by call sites that log elapsed
// durations (e.g. actor start latency) without pulling in time at every
// call site.
func Since(start time.Time) time.Duration { return time.Since(start) }
