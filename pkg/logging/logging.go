package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Config is the explicit logging configuration injected at construction.
// Raw payload logging has its own gate on top of the master switch, so
// personal data only reaches the log when both are enabled.
type Config struct {
	Enabled    bool
	RawEnabled bool
	Path       string
}

// Logger appends timestamped lines to the event log file. Writes are
// best-effort: a failing log write never fails the caller.
type Logger struct {
	cfg Config

	mu sync.Mutex
	w  io.Writer // non-nil overrides cfg.Path (tests, CLI preview)
}

func New(cfg Config) *Logger {
	return &Logger{cfg: cfg}
}

// NewWithWriter routes log lines to w instead of the file.
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	return &Logger{cfg: cfg, w: w}
}

// Printf appends one timestamped line to the log if logging is enabled.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || !l.cfg.Enabled {
		return
	}
	l.write(fmt.Sprintf(format, args...))
}

// Raw logs the raw request body. Gated separately from regular logging.
func (l *Logger) Raw(data []byte) {
	if l == nil || !l.cfg.Enabled || !l.cfg.RawEnabled {
		return
	}
	l.write("Dados brutos recebidos: " + string(data))
}

func (l *Logger) write(msg string) {
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w != nil {
		_, _ = io.WriteString(l.w, line)
		return
	}
	f, err := os.OpenFile(l.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = io.WriteString(f, line)
}

// Clear truncates the log file. Exposed for the admin CLI.
func (l *Logger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w != nil {
		return nil
	}
	return os.WriteFile(l.cfg.Path, nil, 0o644)
}

// Path returns the configured log file path.
func (l *Logger) Path() string {
	return l.cfg.Path
}
