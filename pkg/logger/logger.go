package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel constants
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

var levelRank = map[string]int{
	LogLevelError: 0,
	LogLevelWarn:  1,
	LogLevelInfo:  2,
	LogLevelDebug: 3,
	LogLevelTrace: 4,
}

var levelPrefix = map[string]string{
	LogLevelError: "❌ ",
	LogLevelWarn:  "⚠️ ",
	LogLevelInfo:  "ℹ️ ",
	LogLevelDebug: "🔧 ",
	LogLevelTrace: "🔍 ",
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	MaxSize int    `yaml:"max_size"` // Megabytes before the file is rotated, 0 never rotates
	MaxAge  int    `yaml:"max_age"`  // Days rotated files are kept, 0 keeps them all
}

// GlobalLogging is the configuration used by the package-level helpers.
// It is set once by NewLogger during startup.
var GlobalLogging *LoggingConfig

// Logger writes leveled messages to stdout or a size-rotated file.
// It implements ILogger.
type Logger struct {
	out   *log.Logger
	level string
	file  *rotatingFile
}

// NewLogger creates the process logger and points the package-level
// helpers at the same output
func NewLogger(config *LoggingConfig) *Logger {
	level, ok := ParseLevel(config.Level)
	if !ok {
		level = LogLevelInfo
	}

	var output io.Writer = os.Stdout
	var file *rotatingFile
	if config.File != "" {
		f, err := openRotatingFile(config.File, int64(config.MaxSize)*1024*1024, time.Duration(config.MaxAge)*24*time.Hour)
		if err != nil {
			log.Printf("Failed to open log file %s: %v", config.File, err)
		} else {
			file = f
			output = f
		}
	}

	log.SetOutput(output)
	log.SetFlags(log.LstdFlags)
	GlobalLogging = config

	return &Logger{
		out:   log.New(output, "", log.LstdFlags),
		level: level,
		file:  file,
	}
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) write(level, format string, args ...interface{}) {
	if shouldLog(l.level, level) {
		l.out.Printf(levelPrefix[level]+format, args...)
	}
}

// LogError logs error messages
func (l *Logger) LogError(format string, args ...interface{}) { l.write(LogLevelError, format, args...) }

// LogWarn logs warning messages
func (l *Logger) LogWarn(format string, args ...interface{}) { l.write(LogLevelWarn, format, args...) }

// LogInfo logs info messages
func (l *Logger) LogInfo(format string, args ...interface{}) { l.write(LogLevelInfo, format, args...) }

// LogDebug logs debug messages
func (l *Logger) LogDebug(format string, args ...interface{}) { l.write(LogLevelDebug, format, args...) }

// LogTrace logs trace messages
func (l *Logger) LogTrace(format string, args ...interface{}) { l.write(LogLevelTrace, format, args...) }

// shouldLog reports whether a message at messageLevel passes currentLevel.
// Unknown levels let everything through.
func shouldLog(currentLevel, messageLevel string) bool {
	current, ok := levelRank[currentLevel]
	if !ok {
		return true
	}
	message, ok := levelRank[messageLevel]
	if !ok {
		return true
	}
	return message <= current
}

func globalLog(level, format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(strings.ToLower(GlobalLogging.Level), level) {
		log.Printf(levelPrefix[level]+format, args...)
	}
}

// LogStartup logs startup messages that should always be visible regardless of log level
func LogStartup(format string, args ...interface{}) {
	log.Printf("🔧 "+format, args...)
}

// LogError logs through the global configuration
func LogError(format string, args ...interface{}) { globalLog(LogLevelError, format, args...) }

// LogWarn logs through the global configuration
func LogWarn(format string, args ...interface{}) { globalLog(LogLevelWarn, format, args...) }

// LogInfo logs through the global configuration
func LogInfo(format string, args ...interface{}) { globalLog(LogLevelInfo, format, args...) }

// LogDebug logs through the global configuration
func LogDebug(format string, args ...interface{}) { globalLog(LogLevelDebug, format, args...) }

// LogTrace logs through the global configuration
func LogTrace(format string, args ...interface{}) { globalLog(LogLevelTrace, format, args...) }

// IsDebugEnabled checks if debug logging is enabled
func IsDebugEnabled() bool {
	return GlobalLogging != nil && shouldLog(strings.ToLower(GlobalLogging.Level), LogLevelDebug)
}

// IsTraceEnabled checks if trace logging is enabled
func IsTraceEnabled() bool {
	return GlobalLogging != nil && shouldLog(strings.ToLower(GlobalLogging.Level), LogLevelTrace)
}

// ParseLevel normalizes a configured level, returning false for unknown names
func ParseLevel(level string) (string, bool) {
	l := strings.ToLower(strings.TrimSpace(level))
	if l == "" {
		return LogLevelInfo, true
	}
	if _, ok := levelRank[l]; ok {
		return l, true
	}
	return "", false
}

// rotatingFile renames the log to <name>.<timestamp> once it grows past
// maxSize and removes rotated files older than maxAge
type rotatingFile struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	maxAge  time.Duration
	file    *os.File
	size    int64
	now     func() time.Time
}

func openRotatingFile(path string, maxSize int64, maxAge time.Duration) (*rotatingFile, error) {
	r := &rotatingFile{path: path, maxSize: maxSize, maxAge: maxAge, now: time.Now}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	// Use 0600 permissions (owner read/write only) for security
	// #nosec G304 - path comes from the engine configuration
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	rotated := fmt.Sprintf("%s.%s", r.path, r.now().Format("20060102-150405.000"))
	if err := os.Rename(r.path, rotated); err != nil {
		return err
	}
	r.prune()
	return r.open()
}

// prune removes rotated files older than maxAge
func (r *rotatingFile) prune() {
	if r.maxAge <= 0 {
		return
	}
	matches, err := filepath.Glob(r.path + ".*")
	if err != nil {
		return
	}
	sort.Strings(matches)
	cutoff := r.now().Add(-r.maxAge)
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(m)
		}
	}
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

var _ ILogger = (*Logger)(nil)
