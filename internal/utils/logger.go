// internal/utils/logger.go
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

// Logger 带调用位置和字段的分级日志
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	out     io.Writer
	level   LogLevel
	enabled bool

	component string
	fields    map[string]interface{}
	root      *Logger // With() 派生的 logger 共享根的输出和级别
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = &Logger{
			out:     os.Stdout,
			level:   INFO,
			enabled: true,
		}
	})
	return globalLogger
}

// InitLogger 打开日志文件（追加写入），标准输出照常保留
func InitLogger(logFile string) error {
	logger := GetLogger()

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if logger.file != nil {
		logger.file.Close()
	}
	logger.file = file
	return nil
}

// CloseLogger 关闭日志文件
func CloseLogger() {
	logger := GetLogger()
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.file != nil {
		logger.file.Close()
		logger.file = nil
	}
}

// ParseLogLevel 解析配置中的级别名称，未知名称返回 INFO
func ParseLogLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARNING
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func (l *Logger) base() *Logger {
	if l.root != nil {
		return l.root
	}
	return l
}

// SetLogLevel sets the minimum level for logging
func (l *Logger) SetLogLevel(level LogLevel) {
	b := l.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = level
}

// Level 当前级别
func (l *Logger) Level() LogLevel {
	b := l.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}

// Enable enables or disables logging
func (l *Logger) Enable(enabled bool) {
	b := l.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// SetOutput 替换标准输出（测试用）
func (l *Logger) SetOutput(w io.Writer) {
	b := l.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = w
}

// With 派生带组件名和固定字段的 logger
func (l *Logger) With(component string, fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	if component == "" {
		component = l.component
	}
	return &Logger{component: component, fields: merged, root: l.base()}
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	b := l.base()

	b.mu.Lock()
	enabled, minLevel := b.enabled, b.level
	b.mu.Unlock()
	if !enabled || level < minLevel {
		return
	}

	// 跳过 log 和对外方法两层
	file, line, funcName := "???", 0, ""
	if pc, f, ln, ok := runtime.Caller(2); ok {
		file, line = filepath.Base(f), ln
		if fn := runtime.FuncForPC(pc); fn != nil {
			funcName = fn.Name()
			if idx := strings.LastIndex(funcName, "/"); idx >= 0 {
				funcName = funcName[idx+1:]
			}
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s:%d:%s - ",
		levelToString(level),
		time.Now().Format("2006-01-02 15:04:05.000"),
		file, line, funcName)
	if l.component != "" {
		fmt.Fprintf(&sb, "[%s] ", l.component)
	}
	sb.WriteString(message)

	all := l.fields
	if len(fields) > 0 {
		all = make(map[string]interface{}, len(l.fields)+len(fields))
		for k, v := range l.fields {
			all[k] = v
		}
		for k, v := range fields {
			all[k] = v
		}
	}
	if len(all) > 0 {
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, all[k])
		}
	}
	sb.WriteByte('\n')
	logLine := sb.String()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file != nil {
		b.file.WriteString(logLine)
	}
	if b.out != nil {
		io.WriteString(b.out, logLine)
	}

	if level == FATAL {
		if b.file != nil {
			b.file.Sync()
		}
		os.Exit(1)
	}
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(DEBUG, message, fields)
}

func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(INFO, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(WARNING, message, fields)
}

func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(ERROR, message, fields)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields map[string]interface{}) {
	l.log(FATAL, message, fields)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARNING, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...), nil)
}
