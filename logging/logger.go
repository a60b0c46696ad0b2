// Package logging provides the bus log subsystem on top of zap.
//
// Severities are ordered NONE < ERROR < WARN < INFO < DEBUG < INTERNAL.
// Activity records go to a distinct facility. Every record carries the
// process id, the caller's file:line, and the transaction id (XID) of the
// request chain it belongs to:
//
//	[INFO:4211:session.go:142:1712954401123] connect succeeded
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the bus log severity.
type Level int8

const (
	None Level = iota
	Error
	Warn
	Info
	Debug
	Internal
)

var levelName = map[Level]string{
	None:     "NONE",
	Error:    "ERR",
	Warn:     "WARN",
	Info:     "INFO",
	Debug:    "DEBG",
	Internal: "INT",
}

// ParseLevel maps a config string to a Level. Unknown strings read as Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return None
	case "error", "1":
		return Error
	case "warn", "warning", "2":
		return Warn
	case "info", "3":
		return Info
	case "debug", "4":
		return Debug
	case "internal", "5":
		return Internal
	}
	return Info
}

// DefaultMaxLen is the record truncation limit when none is configured.
const DefaultMaxLen = 1536

// Config controls logger construction.
type Config struct {
	Level   Level
	MaxLen  int      // truncation limit in bytes; 0 means DefaultMaxLen
	Outputs []string // zap output paths; empty means stderr
}

// Logger writes severity-filtered, XID-correlated records through zap.
// WithXID returns cheap clones sharing the underlying zap cores.
type Logger struct {
	z        *zap.Logger
	activity *zap.Logger
	level    Level
	maxLen   int
	xid      string
}

// New builds a logger from cfg.
func New(cfg Config) (*Logger, error) {
	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	enc := zapcore.EncoderConfig{
		MessageKey:  "msg",
		TimeKey:     "ts",
		NameKey:     "facility",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		LevelKey:    zapcore.OmitKey,
		CallerKey:   zapcore.OmitKey,
		EncodeLevel: zapcore.CapitalLevelEncoder,
	}
	zcfg := zap.Config{
		// The bus filters by its own severity before handing records to zap,
		// so the zap threshold stays wide open.
		Level:            zap.NewAtomicLevelAt(zapcore.DebugLevel),
		Encoding:         "console",
		EncoderConfig:    enc,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	z, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{
		z:        z,
		activity: z.Named("ACT"),
		level:    cfg.Level,
		maxLen:   maxLen,
	}, nil
}

// WithXID returns a clone whose records carry the given transaction id.
func (l *Logger) WithXID(xid string) *Logger {
	clone := *l
	clone.xid = xid
	return &clone
}

// Level returns the active severity threshold.
func (l *Logger) Level() Level { return l.level }

func (l *Logger) Errorf(format string, args ...any)    { l.write(l.z, Error, format, args) }
func (l *Logger) Warnf(format string, args ...any)     { l.write(l.z, Warn, format, args) }
func (l *Logger) Infof(format string, args ...any)     { l.write(l.z, Info, format, args) }
func (l *Logger) Debugf(format string, args ...any)    { l.write(l.z, Debug, format, args) }
func (l *Logger) Internalf(format string, args ...any) { l.write(l.z, Internal, format, args) }

// Activityf records to the activity facility. Activity records are filtered
// at Info severity.
func (l *Logger) Activityf(format string, args ...any) {
	l.write(l.activity, Info, format, args)
}

// Sync flushes buffered records.
func (l *Logger) Sync() error { return l.z.Sync() }

func (l *Logger) write(z *zap.Logger, lvl Level, format string, args []any) {
	if l == nil || lvl > l.level || l.level == None {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(msg) > l.maxLen {
		msg = msg[:l.maxLen]
	}
	file, line := caller()
	record := fmt.Sprintf("[%s:%d:%s:%d:%s] %s",
		levelName[lvl], os.Getpid(), file, line, l.xid, msg)
	switch lvl {
	case Error:
		z.Error(record)
	case Warn:
		z.Warn(record)
	case Info:
		z.Info(record)
	default:
		z.Debug(record)
	}
}

// caller resolves the log call site: every exported method is exactly one
// frame above write, which is one above here.
func caller() (string, int) {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "?", 0
	}
	return filepath.Base(file), line
}

var (
	defaultMu  sync.RWMutex
	defaultLog *Logger
)

// SetDefault installs the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLog = l
	defaultMu.Unlock()
}

// Default returns the process-wide logger, building a stderr Info logger on
// first use when none was installed.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLog
	defaultMu.RUnlock()
	if l != nil {
		return l
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLog == nil {
		defaultLog, _ = New(Config{Level: Info})
	}
	return defaultLog
}
