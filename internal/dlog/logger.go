// Package dlog provides the structured logging used across every component of
// this module: a zap.Logger optionally writing to a rotated file via lumberjack,
// with named, scoped child loggers for each subsystem.
package dlog

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Options configures the package-level logger. Zero value logs JSON to stdout
// at info level.
type Options struct {
	Level Level

	// Console, when true, also writes to stdout alongside Filename.
	Console bool

	// Filename, when non-empty, writes rotated JSON logs there via lumberjack.
	Filename   string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

var base *zap.Logger

func init() {
	base = New(Options{Console: true})
}

// New builds a standalone *zap.Logger from Options. Most callers want Init
// followed by Named(name) instead of calling this directly.
func New(opt Options) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02T15:04:05.000Z0700"))
	}

	al := zap.NewAtomicLevelAt(opt.Level)
	var cores []zapcore.Core

	if opt.Filename != "" {
		syncer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    orDefault(opt.MaxSizeMB, 100),
			MaxAge:     opt.MaxAgeDays,
			MaxBackups: opt.MaxBackups,
			Compress:   opt.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), syncer, al))
	}

	if opt.Console || opt.Filename == "" {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stdout), al))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(0))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Init replaces the package-level base logger. Call once at process startup.
func Init(opt Options) {
	base = New(opt)
}

// Named returns a child logger scoped to a single component, e.g. Named("channel").
func Named(name string) *zap.Logger {
	return base.Named(name)
}

// L returns the raw package-level logger.
func L() *zap.Logger { return base }

// Sync flushes buffered log entries; call during shutdown.
func Sync() error { return base.Sync() }
