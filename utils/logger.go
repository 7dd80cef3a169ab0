package utils

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions mirrors the logging section of the service config
type LogOptions struct {
	Level        string // debug, info, warn, error
	Format       string // json, console
	Output       string // stdout, file, both
	FilePath     string
	MaxSize      int // MB
	MaxBackups   int
	MaxAge       int // days
	Compress     bool
	EnableCaller bool
}

// NewLogger builds the service logger. File output is rotated by lumberjack;
// the returned closer flushes the logger and closes the rotating file.
func NewLogger(opts LogOptions, serviceName string) (*zap.Logger, func() error, error) {
	var sinks []io.Writer
	var rotator *lumberjack.Logger
	if opts.Output == "file" || opts.Output == "both" {
		rotator = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		sinks = append(sinks, rotator)
	}
	if opts.Output != "file" {
		sinks = append(sinks, os.Stdout)
	}
	return newLogger(opts, serviceName, rotator, sinks...)
}

func newLogger(opts LogOptions, serviceName string, rotator *lumberjack.Logger, sinks ...io.Writer) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if opts.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	syncers := make([]zapcore.WriteSyncer, 0, len(sinks))
	for _, s := range sinks {
		syncers = append(syncers, zapcore.AddSync(s))
	}
	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(syncers...), level)

	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.EnableCaller {
		zopts = append(zopts, zap.AddCaller())
	}
	logger := zap.New(core, zopts...)

	if serviceName != "" {
		logger = logger.With(zap.String("service_name", serviceName))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		logger = logger.With(zap.String("hostname", hostname))
	}

	closer := func() error {
		// stdout cannot always be synced; ignore that error
		_ = logger.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	return logger, closer, nil
}
