// ABOUTME: Process-wide zap logger setup
// ABOUTME: Logs to a file and, when the TUI is off, also to stdout
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects where logs go
type Config struct {
	File    string // empty disables the file sink
	Console bool
	Debug   bool
}

// Setup builds the logger, installs it as the zap global and returns a
// function that flushes and closes the sinks
func Setup(cfg Config) (func(), error) {
	return setup(cfg, os.Stdout)
}

func setup(cfg Config, console io.Writer) (func(), error) {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000")
	encoder := zapcore.NewConsoleEncoder(encCfg)

	var cores []zapcore.Core
	var file *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(f), level))
	}
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(console), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	restore := zap.ReplaceGlobals(logger)

	return func() {
		_ = logger.Sync()
		restore()
		if file != nil {
			_ = file.Close()
		}
	}, nil
}

// ReportError logs a fatal error. With the console sink off the TUI would
// leave it only in the log file, so it is also written to w.
func ReportError(cfg Config, w io.Writer, msg string, err error) {
	zap.S().Errorf("%s: %v", msg, err)
	if !cfg.Console {
		fmt.Fprintf(w, "%s: %v\n", msg, err)
	}
}
