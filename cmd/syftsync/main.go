package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syftsync/internal/utils"
)

var stdoutLevel = new(slog.LevelVar)

func stdoutHandler() slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      stdoutLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}

// setupFileLogging fans records out to stdout and to logFile. The returned
// closer flushes the interceptor and closes the file.
func setupFileLogging(logFile string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	interceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// time is added by the interceptor
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler(), fileHandler)))
	return &logCloser{interceptor: interceptor, file: file}, nil
}

type logCloser struct {
	interceptor *utils.LogInterceptor
	file        *os.File
}

func (c *logCloser) Close() error {
	slog.SetDefault(slog.New(stdoutHandler()))
	_ = c.interceptor.Close()
	return c.file.Close()
}

func main() {
	stdoutLevel.Set(slog.LevelWarn)
	slog.SetDefault(slog.New(stdoutHandler()))

	// S3 credentials often live in a .env next to the workspace
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
