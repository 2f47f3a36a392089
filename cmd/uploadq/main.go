package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nexusfield/uploadq/internal/logging"
	"github.com/nexusfield/uploadq/internal/uploader/cli"
	"github.com/nexusfield/uploadq/internal/uploader/config"
)

func main() {

	cfg := config.LoadConfig()

	logger, closeLog, err := newFileLogger(cfg.DataDir)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closeLog()

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(context.Background())
}

// newFileLogger writes structured logs to a file in the data dir so the
// interactive terminal stays clean.
func newFileLogger(dataDir string) (logging.Logger, func(), error) {
	if err := os.MkdirAll(dataDir, 0o770); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "uploadq.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	h := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	return logging.NewSlogLogger(slog.New(h)), func() { f.Close() }, nil
}
