// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/echolog/echolog-server/internal/config"
	"github.com/echolog/echolog-server/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup applies level and format and, when a file is configured, tees output
// into a rotating log file. The returned closer flushes the file sink.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	level, errLevel := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if errLevel != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	file := strings.TrimSpace(cfg.File)
	if file == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}
	if !filepath.IsAbs(file) {
		if base := util.WritablePath(); base != "" {
			file = filepath.Join(base, file)
		}
	}
	if errMkdir := os.MkdirAll(filepath.Dir(file), 0o755); errMkdir != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", errMkdir)
	}

	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
