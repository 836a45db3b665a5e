package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/echolog/echolog-server/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetupWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	closer, errSetup := Setup(config.LoggingConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	if errSetup != nil {
		t.Fatalf("setup: %v", errSetup)
	}
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	log.WithField("component", "test").Info("hello file")
	if errClose := closer.Close(); errClose != nil {
		t.Fatalf("close: %v", errClose)
	}

	data, errRead := os.ReadFile(path)
	if errRead != nil {
		t.Fatalf("read log: %v", errRead)
	}
	if !strings.Contains(string(data), `"msg":"hello file"`) {
		t.Fatalf("expected json log line, got %s", data)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}

func TestSetupFallsBackToInfo(t *testing.T) {
	if _, errSetup := Setup(config.LoggingConfig{Level: "chatty"}); errSetup != nil {
		t.Fatalf("setup: %v", errSetup)
	}
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
}
