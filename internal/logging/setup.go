package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"credpool-gateway/internal/config"
	log "github.com/sirupsen/logrus"
)

var logMux sync.Mutex

// Setup configures the global logrus logger from LOG_LEVEL/LOG_FORMAT.
// It is idempotent and can be called multiple times; the most recent call wins.
func Setup(cfg *config.Config) error {
	logMux.Lock()
	defer logMux.Unlock()

	var formatter log.Formatter = &log.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	if cfg != nil && strings.EqualFold(cfg.Logging.Format, "text") {
		formatter = &log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano}
	}
	log.SetFormatter(formatter)

	level := log.InfoLevel
	if cfg != nil && cfg.Logging.Level != "" {
		if parsed, err := log.ParseLevel(cfg.Logging.Level); err == nil {
			level = parsed
		}
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	return nil
}
