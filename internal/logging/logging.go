// Package logging wires the service's zerolog logger. The teacher
// reaches for fmt.Printf/log.Printf everywhere; this pack's services
// (see Sergey-Bar-Alfred's gateway) construct one zerolog.Logger at
// startup and pass it down instead.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/sk-pathak/wayback-discover-diff-go/internal/config"
)

// New builds a zerolog.Logger configured from cfg.Logging.
func New(cfg config.Logging) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer zerolog.ConsoleWriter
	if cfg.Pretty {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(writer).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
