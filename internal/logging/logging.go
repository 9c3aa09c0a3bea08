// Package logging assembles the relay's log output: stdout, stderr, or a
// size-rotating file, behind a JSON slog handler.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/dskow/toolgate/internal/config"
)

// NewLogger builds the root logger from logging config at the given level
// (typically middleware.ParseLogLevel of cfg.Level). The returned closer
// owns the output file; closing is a no-op for the standard streams.
func NewLogger(cfg config.LoggingConfig, level slog.Level) (*slog.Logger, io.Closer, error) {
	w, closer, err := newSink(cfg)
	if err != nil {
		return nil, nil, err
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), closer, nil
}

// newSink maps logging.output to a writer. Anything that is not a standard
// stream name is treated as a file path.
func newSink(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	default:
		rw, err := NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		return rw, rw, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
