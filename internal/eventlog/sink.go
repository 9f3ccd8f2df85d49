package eventlog

import (
	"context"
	"log/slog"

	"github.com/rmacdonaldsmith/robomesh/pkg/cell"
	"github.com/rmacdonaldsmith/robomesh/pkg/eventlog"
)

// Sink appends every record it is given to a store under one target
type Sink struct {
	store  eventlog.Store
	target string
	logger *slog.Logger
}

// NewSink returns a cell.LogSink writing into store under target
func NewSink(store eventlog.Store, target string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		store:  store,
		target: target,
		logger: logger.With("component", "eventlog", "target", target),
	}
}

// Log stores one record; a failed append is logged and dropped
func (s *Sink) Log(level cell.Level, message, detail string) {
	if _, err := s.store.Append(context.Background(), eventlog.NewRecord(s.target, level, message, detail)); err != nil {
		s.logger.Warn("Dropping log record", "level", level, "error", err)
	}
}

var _ cell.LogSink = (*Sink)(nil)
