package eventlog

import (
	"time"

	"github.com/rmacdonaldsmith/robomesh/pkg/cell"
)

// Record is one log record received on a log target.
type Record struct {
	// Offset is the record's position within its target, assigned on append
	Offset int64 `json:"offset"`

	// Target is the log target name (without the LT: prefix)
	Target string `json:"target"`

	Level     cell.Level `json:"-"`
	LevelName string     `json:"level"`
	Message   string     `json:"message"`
	Detail    string     `json:"detail,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewRecord creates a record stamped with the current time.
// The offset is assigned by the store.
func NewRecord(target string, level cell.Level, message, detail string) Record {
	return Record{
		Target:    target,
		Level:     level,
		LevelName: level.String(),
		Message:   message,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}

// WithOffset returns a copy of r at offset.
func (r Record) WithOffset(offset int64) Record {
	r.Offset = offset
	return r
}
