package eventlog

import (
	"context"
	"io"
)

// Store is target-scoped append-only storage for received log records.
// Each target has its own offset sequence starting from 0.
type Store interface {
	io.Closer

	// Append stores rec under rec.Target and returns it with its offset set.
	Append(ctx context.Context, rec Record) (Record, error)

	// Read returns up to maxCount records of target starting at startOffset.
	Read(ctx context.Context, target string, startOffset int64, maxCount int) ([]Record, error)

	// EndOffset returns the next append position of target.
	EndOffset(ctx context.Context, target string) (int64, error)

	// Replay streams records of target from startOffset. Both channels are
	// closed when the records are exhausted or ctx is cancelled.
	Replay(ctx context.Context, target string, startOffset int64) (<-chan Record, <-chan error)

	// Statistics returns aggregate counts.
	Statistics(ctx context.Context) (Statistics, error)
}

// Statistics provides aggregate counts about the store
type Statistics struct {
	TotalRecords int64            `json:"totalRecords"`
	TargetCounts map[string]int64 `json:"targetCounts"`
	LevelCounts  map[string]int64 `json:"levelCounts"`
	TargetCount  int              `json:"targetCount"`
}
