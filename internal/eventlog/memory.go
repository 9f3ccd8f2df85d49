package eventlog

import (
	"context"
	"errors"
	"sync"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/pkg/eventlog"
)

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
)

// MemoryStore implements eventlog.Store in memory. When MaxPerTarget is
// positive only the newest records of each target are retained; offsets
// keep counting, so a read below the retained range starts at the oldest
// record still held.
type MemoryStore struct {
	maxPerTarget int

	mu       sync.RWMutex
	byTarget map[string][]eventlog.Record
	next     map[string]int64
	total    int64
	levels   map[string]int64
	closed   bool
}

// NewMemoryStore creates a store keeping at most maxPerTarget records per
// target; zero keeps everything.
func NewMemoryStore(maxPerTarget int) *MemoryStore {
	return &MemoryStore{
		maxPerTarget: maxPerTarget,
		byTarget:     make(map[string][]eventlog.Record),
		next:         make(map[string]int64),
		levels:       make(map[string]int64),
	}
}

// Append stores rec and assigns its offset
func (s *MemoryStore) Append(ctx context.Context, rec eventlog.Record) (eventlog.Record, error) {
	if err := ctx.Err(); err != nil {
		return eventlog.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return eventlog.Record{}, meshErrors.ErrClosed
	}

	stored := rec.WithOffset(s.next[rec.Target])
	if stored.LevelName == "" {
		stored.LevelName = stored.Level.String()
	}
	records := append(s.byTarget[rec.Target], stored)
	if s.maxPerTarget > 0 && len(records) > s.maxPerTarget {
		records = append(records[:0:0], records[len(records)-s.maxPerTarget:]...)
	}
	s.byTarget[rec.Target] = records
	s.next[rec.Target]++
	s.total++
	s.levels[stored.LevelName]++
	return stored, nil
}

// Read returns up to maxCount records of target starting at startOffset
func (s *MemoryStore) Read(ctx context.Context, target string, startOffset int64, maxCount int) ([]eventlog.Record, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, meshErrors.ErrClosed
	}

	results := make([]eventlog.Record, 0, min(maxCount, len(s.byTarget[target])))
	for _, rec := range s.from(target, startOffset) {
		if len(results) == maxCount {
			break
		}
		results = append(results, rec)
	}
	return results, nil
}

// from returns the retained records of target at or after offset. Callers
// hold the lock.
func (s *MemoryStore) from(target string, offset int64) []eventlog.Record {
	records := s.byTarget[target]
	if len(records) == 0 {
		return nil
	}
	skip := offset - records[0].Offset
	switch {
	case skip <= 0:
		return records
	case skip >= int64(len(records)):
		return nil
	default:
		return records[skip:]
	}
}

// EndOffset returns the next append position of target
func (s *MemoryStore) EndOffset(ctx context.Context, target string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, meshErrors.ErrClosed
	}
	return s.next[target], nil
}

// Replay streams the records of target from startOffset
func (s *MemoryStore) Replay(ctx context.Context, target string, startOffset int64) (<-chan eventlog.Record, <-chan error) {
	recordCh := make(chan eventlog.Record)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordCh)
		defer close(errCh)

		if startOffset < 0 {
			errCh <- ErrNegativeOffset
			return
		}

		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			errCh <- meshErrors.ErrClosed
			return
		}
		// Copied so the lock is not held while the consumer is slow.
		pending := append([]eventlog.Record(nil), s.from(target, startOffset)...)
		s.mu.RUnlock()

		for _, rec := range pending {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case recordCh <- rec:
			}
		}
	}()

	return recordCh, errCh
}

// Statistics returns aggregate counts over every record ever appended
func (s *MemoryStore) Statistics(ctx context.Context) (eventlog.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return eventlog.Statistics{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return eventlog.Statistics{}, meshErrors.ErrClosed
	}

	stats := eventlog.Statistics{
		TotalRecords: s.total,
		TargetCounts: make(map[string]int64, len(s.next)),
		LevelCounts:  make(map[string]int64, len(s.levels)),
		TargetCount:  len(s.next),
	}
	for target, n := range s.next {
		stats.TargetCounts[target] = n
	}
	for level, n := range s.levels {
		stats.LevelCounts[level] = n
	}
	return stats, nil
}

// Close drops every record. Further calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.byTarget = make(map[string][]eventlog.Record)
	s.next = make(map[string]int64)
	s.levels = make(map[string]int64)
	s.closed = true
	return nil
}

// Verify that MemoryStore implements the Store interface at compile time
var _ eventlog.Store = (*MemoryStore)(nil)
