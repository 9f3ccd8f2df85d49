package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/pkg/cell"
	"github.com/rmacdonaldsmith/robomesh/pkg/eventlog"
)

func appendN(t *testing.T, s *MemoryStore, target string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := s.Append(context.Background(), eventlog.NewRecord(target, cell.LevelInfo, "msg", "")); err != nil {
			t.Fatalf("Append %d to %s: %v", i, target, err)
		}
	}
}

// TestMemoryStore_Append tests offsets are assigned per target
func TestMemoryStore_Append(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	ctx := context.Background()

	first, err := store.Append(ctx, eventlog.NewRecord("arm", cell.LevelWarning, "stalled", "joint 2"))
	if err != nil {
		t.Fatalf("Expected no error appending, got: %v", err)
	}
	if first.Offset != 0 {
		t.Errorf("Expected first offset 0, got %d", first.Offset)
	}
	if first.LevelName != "WARNING" {
		t.Errorf("Expected level name WARNING, got %q", first.LevelName)
	}

	second, _ := store.Append(ctx, eventlog.NewRecord("arm", cell.LevelInfo, "moving", ""))
	if second.Offset != 1 {
		t.Errorf("Expected second offset 1, got %d", second.Offset)
	}

	other, _ := store.Append(ctx, eventlog.NewRecord("drive", cell.LevelInfo, "ready", ""))
	if other.Offset != 0 {
		t.Errorf("Expected independent target to start at 0, got %d", other.Offset)
	}
}

// TestMemoryStore_Read tests offset windows and max count
func TestMemoryStore_Read(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	appendN(t, store, "arm", 5)
	ctx := context.Background()

	tests := []struct {
		name      string
		start     int64
		max       int
		wantFirst int64
		wantLen   int
	}{
		{"from start", 0, 10, 0, 5},
		{"from middle", 2, 10, 2, 3},
		{"max count", 1, 2, 1, 2},
		{"past end", 9, 10, 0, 0},
		{"zero max", 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := store.Read(ctx, "arm", tt.start, tt.max)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if len(recs) != tt.wantLen {
				t.Fatalf("Expected %d records, got %d", tt.wantLen, len(recs))
			}
			if tt.wantLen > 0 && recs[0].Offset != tt.wantFirst {
				t.Errorf("Expected first offset %d, got %d", tt.wantFirst, recs[0].Offset)
			}
		})
	}

	if _, err := store.Read(ctx, "arm", -1, 1); !errors.Is(err, ErrNegativeOffset) {
		t.Errorf("Expected ErrNegativeOffset, got %v", err)
	}
	if _, err := store.Read(ctx, "arm", 0, -1); !errors.Is(err, ErrNegativeMaxCount) {
		t.Errorf("Expected ErrNegativeMaxCount, got %v", err)
	}
	recs, err := store.Read(ctx, "unknown", 0, 10)
	if err != nil || len(recs) != 0 {
		t.Errorf("Expected empty read of unknown target, got %d records, err %v", len(recs), err)
	}
}

// TestMemoryStore_Retention tests that old records are evicted but offsets keep counting
func TestMemoryStore_Retention(t *testing.T) {
	store := NewMemoryStore(3)
	defer store.Close()
	appendN(t, store, "arm", 5)
	ctx := context.Background()

	recs, err := store.Read(ctx, "arm", 0, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("Expected 3 retained records, got %d", len(recs))
	}
	if recs[0].Offset != 2 || recs[2].Offset != 4 {
		t.Errorf("Expected offsets 2..4, got %d..%d", recs[0].Offset, recs[2].Offset)
	}

	end, _ := store.EndOffset(ctx, "arm")
	if end != 5 {
		t.Errorf("Expected end offset 5, got %d", end)
	}

	recs, _ = store.Read(ctx, "arm", 3, 10)
	if len(recs) != 2 || recs[0].Offset != 3 {
		t.Errorf("Expected read from offset 3 to return 2 records starting at 3, got %v", recs)
	}
}

// TestMemoryStore_Replay tests channel replay and cancellation
func TestMemoryStore_Replay(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	appendN(t, store, "arm", 4)

	records, errs := store.Replay(context.Background(), "arm", 1)
	var offsets []int64
	for rec := range records {
		offsets = append(offsets, rec.Offset)
	}
	if err := <-errs; err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(offsets) != 3 || offsets[0] != 1 || offsets[2] != 3 {
		t.Errorf("Expected offsets [1 2 3], got %v", offsets)
	}

	ctx, cancel := context.WithCancel(context.Background())
	records, errs = store.Replay(ctx, "arm", 0)
	<-records
	cancel()
	for range records {
	}
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	records, errs = store.Replay(context.Background(), "arm", -1)
	for range records {
	}
	if err := <-errs; !errors.Is(err, ErrNegativeOffset) {
		t.Errorf("Expected ErrNegativeOffset, got %v", err)
	}
}

// TestMemoryStore_ConcurrentAppends tests offsets stay unique under contention
func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = store.Append(context.Background(), eventlog.NewRecord("arm", cell.LevelFine, "tick", ""))
			}
		}()
	}
	wg.Wait()

	recs, _ := store.Read(context.Background(), "arm", 0, 1000)
	if len(recs) != 200 {
		t.Fatalf("Expected 200 records, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec.Offset != int64(i) {
			t.Fatalf("Expected offset %d at index %d, got %d", i, i, rec.Offset)
		}
	}
}

// TestMemoryStore_Close tests that a closed store rejects operations
func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore(0)
	appendN(t, store, "arm", 1)

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Expected idempotent Close, got %v", err)
	}
	if _, err := store.Append(context.Background(), eventlog.NewRecord("arm", cell.LevelInfo, "x", "")); !errors.Is(err, meshErrors.ErrClosed) {
		t.Errorf("Expected ErrClosed from Append, got %v", err)
	}
	if _, err := store.Read(context.Background(), "arm", 0, 1); !errors.Is(err, meshErrors.ErrClosed) {
		t.Errorf("Expected ErrClosed from Read, got %v", err)
	}
}

// TestSink_AppendsUnderTarget tests the LogSink adapter
func TestSink_AppendsUnderTarget(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	sink := NewSink(store, "arm", nil)
	sink.Log(cell.LevelSevere, "overcurrent", "motor 3")

	recs, _ := store.Read(context.Background(), "arm", 0, 10)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if recs[0].Level != cell.LevelSevere || recs[0].Message != "overcurrent" || recs[0].Detail != "motor 3" {
		t.Errorf("Unexpected record %+v", recs[0])
	}

	store.Close()
	sink.Log(cell.LevelInfo, "dropped", "")
}
