package eventlog

import (
	"context"
	"testing"

	"github.com/rmacdonaldsmith/robomesh/pkg/cell"
	"github.com/rmacdonaldsmith/robomesh/pkg/eventlog"
)

func TestMemoryStore_Statistics(t *testing.T) {
	t.Run("empty store returns zero statistics", func(t *testing.T) {
		store := NewMemoryStore(0)
		defer store.Close()

		stats, err := store.Statistics(context.Background())
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if stats.TotalRecords != 0 {
			t.Errorf("Expected 0 total records, got %d", stats.TotalRecords)
		}
		if stats.TargetCount != 0 {
			t.Errorf("Expected 0 targets, got %d", stats.TargetCount)
		}
	})

	t.Run("counts survive retention", func(t *testing.T) {
		store := NewMemoryStore(1)
		defer store.Close()
		ctx := context.Background()

		for _, rec := range []eventlog.Record{
			eventlog.NewRecord("arm", cell.LevelInfo, "a", ""),
			eventlog.NewRecord("arm", cell.LevelWarning, "b", ""),
			eventlog.NewRecord("drive", cell.LevelWarning, "c", ""),
		} {
			if _, err := store.Append(ctx, rec); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		stats, err := store.Statistics(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if stats.TotalRecords != 3 {
			t.Errorf("Expected 3 total records, got %d", stats.TotalRecords)
		}
		if stats.TargetCount != 2 {
			t.Errorf("Expected 2 targets, got %d", stats.TargetCount)
		}
		if stats.TargetCounts["arm"] != 2 {
			t.Errorf("Expected 2 arm records, got %d", stats.TargetCounts["arm"])
		}
		if stats.LevelCounts["WARNING"] != 2 {
			t.Errorf("Expected 2 warnings, got %d", stats.LevelCounts["WARNING"])
		}
	})

	t.Run("closed store returns error", func(t *testing.T) {
		store := NewMemoryStore(0)
		store.Close()

		if _, err := store.Statistics(context.Background()); err == nil {
			t.Error("Expected error for closed store, got nil")
		}
	})
}
