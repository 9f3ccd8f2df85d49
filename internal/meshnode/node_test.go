package meshnode

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestNewNode_Validation tests construction errors
func TestNewNode_Validation(t *testing.T) {
	if _, err := NewNode(nil); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := NewNode(NewConfig("", "")); !errors.Is(err, ErrEmptyNodeID) {
		t.Errorf("Expected ErrEmptyNodeID, got %v", err)
	}
}

// TestNode_StartStopClose tests the lifecycle methods
func TestNode_StartStopClose(t *testing.T) {
	node, err := NewNode(NewConfig("robot", "127.0.0.1:0"))
	if err != nil {
		t.Fatalf("Expected no error creating node, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, _ := node.Health(ctx)
	if health.Healthy || health.Message != "stopped" {
		t.Errorf("Expected unstarted node to report stopped, got %+v", health)
	}
	if node.Addr() != nil {
		t.Error("Expected no listening address before Start")
	}

	if err := node.Start(ctx); err != nil {
		t.Fatalf("Expected no error starting node, got %v", err)
	}
	if err := node.Start(ctx); err != nil {
		t.Errorf("Expected no error from idempotent Start(), got %v", err)
	}
	if node.Addr() == nil {
		t.Fatal("Expected listening address after Start")
	}

	health, _ = node.Health(ctx)
	if !health.Healthy || health.Message != "running" {
		t.Errorf("Expected running node to be healthy, got %+v", health)
	}

	if err := node.Stop(ctx); err != nil {
		t.Fatalf("Expected no error stopping node, got %v", err)
	}
	if err := node.Stop(ctx); err != nil {
		t.Errorf("Expected no error from idempotent Stop(), got %v", err)
	}
	if _, err := node.Connect(ctx, "127.0.0.1:1", "x"); !errors.Is(err, meshErrors.ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted from Connect on stopped node, got %v", err)
	}

	// A stopped node can be started again
	if err := node.Start(ctx); err != nil {
		t.Fatalf("Expected restart to succeed, got %v", err)
	}

	if err := node.Close(); err != nil {
		t.Fatalf("Expected no error closing node, got %v", err)
	}
	if err := node.Close(); err != nil {
		t.Errorf("Expected no error from idempotent Close(), got %v", err)
	}

	health, _ = node.Health(ctx)
	if health.Healthy || health.Message != "closed" {
		t.Errorf("Expected closed node to report closed, got %+v", health)
	}
	if err := node.Start(ctx); !errors.Is(err, meshErrors.ErrClosed) {
		t.Errorf("Expected ErrClosed starting closed node, got %v", err)
	}
}

// TestNode_HealthServer tests the gRPC health server follows the lifecycle
func TestNode_HealthServer(t *testing.T) {
	node, err := NewNode(NewConfig("robot", "").WithHealthAddress("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	defer node.Close()

	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	node.mu.RLock()
	hs := node.health
	node.mu.RUnlock()
	if hs == nil || hs.Addr() == nil {
		t.Fatal("Expected health server to be listening")
	}

	if err := node.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	node.mu.RLock()
	hs = node.health
	node.mu.RUnlock()
	if hs != nil {
		t.Error("Expected health server to be dropped on Stop")
	}
}

// TestNode_UnreachablePeerDoesNotFailStart tests that configured peers are best effort
func TestNode_UnreachablePeerDoesNotFailStart(t *testing.T) {
	config := NewConfig("driver", "").
		WithPeers([]string{"robot=127.0.0.1:1"}).
		WithPeerLinkConfig(nil)
	node, err := NewNode(config)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	defer node.Close()

	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("Expected Start to succeed despite unreachable peer, got %v", err)
	}
	if len(node.Connections()) != 0 {
		t.Errorf("Expected no connections, got %d", len(node.Connections()))
	}
}
