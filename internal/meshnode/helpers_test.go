package meshnode

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
)

// newLinkServer serves node's websocket link endpoint and returns its ws:// URL
func newLinkServer(t *testing.T, node *Node) string {
	t.Helper()
	srv := httptest.NewServer(node.LinkHandler())
	t.Cleanup(func() {
		_ = node.Stop(context.Background())
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}
