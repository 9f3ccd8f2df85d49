package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/robomesh/internal/meshnode"
)

const (
	testSecret      = "test-secret-key"
	testAdminSecret = "test-admin-secret"
)

// testSetup is a started node behind a live HTTP API
type testSetup struct {
	Node   *meshnode.Node
	Server *Server
	HTTP   *httptest.Server
}

func newTestSetup(t *testing.T) *testSetup {
	t.Helper()
	return newTestSetupWith(t, "robot", Config{})
}

func newTestSetupWith(t *testing.T, nodeID string, config Config) *testSetup {
	t.Helper()

	node, err := meshnode.NewNode(meshnode.NewConfig(nodeID, "127.0.0.1:0"))
	require.NoError(t, err)
	require.NoError(t, node.Start(context.Background()))

	config.SecretKey = testSecret
	config.AdminSecret = testAdminSecret
	server := NewServer(node, config, nil)
	srv := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		srv.Close()
		_ = node.Close()
	})
	return &testSetup{Node: node, Server: server, HTTP: srv}
}

func (s *testSetup) token(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()
	token, _, err := s.Server.jwtAuth.GenerateToken(clientID, isAdmin)
	require.NoError(t, err)
	return token
}

// do sends a request with an optional JSON body and bearer token
func (s *testSetup) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.HTTP.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.HTTP.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
