package httpapi

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/robomesh/pkg/cell"
	"github.com/rmacdonaldsmith/robomesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/robomesh/pkg/meshnode"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func TestServer_InfoAndHealth(t *testing.T) {
	s := newTestSetup(t)

	resp := s.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[InfoResponse](t, resp)
	assert.Equal(t, "robomesh", info.Service)
	assert.Equal(t, "robot", info.NodeID)

	resp = s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[meshnode.HealthStatus](t, resp)
	assert.True(t, health.Healthy)
	assert.Equal(t, "running", health.Message)

	require.NoError(t, s.Node.Stop(context.Background()))
	resp = s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_UnknownRouteAndMethod(t *testing.T) {
	s := newTestSetup(t)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/nope", "", nil).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(t, http.MethodPut, "/api/v1/health", "", nil).StatusCode)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestSetup(t)

	resp := s.do(t, http.MethodOptions, "/api/v1/topics", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_Login(t *testing.T) {
	s := newTestSetup(t)

	tests := []struct {
		name    string
		body    any
		status  int
		isAdmin bool
	}{
		{name: "client", body: AuthRequest{ClientID: "dashboard"}, status: http.StatusOK},
		{name: "admin", body: AuthRequest{ClientID: "ops", AdminSecret: testAdminSecret}, status: http.StatusOK, isAdmin: true},
		{name: "wrong admin secret", body: AuthRequest{ClientID: "ops", AdminSecret: "guess"}, status: http.StatusUnauthorized},
		{name: "missing client", body: AuthRequest{}, status: http.StatusBadRequest},
		{name: "unknown field", body: map[string]string{"clientId": "x", "role": "admin"}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusOK {
				e := decodeBody[ErrorResponse](t, resp)
				assert.Equal(t, tt.status, e.Code)
				return
			}
			auth := decodeBody[AuthResponse](t, resp)
			assert.Equal(t, tt.isAdmin, auth.IsAdmin)
			claims, err := s.Server.jwtAuth.ValidateToken(auth.Token)
			require.NoError(t, err)
			assert.Equal(t, tt.isAdmin, claims.IsAdmin)
		})
	}
}

func TestServer_LoginRequiresJSON(t *testing.T) {
	s := newTestSetup(t)

	resp, err := s.HTTP.Client().Post(s.HTTP.URL+"/api/v1/auth/login", "text/plain", strings.NewReader(`{"clientId":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_AuthRequired(t *testing.T) {
	s := newTestSetup(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/topics", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/topics", "garbage", nil).StatusCode)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/topics", s.token(t, "dashboard", false), nil).StatusCode)

	client := s.token(t, "dashboard", false)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/admin/stats", client, nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/v1/links", client, ConnectRequest{Address: "127.0.0.1:1"}).StatusCode)
}

func TestServer_NoAuthModeKeepsAdminProtected(t *testing.T) {
	s := newTestSetupWith(t, "robot", Config{NoAuth: true})

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/topics", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/admin/stats", "", nil).StatusCode)
}

func TestServer_Topics(t *testing.T) {
	s := newTestSetup(t)
	require.NoError(t, s.Node.PublishLogTarget("arm"))
	require.NoError(t, s.Node.Router().Subscribe("", router.NewListener(func(router.Message) {})))

	resp := s.do(t, http.MethodGet, "/api/v1/topics", s.token(t, "dashboard", false), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	topics := decodeBody[TopicsResponse](t, resp)

	assert.Equal(t, "robot", topics.NodeID)
	var names []string
	for _, topic := range topics.Topics {
		names = append(names, topic.Topic)
	}
	assert.Contains(t, names, "LT:arm")
	assert.GreaterOrEqual(t, topics.Wildcards, 1)
}

func TestServer_Transmit(t *testing.T) {
	s := newTestSetup(t)

	var mu sync.Mutex
	var got []router.Message
	require.NoError(t, s.Node.Router().Subscribe("status", router.NewListener(func(msg router.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
	})))

	client := s.token(t, "dashboard", false)
	resp := s.do(t, http.MethodPost, "/api/v1/transmit", client, TransmitRequest{Destination: "status", Text: "ok"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 2, decodeBody[TransmitResponse](t, resp).Bytes)

	resp = s.do(t, http.MethodPost, "/api/v1/transmit", client, TransmitRequest{Destination: "status", Source: "panel", Payload: []byte{1, 2, 3}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, waitFor, tick)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "dashboard", got[0].Source, "source defaults to the client")
	assert.Equal(t, []byte("ok"), got[0].Payload)
	assert.Equal(t, "panel", got[1].Source)
	assert.Equal(t, []byte{1, 2, 3}, got[1].Payload)
}

func TestServer_BroadcastNeedsAdmin(t *testing.T) {
	s := newTestSetup(t)

	resp := s.do(t, http.MethodPost, "/api/v1/transmit", s.token(t, "dashboard", false), TransmitRequest{Destination: router.Broadcast})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/transmit", s.token(t, "ops", true), TransmitRequest{Destination: router.Broadcast})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func appendRecords(t *testing.T, store eventlog.Store, target string, messages ...string) {
	t.Helper()
	for _, m := range messages {
		_, err := store.Append(context.Background(), eventlog.NewRecord(target, cell.LevelInfo, m, ""))
		require.NoError(t, err)
	}
}

func TestServer_Logs(t *testing.T) {
	s := newTestSetup(t)
	appendRecords(t, s.Node.LogStore(), "arm", "one", "two", "three")
	client := s.token(t, "dashboard", false)

	resp := s.do(t, http.MethodGet, "/api/v1/logs/arm?offset=1&limit=1", client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decodeBody[LogsResponse](t, resp)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "two", page.Records[0].Message)
	assert.Equal(t, "INFO", page.Records[0].LevelName)
	assert.Equal(t, int64(2), page.NextOffset)
	assert.Equal(t, int64(3), page.EndOffset)

	resp = s.do(t, http.MethodGet, "/api/v1/logs/unknown", client, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decodeBody[LogsResponse](t, resp)
	assert.Empty(t, page.Records)
	assert.Equal(t, int64(0), page.EndOffset)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/logs/arm?offset=-1", client, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/logs/arm?limit=zero", client, nil).StatusCode)
}

func TestServer_StreamLogs(t *testing.T) {
	s := newTestSetup(t)
	appendRecords(t, s.Node.LogStore(), "arm", "one", "two")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.HTTP.URL+"/api/v1/logs/arm/stream?offset=1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "dashboard", false))

	resp, err := s.HTTP.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	next := func() string {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream ended early")
				if strings.HasPrefix(line, "data: ") {
					return line
				}
			case <-time.After(waitFor):
				t.Fatal("timed out waiting for a record")
			}
		}
	}

	assert.Contains(t, next(), `"message":"two"`, "replay starts at the requested offset")

	appendRecords(t, s.Node.LogStore(), "arm", "three")
	assert.Contains(t, next(), `"message":"three"`, "new records follow the replay")

	cancel()
	for range lines {
	}
}

func TestServer_PingAndStats(t *testing.T) {
	s := newTestSetup(t)
	require.NoError(t, s.Node.PublishLogTarget("arm"))
	appendRecords(t, s.Node.LogStore(), "arm", "one")

	resp := s.do(t, http.MethodPost, "/api/v1/ping", s.token(t, "dashboard", false), PingRequest{Path: "LT:arm"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", decodeBody[PingResponse](t, resp).Message)

	admin := s.token(t, "ops", true)
	resp = s.do(t, http.MethodGet, "/api/v1/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[StatsResponse](t, resp)
	assert.Equal(t, "robot", stats.NodeID)
	assert.Contains(t, stats.Provided, "LT:arm")
	assert.Equal(t, int64(1), stats.Logs.TotalRecords)
	assert.True(t, stats.Health.Healthy)

	resp = s.do(t, http.MethodGet, "/api/v1/admin/bridge", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decodeBody[[]BridgeRecord](t, resp)
	var topics []string
	for _, r := range records {
		topics = append(topics, r.Topic)
	}
	assert.Contains(t, topics, "LT:arm")
}

func TestServer_LinksLifecycle(t *testing.T) {
	robot := newTestSetup(t)
	driver := newTestSetupWith(t, "driver", Config{})
	admin := driver.token(t, "ops", true)

	resp := driver.do(t, http.MethodPost, "/api/v1/links", admin, ConnectRequest{Address: robot.Node.Addr().String(), Name: "robot"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	conn := decodeBody[Connection](t, resp)
	assert.Equal(t, "robot", conn.Name)
	assert.Equal(t, "outbound", conn.Direction)

	resp = driver.do(t, http.MethodGet, "/api/v1/links", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	links := decodeBody[LinksResponse](t, resp)
	assert.Contains(t, links.Links, "robot")
	require.Len(t, links.Connections, 1)

	require.NoError(t, robot.Node.PublishLogTarget("arm"))
	resp = driver.do(t, http.MethodGet, "/api/v1/discover/robot", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decodeBody[DiscoverResponse](t, resp).Topics, "LT:arm")

	resp = driver.do(t, http.MethodDelete, "/api/v1/links/robot", admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = driver.do(t, http.MethodDelete, "/api/v1/links/robot", admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Eventually(t, func() bool { return len(robot.Node.Connections()) == 0 }, waitFor, tick)
}

func TestServer_ConnectFailure(t *testing.T) {
	s := newTestSetup(t)
	admin := s.token(t, "ops", true)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/links", admin, ConnectRequest{}).StatusCode)
	assert.Equal(t, http.StatusBadGateway, s.do(t, http.MethodPost, "/api/v1/links", admin, ConnectRequest{Address: "127.0.0.1:1"}).StatusCode)
}

func TestServer_WebsocketLinkEndpoint(t *testing.T) {
	robot := newTestSetup(t)
	driver := newTestSetupWith(t, "driver", Config{})

	url := "ws" + strings.TrimPrefix(robot.HTTP.URL, "http") + "/api/v1/link"
	info, err := driver.Node.Connect(context.Background(), url, "robot")
	require.NoError(t, err)
	assert.Equal(t, "websocket", info.Transport)

	require.Eventually(t, func() bool { return len(robot.Node.Connections()) == 1 }, waitFor, tick)
	assert.Equal(t, "driver", robot.Node.Connections()[0].Name)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestSetup(t)
	s.do(t, http.MethodGet, "/api/v1/health", "", nil)

	resp := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "robomesh_http_requests_total")
	assert.Contains(t, string(body), "robomesh_link_connections")
}
