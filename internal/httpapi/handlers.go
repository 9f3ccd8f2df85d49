package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/rmacdonaldsmith/robomesh/internal/bridge"
	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/internal/meshnode"
	"github.com/rmacdonaldsmith/robomesh/internal/rpc"
	"github.com/rmacdonaldsmith/robomesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
	maxBodyBytes    = 1 << 20
)

// Handlers contains the HTTP request handlers
type Handlers struct {
	node        *meshnode.Node
	jwtAuth     *JWTAuth
	adminSecret string
	config      Config
	logger      *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(node *meshnode.Node, jwtAuth *JWTAuth, config Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		node:        node,
		jwtAuth:     jwtAuth,
		adminSecret: config.AdminSecret,
		config:      config,
		logger:      logger,
	}
}

// Info handles GET /
func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, InfoResponse{Service: "robomesh", NodeID: h.node.NodeID(), Version: Version}, http.StatusOK)
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		writeError(w, "clientId is required", http.StatusBadRequest)
		return
	}

	isAdmin := false
	if req.AdminSecret != "" {
		if h.adminSecret == "" || req.AdminSecret != h.adminSecret {
			writeError(w, "Invalid admin secret", http.StatusUnauthorized)
			return
		}
		isAdmin = true
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.node.Health(r.Context())
	if err != nil {
		writeError(w, "Health check failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, status, code)
}

// Topics handles GET /api/v1/topics
func (h *Handlers) Topics(w http.ResponseWriter, r *http.Request) {
	infos := h.node.Topics()
	resp := TopicsResponse{
		NodeID:    h.node.NodeID(),
		Topics:    make([]TopicSummary, 0, len(infos)),
		Wildcards: h.node.WildcardCount(),
	}
	for _, info := range infos {
		resp.Topics = append(resp.Topics, TopicSummary{Topic: info.Topic, Listeners: info.Listeners})
	}
	writeJSON(w, resp, http.StatusOK)
}

// Links handles GET /api/v1/links
func (h *Handlers) Links(w http.ResponseWriter, r *http.Request) {
	links := h.node.Links()
	if links == nil {
		links = []string{}
	}
	peers := h.node.Connections()
	resp := LinksResponse{Links: links, Connections: make([]Connection, 0, len(peers))}
	for _, p := range peers {
		resp.Connections = append(resp.Connections, Connection{
			Name:          p.Name,
			RemoteAddress: p.RemoteAddress,
			Direction:     string(p.Direction),
			State:         p.State.String(),
			Transport:     p.Transport,
			ConnectedAt:   p.ConnectedAt,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

// Connect handles POST /api/v1/links
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Address == "" {
		writeError(w, "address is required", http.StatusBadRequest)
		return
	}

	info, err := h.node.Connect(r.Context(), req.Address, req.Name)
	if err != nil {
		h.logger.Warn("Connect request failed", "address", req.Address, "error", err)
		writeError(w, "Connect failed: "+err.Error(), statusFor(err, http.StatusBadGateway))
		return
	}
	writeJSON(w, Connection{
		Name:          info.Name,
		RemoteAddress: info.RemoteAddress,
		Direction:     string(info.Direction),
		State:         info.State.String(),
		Transport:     info.Transport,
		ConnectedAt:   info.ConnectedAt,
	}, http.StatusCreated)
}

// Disconnect handles DELETE /api/v1/links/{name}
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.node.Disconnect(name); err != nil {
		writeError(w, err.Error(), statusFor(err, http.StatusInternalServerError))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transmit handles POST /api/v1/transmit
func (h *Handlers) Transmit(w http.ResponseWriter, r *http.Request) {
	var req TransmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Destination == router.Broadcast && !IsAdmin(r) {
		writeError(w, "Broadcast requires admin privileges", http.StatusForbidden)
		return
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = []byte(req.Text)
	}
	source := req.Source
	if source == "" {
		source = GetClientID(r)
	}

	h.node.Transmit(req.Destination, source, payload)
	writeJSON(w, TransmitResponse{
		Destination: req.Destination,
		Bytes:       len(payload),
		Timestamp:   time.Now().UTC(),
	}, http.StatusAccepted)
}

// Logs handles GET /api/v1/logs/{target}?offset=N&limit=M
func (h *Handlers) Logs(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", defaultLogLimit)
	if err != nil || limit <= 0 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	limit = min(limit, maxLogLimit)

	store := h.node.LogStore()
	records, err := store.Read(r.Context(), target, offset, int(limit))
	if err != nil {
		writeError(w, "Failed to read logs: "+err.Error(), statusFor(err, http.StatusInternalServerError))
		return
	}
	end, err := store.EndOffset(r.Context(), target)
	if err != nil {
		writeError(w, "Failed to read logs: "+err.Error(), statusFor(err, http.StatusInternalServerError))
		return
	}
	if records == nil {
		records = []eventlog.Record{}
	}
	writeJSON(w, LogsResponse{
		Target:     target,
		Records:    records,
		NextOffset: nextOffset(records, offset),
		EndOffset:  end,
	}, http.StatusOK)
}

// StreamLogs handles GET /api/v1/logs/{target}/stream as server-sent events.
// Records from offset are replayed, then new ones follow as they arrive.
func (h *Handlers) StreamLogs(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": streaming %s from offset %d\n\n", target, offset)
	if err := rc.Flush(); err != nil {
		h.logger.Debug("Streaming unsupported", "error", err)
		return
	}

	ctx := r.Context()
	poll := time.NewTicker(h.config.PollInterval)
	defer poll.Stop()
	keepalive := time.NewTicker(h.config.KeepAliveInterval)
	defer keepalive.Stop()

	for {
		next, err := h.replay(ctx, w, target, offset)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Log stream ended", "target", target, "error", err)
				fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
				_ = rc.Flush()
			}
			return
		}
		if next != offset {
			offset = next
			if err := rc.Flush(); err != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}

// replay writes every stored record of target from offset as an SSE
// message and returns the offset after the last one written.
func (h *Handlers) replay(ctx context.Context, w http.ResponseWriter, target string, offset int64) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	records, errs := h.node.LogStore().Replay(ctx, target, offset)
	for rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return offset, err
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: record\ndata: %s\n\n", rec.Offset, data); err != nil {
			return offset, err
		}
		offset = rec.Offset + 1
	}
	if err := <-errs; err != nil {
		return offset, err
	}
	return offset, nil
}

// Discover handles GET /api/v1/discover/{peer...}
func (h *Handlers) Discover(w http.ResponseWriter, r *http.Request) {
	peer := r.PathValue("peer")
	if peer == "" {
		writeError(w, "peer is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RequestTimeout)
	defer cancel()
	topics, err := h.node.Discover(ctx, peer)
	if err != nil {
		writeError(w, "Discovery failed: "+err.Error(), statusFor(err, http.StatusBadGateway))
		return
	}
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, DiscoverResponse{Peer: peer, Topics: topics}, http.StatusOK)
}

// Ping handles POST /api/v1/ping
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	var req PingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, "path is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RequestTimeout)
	defer cancel()
	start := time.Now()
	tag, err := h.node.Ping(ctx, req.Path)
	if err != nil {
		writeError(w, "Ping failed: "+err.Error(), statusFor(err, http.StatusBadGateway))
		return
	}
	writeJSON(w, PingResponse{
		Path:    req.Path,
		Tag:     tag,
		RTT:     time.Since(start),
		Message: "pong",
	}, http.StatusOK)
}

// Query handles POST /api/v1/rpc/query
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Device == "" {
		writeError(w, "device is required", http.StatusBadRequest)
		return
	}

	entries, err := h.node.RPC().Query(r.Context(), req.Peer, req.Device)
	if err != nil {
		writeError(w, "Query failed: "+err.Error(), statusFor(err, http.StatusBadGateway))
		return
	}
	resp := QueryResponse{Peer: req.Peer, Device: req.Device, Entries: make([]QueryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, QueryEntry{Type: e.Type, Contents: e.Contents})
	}
	writeJSON(w, resp, http.StatusOK)
}

// Signal handles POST /api/v1/rpc/signal
func (h *Handlers) Signal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Device == "" {
		writeError(w, "device is required", http.StatusBadRequest)
		return
	}

	outcome, err := h.node.RPC().Signal(r.Context(), req.Peer, req.Device, req.Field, req.Data)
	if err != nil {
		writeError(w, "Signal failed: "+err.Error(), statusFor(err, http.StatusBadGateway))
		return
	}
	writeJSON(w, SignalResponse{
		Peer:    req.Peer,
		Device:  req.Device,
		Field:   req.Field,
		Outcome: outcome.String(),
	}, http.StatusOK)
}

// Stats handles GET /api/v1/admin/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	logs, err := h.node.LogStore().Statistics(r.Context())
	if err != nil {
		writeError(w, "Failed to get statistics: "+err.Error(), statusFor(err, http.StatusInternalServerError))
		return
	}
	health, err := h.node.Health(r.Context())
	if err != nil {
		writeError(w, "Failed to get health: "+err.Error(), http.StatusInternalServerError)
		return
	}
	provided := h.node.Directory().Topics()
	if provided == nil {
		provided = []string{}
	}
	writeJSON(w, StatsResponse{
		NodeID:      h.node.NodeID(),
		Format:      h.node.Bridge().Format().Name(),
		Links:       health.Links,
		Connections: health.Connections,
		Topics:      health.Topics,
		Wildcards:   h.node.WildcardCount(),
		Provided:    provided,
		Logs:        logs,
		Health:      health,
	}, http.StatusOK)
}

// BridgeRecords handles GET /api/v1/admin/bridge
func (h *Handlers) BridgeRecords(w http.ResponseWriter, r *http.Request) {
	infos := h.node.Bridge().Records()
	records := make([]BridgeRecord, 0, len(infos))
	for _, info := range infos {
		records = append(records, BridgeRecord{
			Topic: info.Topic,
			Role:  info.Role,
			Peers: info.Peers,
			Sent:  info.Sent,
		})
	}
	writeJSON(w, records, http.StatusOK)
}

// decode validates the content type and decodes a JSON body into v,
// writing the error response itself when it fails.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func validateJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("Content-Type must be application/json")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func nextOffset(records []eventlog.Record, offset int64) int64 {
	if len(records) == 0 {
		return offset
	}
	return records[len(records)-1].Offset + 1
}

// statusFor maps node errors onto HTTP status codes
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, meshErrors.ErrUnknownLink), errors.Is(err, bridge.ErrNacked):
		return http.StatusNotFound
	case errors.Is(err, meshErrors.ErrNotStarted), errors.Is(err, meshErrors.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, rpc.ErrTimeout):
		return http.StatusGatewayTimeout
	case meshErrors.IsProtocol(err):
		return http.StatusBadGateway
	default:
		return fallback
	}
}
