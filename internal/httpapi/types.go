package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/robomesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/robomesh/pkg/meshnode"
)

// AuthRequest represents a token request
type AuthRequest struct {
	ClientID string `json:"clientId"`
	// AdminSecret grants an admin token when it matches the server's
	AdminSecret string `json:"adminSecret,omitempty"`
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TopicSummary is one topic with local listeners
type TopicSummary struct {
	Topic     string `json:"topic"`
	Listeners int    `json:"listeners"`
}

// TopicsResponse lists the node's topic table
type TopicsResponse struct {
	NodeID    string         `json:"nodeId"`
	Topics    []TopicSummary `json:"topics"`
	Wildcards int            `json:"wildcards"`
}

// Connection describes one live peer connection
type Connection struct {
	Name          string    `json:"name"`
	RemoteAddress string    `json:"remoteAddress"`
	Direction     string    `json:"direction"`
	State         string    `json:"state"`
	Transport     string    `json:"transport"`
	ConnectedAt   time.Time `json:"connectedAt"`
}

// LinksResponse lists attached links and the connections behind them
type LinksResponse struct {
	Links       []string     `json:"links"`
	Connections []Connection `json:"connections"`
}

// ConnectRequest asks the node to dial a peer
type ConnectRequest struct {
	// Address is host:port or a ws:// URL
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// TransmitRequest injects a message into the router.
// Payload is base64 in JSON; Text is used when Payload is empty.
type TransmitRequest struct {
	Destination string `json:"destination"`
	Source      string `json:"source,omitempty"`
	Payload     []byte `json:"payload,omitempty"`
	Text        string `json:"text,omitempty"`
}

// TransmitResponse acknowledges a transmitted message
type TransmitResponse struct {
	Destination string    `json:"destination"`
	Bytes       int       `json:"bytes"`
	Timestamp   time.Time `json:"timestamp"`
}

// LogsResponse is a page of stored log records
type LogsResponse struct {
	Target     string            `json:"target"`
	Records    []eventlog.Record `json:"records"`
	NextOffset int64             `json:"nextOffset"`
	EndOffset  int64             `json:"endOffset"`
}

// DiscoverResponse lists the topics a peer provides
type DiscoverResponse struct {
	Peer   string   `json:"peer"`
	Topics []string `json:"topics"`
}

// PingRequest probes a path through the bridge
type PingRequest struct {
	Path string `json:"path"`
}

// PingResponse reports a ping round trip
type PingResponse struct {
	Path    string        `json:"path"`
	Tag     byte          `json:"tag"`
	RTT     time.Duration `json:"rttNanos"`
	Message string        `json:"message"`
}

// QueryRequest describes a remote device
type QueryRequest struct {
	Peer   string `json:"peer"`
	Device string `json:"device"`
}

// QueryEntry is one entry of a device description
type QueryEntry struct {
	Type     byte   `json:"type"`
	Contents []byte `json:"contents"`
}

// QueryResponse is a remote device description
type QueryResponse struct {
	Peer    string       `json:"peer"`
	Device  string       `json:"device"`
	Entries []QueryEntry `json:"entries"`
}

// SignalRequest applies data to a field of a remote device
type SignalRequest struct {
	Peer   string `json:"peer"`
	Device string `json:"device"`
	Field  uint16 `json:"field"`
	Data   []byte `json:"data,omitempty"`
}

// SignalResponse reports how a signal ended
type SignalResponse struct {
	Peer    string `json:"peer"`
	Device  string `json:"device"`
	Field   uint16 `json:"field"`
	Outcome string `json:"outcome"`
}

// BridgeRecord describes one typed topic the bridge holds
type BridgeRecord struct {
	Topic string   `json:"topic"`
	Role  string   `json:"role"`
	Peers []string `json:"peers,omitempty"`
	Sent  bool     `json:"sent"`
}

// StatsResponse summarises the node for administrators
type StatsResponse struct {
	NodeID      string                `json:"nodeId"`
	Format      string                `json:"format"`
	Links       int                   `json:"links"`
	Connections int                   `json:"connections"`
	Topics      int                   `json:"topics"`
	Wildcards   int                   `json:"wildcards"`
	Provided    []string              `json:"provided"`
	Logs        eventlog.Statistics   `json:"logs"`
	Health      meshnode.HealthStatus `json:"health"`
}

// InfoResponse is served at the API root
type InfoResponse struct {
	Service string `json:"service"`
	NodeID  string `json:"nodeId"`
	Version string `json:"version"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
