package httpclient

import (
	"fmt"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of a node's HTTP API (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// AdminSecret requests an admin token when set
	AdminSecret string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries for GET requests that fail with a transport error or 5xx
	MaxRetries int

	// RetryDelay is the initial pause between retries; it doubles each attempt
	RetryDelay time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HealthResponse is a node's health report
type HealthResponse struct {
	Healthy           bool   `json:"healthy"`
	RouterHealthy     bool   `json:"routerHealthy"`
	ConnectionHealthy bool   `json:"connectionHealthy"`
	LogStoreHealthy   bool   `json:"logStoreHealthy"`
	Links             int    `json:"links"`
	Connections       int    `json:"connections"`
	Topics            int    `json:"topics"`
	Message           string `json:"message"`
}

// TopicSummary is one topic with local listeners
type TopicSummary struct {
	Topic     string `json:"topic"`
	Listeners int    `json:"listeners"`
}

// TopicsResponse lists a node's topic table
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

// ConnectRequest asks a node to dial a peer
type ConnectRequest struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// TransmitRequest injects a message into a node's router
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

// LogRecord is one stored log record
type LogRecord struct {
	Offset    int64     `json:"offset"`
	Target    string    `json:"target"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogsResponse is a page of stored log records
type LogsResponse struct {
	Target     string      `json:"target"`
	Records    []LogRecord `json:"records"`
	NextOffset int64       `json:"nextOffset"`
	EndOffset  int64       `json:"endOffset"`
}

// DiscoverResponse lists the topics a peer provides
type DiscoverResponse struct {
	Peer   string   `json:"peer"`
	Topics []string `json:"topics"`
}

// PingResponse reports a ping round trip
type PingResponse struct {
	Path    string        `json:"path"`
	Tag     byte          `json:"tag"`
	RTT     time.Duration `json:"rttNanos"`
	Message string        `json:"message"`
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

// LogStatistics summarises a node's log store
type LogStatistics struct {
	TotalRecords int64            `json:"totalRecords"`
	TargetCounts map[string]int64 `json:"targetCounts"`
	LevelCounts  map[string]int64 `json:"levelCounts"`
	TargetCount  int              `json:"targetCount"`
}

// StatsResponse summarises a node for administrators
type StatsResponse struct {
	NodeID      string         `json:"nodeId"`
	Format      string         `json:"format"`
	Links       int            `json:"links"`
	Connections int            `json:"connections"`
	Topics      int            `json:"topics"`
	Wildcards   int            `json:"wildcards"`
	Provided    []string       `json:"provided"`
	Logs        LogStatistics  `json:"logs"`
	Health      HealthResponse `json:"health"`
}

// BridgeRecord describes one typed topic a node's bridge holds
type BridgeRecord struct {
	Topic string   `json:"topic"`
	Role  string   `json:"role"`
	Peers []string `json:"peers,omitempty"`
	Sent  bool     `json:"sent"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// APIError is returned for non-2xx responses
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
