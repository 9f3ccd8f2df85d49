package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StreamClient follows a log target over server-sent events
type StreamClient struct {
	client  *Client
	records chan LogRecord
	errors  chan error
	done    chan struct{}
	cancel  context.CancelFunc

	// next is the offset to resume from after a reconnect. Only the
	// streaming goroutine touches it.
	next int64
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// Target is the log target to follow
	Target string

	// Offset is the first record to deliver
	Offset int64

	// BufferSize for the record channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// StreamLogs replays target from config.Offset and then follows new
// records. Reconnects resume after the last delivered record.
func (c *Client) StreamLogs(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, errNotAuthenticated
	}
	if config.Target == "" {
		return nil, fmt.Errorf("target is required")
	}
	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)
	sc := &StreamClient{
		client:  c,
		records: make(chan LogRecord, config.BufferSize),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		cancel:  cancel,
		next:    config.Offset,
	}
	go sc.startStreaming(streamCtx, config)
	return sc, nil
}

// Records returns the channel for receiving records
func (sc *StreamClient) Records() <-chan LogRecord {
	return sc.records
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and waits for it to finish
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

func (sc *StreamClient) report(ctx context.Context, err error) {
	select {
	case sc.errors <- err:
	case <-ctx.Done():
	default:
	}
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.errors)
	defer close(sc.records)

	attempts := 0
	for {
		if err := sc.connectAndStream(ctx, config.Target); err != nil && ctx.Err() == nil {
			sc.report(ctx, fmt.Errorf("streaming error: %w", err))
		}
		if ctx.Err() != nil {
			return
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			sc.report(ctx, fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts))
			return
		}
		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream opens the stream at the resume offset and delivers
// records until it ends
func (sc *StreamClient) connectAndStream(ctx context.Context, target string) error {
	streamURL := sc.client.baseURL.ResolveReference(&url.URL{
		Path:     "/api/v1/logs/" + url.PathEscape(target) + "/stream",
		RawQuery: url.Values{"offset": {strconv.FormatInt(sc.next, 10)}}.Encode(),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// Streams are long lived, so the client's request timeout does not apply.
	httpClient := *sc.client.httpClient
	httpClient.Timeout = 0

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
	}
	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads and parses server-sent events
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if event == "error" {
				return fmt.Errorf("server ended stream: %s", data)
			}
			var rec LogRecord
			if err := json.Unmarshal([]byte(data), &rec); err != nil {
				sc.report(ctx, fmt.Errorf("failed to parse record: %w", err))
				continue
			}
			select {
			case sc.records <- rec:
				sc.next = rec.Offset + 1
			case <-ctx.Done():
				return ctx.Err()
			}
		case line == "":
			event = ""
		}
		// Comments (keepalives) and id: lines need no handling.
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}
