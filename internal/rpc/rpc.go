// Package rpc layers request/response on bridged byte-sink topics. A device
// named N answers queries on N-rpcq and signals on N-rpcs.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/robomesh/internal/bridge"
	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

const (
	// DefaultTimeout bounds a caller's wait for a response
	DefaultTimeout = 2 * time.Second
	// DefaultSignalTimeout bounds how long a device may take to apply a signal
	DefaultSignalTimeout = time.Second
)

// ErrTimeout is returned when a query gets no response in time
var ErrTimeout = errors.New("rpc timed out")

// Device is a remotely configurable object
type Device interface {
	// Query describes the device
	Query() []Entry
	// Signal applies data to field, reporting success
	Signal(ctx context.Context, field uint16, data []byte) bool
}

// SignalOutcome is the result of a signal call. A timeout means success
// could not be determined and is distinct from a reported failure.
type SignalOutcome int

const (
	SignalSucceeded SignalOutcome = iota
	SignalFailed
	SignalTimedOut
)

func (o SignalOutcome) String() string {
	switch o {
	case SignalSucceeded:
		return "succeeded"
	case SignalFailed:
		return "failed"
	case SignalTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Config holds rpc timeouts
type Config struct {
	Timeout       time.Duration
	SignalTimeout time.Duration
}

// SetDefaults fills unset timeouts
func (c *Config) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = DefaultSignalTimeout
	}
}

// Server answers queries and signals for published devices
type Server struct {
	b      *bridge.Bridge
	config Config
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewServer creates a device server on b
func NewServer(b *bridge.Bridge, config Config, logger *slog.Logger) *Server {
	config.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{b: b, config: config, logger: logger.With("component", "rpc")}
}

// Publish exposes d as name-rpcq and name-rpcs
func (s *Server) Publish(name string, d Device) error {
	query := name + bridge.SuffixQuery
	signal := name + bridge.SuffixSignal

	if err := s.b.HandleChunks(query, func(source string, _ []byte) {
		if source == "" {
			s.logger.Warn("Query without a source", "device", name)
			return
		}
		resp, err := EncodeEntries(d.Query())
		if err != nil {
			s.logger.Error("Encoding query response", "device", name, "error", err)
			return
		}
		s.b.SendChunk(source, query, resp)
	}); err != nil {
		return err
	}

	return s.b.HandleChunks(signal, func(source string, data []byte) {
		field, value, err := DecodeSignal(data)
		if err != nil {
			s.logger.Warn("Dropping signal", "device", name, "error", meshErrors.WrapDecode(err, "rpc", "Signal"))
			return
		}
		value = append([]byte(nil), value...)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.applySignal(name, signal, source, d, field, value)
		}()
	})
}

// applySignal runs the device's signal under the signal timeout. On timeout
// nothing is sent, so the caller observes SignalTimedOut.
func (s *Server) applySignal(name, topic, source string, d Device, field uint16, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.SignalTimeout)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		result <- d.Signal(ctx, field, value)
	}()

	select {
	case ok := <-result:
		if source == "" {
			return
		}
		status := byte(0)
		if ok {
			status = 1
		}
		s.b.SendChunk(source, topic, []byte{status})
	case <-ctx.Done():
		s.logger.Warn("Signal timed out; not responding", "device", name, "field", field)
	}
}

// Close waits for in-flight signals
func (s *Server) Close() {
	s.wg.Wait()
}

// Client calls devices on remote routers
type Client struct {
	b      *bridge.Bridge
	config Config
	logger *slog.Logger
}

// NewClient creates a device caller on b
func NewClient(b *bridge.Bridge, config Config, logger *slog.Logger) *Client {
	config.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{b: b, config: config, logger: logger.With("component", "rpc")}
}

type reply struct {
	kind bridge.Kind
	body []byte
}

// call sends data to dest and waits for one reply. Only the configured
// timeout yields ErrTimeout; the caller's own cancellation or deadline is
// returned as is.
func (c *Client) call(parent context.Context, dest string, data []byte) (reply, error) {
	ctx, cancel := context.WithTimeout(parent, c.config.Timeout)
	defer cancel()

	ch := make(chan reply, 1)
	r, err := c.b.OpenReply(func(k bridge.Kind, body []byte) {
		select {
		case ch <- reply{kind: k, body: append([]byte(nil), body...)}:
		default:
		}
	})
	if err != nil {
		return reply{}, err
	}
	defer r.Close()

	c.b.SendChunk(dest, r.Topic, data)

	select {
	case rep := <-ch:
		if rep.kind == bridge.KindNack {
			return reply{}, fmt.Errorf("%w: %s", bridge.ErrNacked, dest)
		}
		return rep, nil
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return reply{}, fmt.Errorf("calling %s: %w", dest, err)
		}
		return reply{}, fmt.Errorf("%w: %s", ErrTimeout, dest)
	}
}

// Query fetches the entries of device name at peer
func (c *Client) Query(ctx context.Context, peer, name string) ([]Entry, error) {
	dest := router.Join(peer, name+bridge.SuffixQuery)
	rep, err := c.call(ctx, dest, nil)
	if err != nil {
		return nil, err
	}
	entries, err := DecodeEntries(rep.body)
	if err != nil {
		err = meshErrors.WrapDecode(err, "rpc", "Query")
		c.logger.Warn("Rejecting query response", "destination", dest, "error", err)
		return nil, err
	}
	return entries, nil
}

// Signal asks device name at peer to apply data to field. A missing
// response within the configured timeout yields SignalTimedOut with a nil
// error; cancelling ctx is reported as an error.
func (c *Client) Signal(ctx context.Context, peer, name string, field uint16, data []byte) (SignalOutcome, error) {
	dest := router.Join(peer, name+bridge.SuffixSignal)
	rep, err := c.call(ctx, dest, EncodeSignal(field, data))
	switch {
	case errors.Is(err, ErrTimeout):
		return SignalTimedOut, nil
	case err != nil:
		return SignalFailed, err
	}

	if len(rep.body) != 1 {
		err := meshErrors.WrapDecode(fmt.Errorf("%w: signal response of %d bytes", ErrMalformed, len(rep.body)), "rpc", "Signal")
		c.logger.Warn("Rejecting signal response", "destination", dest, "error", err)
		return SignalFailed, err
	}
	if rep.body[0] == 1 {
		return SignalSucceeded, nil
	}
	return SignalFailed, nil
}
