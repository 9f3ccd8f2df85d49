package peerlink

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/internal/wire"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// Stream is a connection's byte stream. net.Conn satisfies it, as does the
// websocket adapter.
type Stream interface {
	io.ReadWriteCloser
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// RemoteLink is the write side of a live connection. Frames are written one
// at a time; a caller arriving while another frame is in flight waits for it.
type RemoteLink struct {
	name         string
	stream       Stream
	codec        *wire.Codec
	writeTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	closed    atomic.Bool
	contended *rate.Limiter
}

// NewRemoteLink wraps stream's write side
func NewRemoteLink(name string, stream Stream, codec *wire.Codec, writeTimeout time.Duration, logger *slog.Logger) *RemoteLink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteLink{
		name:         name,
		stream:       stream,
		codec:        codec,
		writeTimeout: writeTimeout,
		logger:       logger,
		contended:    rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Name returns the link name
func (l *RemoteLink) Name() string {
	return l.name
}

// Transmit writes msg as one frame. Any write failure asks the router to
// detach the link.
func (l *RemoteLink) Transmit(msg router.Message) router.TransmitResult {
	if l.closed.Load() {
		return router.FailedDetach
	}

	if !l.mu.TryLock() {
		if l.contended.Allow() {
			l.logger.Debug("Waiting for in-flight frame", "link", l.name)
		}
		l.mu.Lock()
	}
	defer l.mu.Unlock()

	if d, ok := l.stream.(writeDeadliner); ok && l.writeTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}

	if err := l.codec.WriteFrame(l.stream, msg); err != nil {
		switch {
		case errors.Is(err, wire.ErrAddressTooLong), errors.Is(err, wire.ErrFrameTooLarge):
			l.logger.Warn("Dropping unencodable message", "link", l.name, "destination", msg.Destination, "error", err)
			return router.FailedTransient
		case meshErrors.IsStreamClosed(err):
			l.logger.Debug("Write on closed stream", "link", l.name, "error", err)
		default:
			l.logger.Error("Write failed; detaching link", "link", l.name, "destination", msg.Destination, "error", err)
		}
		l.closed.Store(true)
		return router.FailedDetach
	}
	return router.Delivered
}

// markClosed makes further transmissions fail fast
func (l *RemoteLink) markClosed() {
	l.closed.Store(true)
}

// Verify that RemoteLink implements the Link interface at compile time
var _ router.Link = (*RemoteLink)(nil)
