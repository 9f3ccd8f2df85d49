package bridge

import (
	"context"
	"fmt"
	"sync"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// Reply is a private local topic that collects responses to requests sent
// with it as their source.
type Reply struct {
	Topic string

	b        *Bridge
	listener router.Listener
	once     sync.Once
}

// OpenReply registers a private reply topic. fn receives the kind and the
// body after the tag for every negative acknowledgement, ping reply and
// stream chunk delivered to it.
func (b *Bridge) OpenReply(fn func(kind Kind, body []byte)) (*Reply, error) {
	r := &Reply{Topic: replyTopic(), b: b}
	r.listener = router.NewListener(func(msg router.Message) {
		if len(msg.Payload) == 0 {
			return
		}
		tag := msg.Payload[0]
		for _, k := range []Kind{KindNack, KindPingReply, KindStreamChunk, KindTopologyChanged} {
			if t, ok := b.format.Tag(k); ok && t == tag {
				if k != KindTopologyChanged {
					fn(k, msg.Payload[1:])
				}
				return
			}
		}
		b.logger.Warn("Unexpected message on reply topic", "topic", r.Topic, "received", b.format.Describe(tag))
	})
	if err := b.router.Subscribe(r.Topic, r.listener); err != nil {
		return nil, err
	}
	return r, nil
}

// Close unregisters the reply topic. Safe to call multiple times.
func (r *Reply) Close() {
	r.once.Do(func() {
		_ = r.b.router.Unsubscribe(r.Topic, r.listener)
	})
}

// HandleChunks delivers stream chunks sent to topic, with their source, to fn
func (b *Bridge) HandleChunks(topic string, fn func(source string, data []byte)) error {
	return b.publishSink(topic, KindStreamChunk, func(msg router.Message) {
		fn(msg.Source, msg.Payload[1:])
	})
}

// SendChunk transmits data as a stream chunk
func (b *Bridge) SendChunk(dest, source string, data []byte) {
	b.send(dest, source, KindStreamChunk, data...)
}

// Ping probes path and returns the tag the remote listener reported for
// itself. A negative acknowledgement yields ErrNacked.
func (b *Bridge) Ping(ctx context.Context, path string) (byte, error) {
	if _, ok := b.format.Tag(KindPing); !ok {
		return 0, ErrUnsupported
	}

	type outcome struct {
		tag byte
		err error
	}
	done := make(chan outcome, 1)
	reply, err := b.OpenReply(func(k Kind, body []byte) {
		var o outcome
		switch {
		case k == KindNack:
			o.err = fmt.Errorf("%w: %s", ErrNacked, path)
		case k == KindPingReply && len(body) > 0:
			o.tag = body[0]
		default:
			o.err = meshErrors.WrapDecode(fmt.Errorf("unexpected %s of %d bytes", k, len(body)), "bridge", "Ping")
		}
		select {
		case done <- o:
		default:
		}
	})
	if err != nil {
		return 0, err
	}
	defer reply.Close()

	b.send(path, reply.Topic, KindPing)

	select {
	case o := <-done:
		return o.tag, o.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
