package bridge

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// Reserved control topics for peer object discovery
const (
	TopicEncoderList         = "ENCODER-LIST"
	TopicEncoderListResponse = "ENCODER-LIST-RESPONSE"
)

var providedPrefixes = []string{
	PrefixBoolInput, PrefixBoolOutput,
	PrefixFloatInput, PrefixFloatOutput,
	PrefixEventSource, PrefixEventConsumer,
	PrefixLogTarget, PrefixStream,
}

// IsProvidedTopic reports whether topic names a bridged value or device
func IsProvidedTopic(topic string) bool {
	for _, p := range providedPrefixes {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return strings.HasSuffix(topic, SuffixQuery) || strings.HasSuffix(topic, SuffixSignal)
}

// Directory answers listing requests on ENCODER-LIST with the topics this
// router provides, and collects listings from peers.
//
// Requests carry a 16 byte correlation id; responses echo it followed by the
// newline-separated topic names.
type Directory struct {
	b *Bridge

	mu      sync.Mutex
	topics  map[string]struct{}
	pending map[uuid.UUID]chan []string
}

// NewDirectory starts tracking provided topics on b's router and registers
// the listing topics
func NewDirectory(b *Bridge) (*Directory, error) {
	d := &Directory{
		b:       b,
		topics:  make(map[string]struct{}),
		pending: make(map[uuid.UUID]chan []string),
	}
	b.router.SubscribeToSubscriptions(d)

	if err := b.HandleChunks(TopicEncoderList, d.answer); err != nil {
		b.router.UnsubscribeFromSubscriptions(d)
		return nil, err
	}
	if err := b.HandleChunks(TopicEncoderListResponse, d.collect); err != nil {
		b.router.UnsubscribeFromSubscriptions(d)
		return nil, err
	}
	return d, nil
}

// AddSubscription implements router.SubscriptionWatcher
func (d *Directory) AddSubscription(topic string) {
	if !IsProvidedTopic(topic) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics[topic] = struct{}{}
}

// RemoveSubscription implements router.SubscriptionWatcher
func (d *Directory) RemoveSubscription(topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.topics, topic)
}

// Topics returns the provided topics in sorted order
func (d *Directory) Topics() []string {
	d.mu.Lock()
	out := make([]string, 0, len(d.topics))
	for t := range d.topics {
		out = append(out, t)
	}
	d.mu.Unlock()
	slices.Sort(out)
	return out
}

func (d *Directory) answer(source string, data []byte) {
	if source == "" {
		d.b.logger.Warn("Listing request without a source")
		return
	}
	if len(data) < len(uuid.UUID{}) {
		d.b.logger.Warn("Listing request missing correlation id", "source", source)
		return
	}
	body := append([]byte(nil), data[:len(uuid.UUID{})]...)
	body = append(body, strings.Join(d.Topics(), "\n")...)
	d.b.SendChunk(source, TopicEncoderList, body)
}

func (d *Directory) collect(source string, data []byte) {
	var id uuid.UUID
	if len(data) < len(id) {
		d.b.logger.Warn("Listing response missing correlation id", "source", source)
		return
	}
	copy(id[:], data)

	d.mu.Lock()
	ch, ok := d.pending[id]
	delete(d.pending, id)
	d.mu.Unlock()
	if !ok {
		d.b.logger.Debug("Listing response for no pending request", "source", source)
		return
	}

	var topics []string
	for _, t := range strings.Split(string(data[len(id):]), "\n") {
		if t != "" {
			topics = append(topics, t)
		}
	}
	ch <- topics
}

// Discover asks the router at peer for its provided topics and waits for the
// first answer or for ctx to end.
func (d *Directory) Discover(ctx context.Context, peer string) ([]string, error) {
	id := uuid.New()
	ch := make(chan []string, 1)

	d.mu.Lock()
	d.pending[id] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	d.b.SendChunk(router.Join(peer, TopicEncoderList), TopicEncoderListResponse, id[:])

	select {
	case topics := <-ch:
		return topics, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops tracking subscriptions
func (d *Directory) Close() {
	d.b.router.UnsubscribeFromSubscriptions(d)
}
