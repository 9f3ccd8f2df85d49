// Package bridge maps local reactive values onto tagged messages on router
// topics and reconstructs them on the far side.
//
// Topic naming:
//
//	BI:<name>  BO:<name>   boolean input / output
//	FI:<name>  FO:<name>   float input / output
//	ES:<name>  EC:<name>   event source / consumer
//	LT:<name>              log target
//	STR:<name>             byte stream
//
// Input-shaped values (producers) keep a set of remote peers that asked for
// the value and unicast every change to them. Subscribers keep a local cache
// and re-request after a topology-changed broadcast.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// Topic prefixes
const (
	PrefixBoolInput     = "BI:"
	PrefixBoolOutput    = "BO:"
	PrefixFloatInput    = "FI:"
	PrefixFloatOutput   = "FO:"
	PrefixEventSource   = "ES:"
	PrefixEventConsumer = "EC:"
	PrefixLogTarget     = "LT:"
	PrefixStream        = "STR:"

	SuffixQuery  = "-rpcq"
	SuffixSignal = "-rpcs"

	replyPrefix = "reply-"
)

var (
	// ErrUnsupported is returned when the format lacks a kind an operation needs
	ErrUnsupported = errors.New("operation not supported by bridge format")
	// ErrNacked is returned when the addressed topic does not exist remotely
	ErrNacked = errors.New("destination negatively acknowledged")
	// ErrAlreadyPublished is returned when a topic is published twice
	ErrAlreadyPublished = errors.New("topic already published")
)

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFormat selects the wire format; RMT is the default
func WithFormat(f Format) Option {
	return func(b *Bridge) {
		if f != nil {
			b.format = f
		}
	}
}

// Bridge publishes and subscribes typed values over a router
type Bridge struct {
	router router.Router
	format Format
	logger *slog.Logger

	mu            sync.Mutex
	records       map[string]*record
	registrations []registration
	closed        bool
}

type registration struct {
	topic    string
	listener router.Listener
}

// recordRole describes what a record does with its topic
type recordRole string

const (
	roleProducer   recordRole = "producer"
	roleSink       recordRole = "sink"
	roleSubscriber recordRole = "subscriber"
)

// record is the bookkeeping for one published or subscribed value
type record struct {
	topic string
	role  recordRole

	mu             sync.Mutex
	remotePeers    map[string]struct{}
	sent           bool
	canUnsubscribe bool
}

func (r *record) peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.remotePeers))
	for p := range r.remotePeers {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// RecordInfo is a snapshot of one bridge record
type RecordInfo struct {
	Topic string
	Role  string
	Peers []string
	Sent  bool
}

// New creates a bridge over r
func New(r router.Router, opts ...Option) *Bridge {
	b := &Bridge{
		router:  r,
		format:  RMT,
		logger:  slog.Default(),
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bridge", "format", b.format.Name())
	return b
}

// Format returns the bridge's wire format
func (b *Bridge) Format() Format {
	return b.format
}

// Router returns the router the bridge transmits through
func (b *Bridge) Router() router.Router {
	return b.router
}

// Records returns a snapshot of every published or subscribed value
func (b *Bridge) Records() []RecordInfo {
	b.mu.Lock()
	recs := make([]*record, 0, len(b.records))
	for _, r := range b.records {
		recs = append(recs, r)
	}
	b.mu.Unlock()

	infos := make([]RecordInfo, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		sent := r.sent
		r.mu.Unlock()
		infos = append(infos, RecordInfo{Topic: r.topic, Role: string(r.role), Peers: r.peers(), Sent: sent})
	}
	slices.SortFunc(infos, func(a, c RecordInfo) int { return strings.Compare(a.Topic, c.Topic) })
	return infos
}

// newRecord registers a record keyed by key. Producers and sinks must be
// unique per topic; subscriber keys are private reply topics.
func (b *Bridge) newRecord(key, topic string, role recordRole) (*record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, meshErrors.ErrClosed
	}
	if _, exists := b.records[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPublished, key)
	}
	r := &record{topic: topic, role: role, remotePeers: make(map[string]struct{})}
	b.records[key] = r
	return r, nil
}

func (b *Bridge) dropRecord(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
}

// listen subscribes fn on topic and remembers the registration for Close
func (b *Bridge) listen(topic string, fn router.ReceiveFunc) error {
	l := router.NewListener(fn)
	if err := b.router.Subscribe(topic, l); err != nil {
		return fmt.Errorf("subscribing %q: %w", topic, err)
	}
	b.mu.Lock()
	b.registrations = append(b.registrations, registration{topic: topic, listener: l})
	b.mu.Unlock()
	return nil
}

// Close removes every listener the bridge registered. Records are kept so
// Records still reports them.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	regs := b.registrations
	b.registrations = nil
	b.mu.Unlock()

	var errs []error
	for _, reg := range regs {
		if err := b.router.Unsubscribe(reg.topic, reg.listener); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// replyTopic allocates a private local topic for responses
func replyTopic() string {
	return replyPrefix + uuid.NewString()
}

// payload builds [tag, body...] for kind
func (b *Bridge) payload(k Kind, body ...byte) ([]byte, bool) {
	tag, ok := b.format.Tag(k)
	if !ok {
		return nil, false
	}
	return append([]byte{tag}, body...), true
}

func (b *Bridge) send(dest, source string, k Kind, body ...byte) {
	p, ok := b.payload(k, body...)
	if !ok {
		b.logger.Debug("Format has no tag for kind; not sending", "kind", k, "destination", dest)
		return
	}
	b.router.Transmit(router.Message{Destination: dest, Source: source, Payload: p}, nil)
}

type verdict int

const (
	rejected verdict = iota
	accepted
	nacked
)

// guard screens an inbound payload for a listener expecting one of the given
// kinds. Pings are answered on the listener's behalf; negative
// acknowledgements are reported to the caller; topology notifications not
// asked for are dropped quietly.
func (b *Bridge) guard(msg router.Message, expected ...Kind) (Kind, verdict) {
	p := msg.Payload
	if len(p) == 0 {
		b.logger.Warn("Received empty payload", "topic", msg.Destination, "source", msg.Source)
		return 0, rejected
	}
	tag := p[0]

	if pingTag, ok := b.format.Tag(KindPing); ok && tag == pingTag {
		if msg.Source != "" && len(expected) > 0 {
			own, _ := b.format.Tag(expected[0])
			b.send(msg.Source, msg.Destination, KindPingReply, own)
		}
		return KindPing, rejected
	}
	if nackTag, ok := b.format.Tag(KindNack); ok && tag == nackTag {
		return KindNack, nacked
	}

	for _, k := range expected {
		if t, ok := b.format.Tag(k); ok && t == tag {
			if len(p) < k.minLength() {
				err := meshErrors.WrapDecode(fmt.Errorf("payload of %d bytes shorter than %d", len(p), k.minLength()), "bridge", "guard")
				b.logger.Warn("Dropping short payload", "topic", msg.Destination, "kind", k, "error", err)
				return k, rejected
			}
			return k, accepted
		}
	}

	if t, ok := b.format.Tag(KindTopologyChanged); ok && tag == t {
		return KindTopologyChanged, rejected
	}

	names := make([]string, len(expected))
	for i, k := range expected {
		names[i] = k.String()
	}
	b.logger.Warn("Unexpected message tag",
		"topic", msg.Destination,
		"received", b.format.Describe(tag),
		"expected", strings.Join(names, ","))
	return 0, rejected
}
