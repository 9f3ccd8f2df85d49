package bridge

import (
	"fmt"
	"strings"
)

// Kind identifies what a bridged message carries, independent of the byte
// a particular Format uses for it.
type Kind int

const (
	KindPing Kind = iota
	KindPingReply
	KindNack
	KindTopologyChanged

	KindBoolRequest
	KindBoolResponse
	KindBoolWrite
	KindBoolUnsubscribe

	KindFloatRequest
	KindFloatResponse
	KindFloatWrite
	KindFloatUnsubscribe

	KindEventFire
	KindEventRequest
	KindEventResponse
	KindEventUnsubscribe

	KindLogRecord
	KindStreamChunk
)

var kindNames = map[Kind]string{
	KindPing:             "ping",
	KindPingReply:        "ping-reply",
	KindNack:             "negative-ack",
	KindTopologyChanged:  "topology-changed",
	KindBoolRequest:      "bool-request",
	KindBoolResponse:     "bool-response",
	KindBoolWrite:        "bool-write",
	KindBoolUnsubscribe:  "bool-unsubscribe",
	KindFloatRequest:     "float-request",
	KindFloatResponse:    "float-response",
	KindFloatWrite:       "float-write",
	KindFloatUnsubscribe: "float-unsubscribe",
	KindEventFire:        "event-fire",
	KindEventRequest:     "event-request",
	KindEventResponse:    "event-response",
	KindEventUnsubscribe: "event-unsubscribe",
	KindLogRecord:        "log-record",
	KindStreamChunk:      "stream-chunk",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// minLength is the shortest acceptable payload, tag included
func (k Kind) minLength() int {
	switch k {
	case KindBoolResponse, KindBoolWrite, KindLogRecord:
		return 2
	case KindFloatResponse, KindFloatWrite:
		return 5
	default:
		return 1
	}
}

// Format maps message kinds to the tag byte that opens every bridged
// payload. A format may leave kinds unsupported; the bridge then skips the
// behavior built on them (ping answering, negative acknowledgements).
type Format interface {
	Name() string
	Tag(k Kind) (byte, bool)
	// Describe names a received tag for log output
	Describe(tag byte) string
}

type tableFormat struct {
	name  string
	tags  map[Kind]byte
	names map[byte]string
}

func newTableFormat(name string, tags map[Kind]byte, shared map[byte]string) *tableFormat {
	f := &tableFormat{name: name, tags: tags, names: make(map[byte]string)}
	for k, t := range tags {
		f.names[t] = k.String()
	}
	for t, n := range shared {
		f.names[t] = n
	}
	return f
}

func (f *tableFormat) Name() string { return f.name }

func (f *tableFormat) Tag(k Kind) (byte, bool) {
	t, ok := f.tags[k]
	return t, ok
}

func (f *tableFormat) Describe(tag byte) string {
	if n, ok := f.names[tag]; ok {
		return fmt.Sprintf("%s(%d)", n, tag)
	}
	return fmt.Sprintf("unknown(%d)", tag)
}

// RMT is the canonical format: one remote-message-type tag per kind, with
// ping and negative acknowledgement support.
var RMT Format = newTableFormat("rmt", map[Kind]byte{
	KindPing:             0,
	KindEventFire:        1,
	KindEventRequest:     2,
	KindEventResponse:    3,
	KindLogRecord:        4,
	KindBoolRequest:      5,
	KindBoolResponse:     6,
	KindBoolWrite:        7,
	KindFloatRequest:     8,
	KindFloatResponse:    9,
	KindFloatWrite:       10,
	KindStreamChunk:      11,
	KindNack:             12,
	KindEventUnsubscribe: 13,
	KindBoolUnsubscribe:  14,
	KindFloatUnsubscribe: 15,
	KindPingReply:        16,
	KindTopologyChanged:  17,
}, nil)

// Legacy is the older framing: a single subscribe tag and a single
// unsubscribe tag shared by every value kind, and no ping or negative
// acknowledgement.
var Legacy Format = newTableFormat("legacy", map[Kind]byte{
	KindBoolRequest:      0x20,
	KindFloatRequest:     0x20,
	KindEventRequest:     0x20,
	KindBoolUnsubscribe:  0x21,
	KindFloatUnsubscribe: 0x21,
	KindEventUnsubscribe: 0x21,
	KindEventFire:        0x22,
	KindEventResponse:    0x23,
	KindLogRecord:        0x24,
	KindBoolResponse:     0x25,
	KindBoolWrite:        0x26,
	KindFloatResponse:    0x27,
	KindFloatWrite:       0x28,
	KindStreamChunk:      0x29,
	KindTopologyChanged:  0x2a,
}, map[byte]string{0x20: "subscribe", 0x21: "unsubscribe"})

// FormatByName resolves "rmt" or "legacy"
func FormatByName(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "rmt":
		return RMT, nil
	case "legacy":
		return Legacy, nil
	default:
		return nil, fmt.Errorf("unknown bridge format %q", name)
	}
}

// ControlPayload returns the single-byte payload for a control kind, or nil
// when the format does not support it. Used to configure the router's nack
// and topology payloads.
func ControlPayload(f Format, k Kind) []byte {
	if t, ok := f.Tag(k); ok {
		return []byte{t}
	}
	return nil
}
