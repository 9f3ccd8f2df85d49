// Package wire implements the byte-level protocol spoken over a remote link:
// a one-time handshake followed by an unbounded sequence of checksummed
// frames.
//
// Frame layout (all integers big-endian):
//
//	dest     uint16 length + bytes (empty = none)
//	source   uint16 length + bytes (empty = none)
//	length   int32
//	begin    int64  seed derived from length, hash(dest), hash(source)
//	payload  [length]byte
//	end      int64  rolling checksum of payload seeded with begin
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/internal/metrics"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

const (
	// OversizeThreshold is the payload size above which a frame is logged
	// as suspicious. It is not a limit.
	OversizeThreshold = 64 * 1024

	// DefaultMaxPayload bounds the allocation made for a single frame
	DefaultMaxPayload = 64 * 1024 * 1024
)

var (
	// ErrChecksumMismatch is returned when a frame's begin or end checksum
	// does not match the received data
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	// ErrNegativeLength is returned for a frame declaring a negative length
	ErrNegativeLength = errors.New("negative frame length")
	// ErrFrameTooLarge is returned for a payload above the codec's MaxPayload
	ErrFrameTooLarge = errors.New("frame exceeds maximum payload size")
	// ErrAddressTooLong is returned when a path does not fit a uint16 length
	ErrAddressTooLong = errors.New("address longer than 65535 bytes")
)

// Codec encodes and decodes frames. The zero value is usable.
type Codec struct {
	// MaxPayload rejects frames above this size to bound allocation.
	// Zero means DefaultMaxPayload.
	MaxPayload int

	Logger  *slog.Logger
	Metrics *metrics.LinkMetrics

	warnLimiter *rate.Limiter
}

// NewCodec creates a codec reporting into the given logger and metrics
func NewCodec(logger *slog.Logger, m *metrics.LinkMetrics) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{
		Logger:      logger.With("component", "wire"),
		Metrics:     m,
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (c *Codec) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Codec) maxPayload() int {
	if c.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

func (c *Codec) warnOversize(dir string, msg router.Message, n int) {
	c.Metrics.OversizedFrame()
	if c.warnLimiter != nil && !c.warnLimiter.Allow() {
		return
	}
	c.logger().Warn("Oversized frame", "direction", dir, "destination", msg.Destination,
		"source", msg.Source, "bytes", n)
}

// hash is the 31-multiplier string hash used for the header seed
func hash(s string) int32 {
	var h int32
	for i := 0; i < len(s); i++ {
		h = 31*h + int32(s[i])
	}
	return h
}

// BeginChecksum derives the header seed from the frame length and both
// addresses. Swapping dest and source yields a different seed.
func BeginChecksum(length int32, dest, source string) int64 {
	h := int64(length)
	h = h*1000003 ^ int64(hash(dest))
	h = h*1000003 ^ int64(hash(source))*7
	return h
}

// Checksum folds payload into seed with h = 43*h + b
func Checksum(payload []byte, seed int64) int64 {
	h := seed
	for _, b := range payload {
		h = 43*h + int64(b)
	}
	return h
}

// Encode serializes one frame
func (c *Codec) Encode(msg router.Message) ([]byte, error) {
	if len(msg.Destination) > math.MaxUint16 || len(msg.Source) > math.MaxUint16 {
		return nil, ErrAddressTooLong
	}
	if len(msg.Payload) > math.MaxInt32 {
		return nil, ErrFrameTooLarge
	}
	if len(msg.Payload) > OversizeThreshold {
		c.warnOversize("out", msg, len(msg.Payload))
	}

	length := int32(len(msg.Payload))
	begin := BeginChecksum(length, msg.Destination, msg.Source)

	buf := make([]byte, 0, 2+len(msg.Destination)+2+len(msg.Source)+4+8+len(msg.Payload)+8)
	buf = appendString(buf, msg.Destination)
	buf = appendString(buf, msg.Source)
	buf = binary.BigEndian.AppendUint32(buf, uint32(length))
	buf = binary.BigEndian.AppendUint64(buf, uint64(begin))
	buf = append(buf, msg.Payload...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(Checksum(msg.Payload, begin)))
	return buf, nil
}

// WriteFrame encodes msg and writes it with a single Write call
func (c *Codec) WriteFrame(w io.Writer, msg router.Message) error {
	buf, err := c.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return meshErrors.WrapTransport(err, "wire", "WriteFrame")
	}
	c.Metrics.FrameSent(len(msg.Payload))
	return nil
}

// ReadFrame reads and verifies one frame. Checksum and length violations are
// classified as protocol errors; I/O failures as transport errors.
func (c *Codec) ReadFrame(r io.Reader) (router.Message, error) {
	var msg router.Message
	var err error

	if msg.Destination, err = readString(r); err != nil {
		return router.Message{}, meshErrors.WrapTransport(err, "wire", "ReadFrame")
	}
	if msg.Source, err = readString(r); err != nil {
		return router.Message{}, meshErrors.WrapTransport(err, "wire", "ReadFrame")
	}

	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return router.Message{}, meshErrors.WrapTransport(err, "wire", "ReadFrame")
	}
	length := int32(binary.BigEndian.Uint32(header[0:4]))
	begin := int64(binary.BigEndian.Uint64(header[4:12]))

	if length < 0 {
		return router.Message{}, meshErrors.WrapProtocol(fmt.Errorf("%w: %d", ErrNegativeLength, length), "wire", "ReadFrame")
	}
	if begin != BeginChecksum(length, msg.Destination, msg.Source) {
		c.Metrics.ChecksumFailure()
		return router.Message{}, meshErrors.WrapProtocol(fmt.Errorf("%w: header", ErrChecksumMismatch), "wire", "ReadFrame")
	}
	if int(length) > c.maxPayload() {
		return router.Message{}, meshErrors.WrapProtocol(fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length), "wire", "ReadFrame")
	}
	if length > OversizeThreshold {
		c.warnOversize("in", msg, int(length))
	}

	msg.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, msg.Payload); err != nil {
		return router.Message{}, meshErrors.WrapTransport(err, "wire", "ReadFrame")
	}

	var trailer [8]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return router.Message{}, meshErrors.WrapTransport(err, "wire", "ReadFrame")
	}
	if int64(binary.BigEndian.Uint64(trailer[:])) != Checksum(msg.Payload, begin) {
		c.Metrics.ChecksumFailure()
		return router.Message{}, meshErrors.WrapProtocol(fmt.Errorf("%w: payload", ErrChecksumMismatch), "wire", "ReadFrame")
	}

	c.Metrics.FrameReceived(len(msg.Payload))
	return msg, nil
}

// Decode reads a single frame from an in-memory buffer
func (c *Codec) Decode(data []byte) (router.Message, error) {
	return c.ReadFrame(bytes.NewReader(data))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return ErrAddressTooLong
	}
	_, err := w.Write(appendString(nil, s))
	return err
}

func readString(r io.Reader) (string, error) {
	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(l[:])
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
