package wire

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/internal/metrics"
)

// DefaultMagic opens every robomesh connection ("RMSH" + protocol version 1)
const DefaultMagic uint64 = 0x524D534800000001

var (
	// ErrBadMagic is returned when the peer does not open with our magic constant
	ErrBadMagic = errors.New("handshake magic mismatch")
	// ErrBounceMismatch is returned when the peer fails to echo our nonces
	ErrBounceMismatch = errors.New("handshake bounce mismatch")
)

// deadliner is satisfied by net.Conn and the websocket stream adapter
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Handshaker performs the symmetric connection opening exchange. Both ends
// run the same sequence: magic and two nonces, the XOR bounce of the peer's
// nonces, then the name hints.
type Handshaker struct {
	// Magic overrides DefaultMagic when non-zero
	Magic uint64

	Logger  *slog.Logger
	Metrics *metrics.LinkMetrics

	// nonces is replaced in tests
	nonces func() (uint32, uint32)
}

func (h *Handshaker) magic() uint64 {
	if h.Magic == 0 {
		return DefaultMagic
	}
	return h.Magic
}

func (h *Handshaker) nonce() (uint32, uint32) {
	if h.nonces != nil {
		return h.nonces()
	}
	return rand.Uint32(), rand.Uint32()
}

// Perform runs the handshake over rw and returns the peer's name hint, which
// is empty when the peer offered none. Every phase writes and reads
// concurrently, so it is safe over unbuffered streams such as net.Pipe.
//
// If rw supports deadlines, ctx ending interrupts a blocked phase.
func (h *Handshaker) Perform(ctx context.Context, rw io.ReadWriter, hint string) (string, error) {
	if d, ok := rw.(deadliner); ok {
		stop := context.AfterFunc(ctx, func() { _ = d.SetDeadline(time.Unix(1, 0)) })
		defer func() {
			stop()
			_ = d.SetDeadline(time.Time{})
		}()
	}

	remote, err := h.perform(rw, hint)
	if err != nil {
		h.Metrics.HandshakeFailure()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%w)", ctxErr, err)
		}
		return "", err
	}
	return remote, nil
}

func (h *Handshaker) perform(rw io.ReadWriter, hint string) (string, error) {
	ra, rb := h.nonce()

	// Phase 1: magic and nonces.
	hello := binary.BigEndian.AppendUint64(nil, h.magic())
	hello = binary.BigEndian.AppendUint32(hello, ra)
	hello = binary.BigEndian.AppendUint32(hello, rb)
	var peerHello [16]byte
	if err := exchange(rw, hello, peerHello[:]); err != nil {
		return "", meshErrors.WrapTransport(err, "wire", "Handshake")
	}
	if got := binary.BigEndian.Uint64(peerHello[0:8]); got != h.magic() {
		return "", meshErrors.WrapProtocol(fmt.Errorf("%w: got %#x", ErrBadMagic, got), "wire", "Handshake")
	}
	peerA := binary.BigEndian.Uint32(peerHello[8:12])
	peerB := binary.BigEndian.Uint32(peerHello[12:16])

	// Phase 2: bounce.
	var peerBounce [4]byte
	if err := exchange(rw, binary.BigEndian.AppendUint32(nil, peerA^peerB), peerBounce[:]); err != nil {
		return "", meshErrors.WrapTransport(err, "wire", "Handshake")
	}
	if binary.BigEndian.Uint32(peerBounce[:]) != ra^rb {
		return "", meshErrors.WrapProtocol(ErrBounceMismatch, "wire", "Handshake")
	}

	// Phase 3: name hints.
	var remote string
	g := new(errgroup.Group)
	g.Go(func() error { return writeString(rw, hint) })
	g.Go(func() error {
		var err error
		remote, err = readString(rw)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrAddressTooLong) {
			return "", err
		}
		return "", meshErrors.WrapTransport(err, "wire", "Handshake")
	}

	if h.Logger != nil {
		h.Logger.Debug("Handshake complete", "local_hint", hint, "remote_hint", remote)
	}
	return remote, nil
}

// exchange writes out while reading len(in) bytes from the peer
func exchange(rw io.ReadWriter, out, in []byte) error {
	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := rw.Write(out)
		return err
	})
	g.Go(func() error {
		_, err := io.ReadFull(rw, in)
		return err
	})
	return g.Wait()
}
