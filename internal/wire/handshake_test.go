package wire

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/internal/metrics"
)

func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

type result struct {
	hint string
	err  error
}

func runPair(t *testing.T, a, b *Handshaker, hintA, hintB string) (result, result) {
	t.Helper()
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		hint, err := b.Perform(ctx, connB, hintB)
		if err != nil {
			connB.Close()
		}
		done <- result{hint, err}
	}()

	hint, err := a.Perform(ctx, connA, hintA)
	if err != nil {
		connA.Close()
	}
	return result{hint, err}, <-done
}

func TestHandshake_ExchangesHints(t *testing.T) {
	ra, rb := runPair(t, &Handshaker{}, &Handshaker{}, "driver-station", "robot")

	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Equal(t, "robot", ra.hint)
	assert.Equal(t, "driver-station", rb.hint)
}

func TestHandshake_EmptyHints(t *testing.T) {
	ra, rb := runPair(t, &Handshaker{}, &Handshaker{}, "", "robot")

	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Equal(t, "robot", ra.hint)
	assert.Empty(t, rb.hint)
}

func TestHandshake_BadMagicFailsBothSides(t *testing.T) {
	tests := []struct {
		name string
		a, b *Handshaker
	}{
		{"corrupt initiator", &Handshaker{Magic: 0xdeadbeef}, &Handshaker{}},
		{"corrupt responder", &Handshaker{}, &Handshaker{Magic: 0xdeadbeef}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ra, rb := runPair(t, tt.a, tt.b, "a", "b")

			assert.ErrorIs(t, ra.err, ErrBadMagic)
			assert.ErrorIs(t, rb.err, ErrBadMagic)
			assert.True(t, meshErrors.IsProtocol(ra.err))
			assert.True(t, meshErrors.IsProtocol(rb.err))
		})
	}
}

// bouncer misreports the nonces it sent, so the peer's bounce cannot match
// what it expects.
func TestHandshake_BounceMismatch(t *testing.T) {
	reg := metrics.NewRegistry()
	honest := &Handshaker{Metrics: metrics.NewLinkMetrics(reg)}

	calls := 0
	liar := &Handshaker{nonces: func() (uint32, uint32) {
		calls++
		return 1, 2
	}}

	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		// Send nonces (1, 2) but bounce a wrong value for the peer's nonces.
		_, err := liar.perform(&corruptBounce{conn: connB}, "liar")
		done <- err
	}()

	_, err := honest.Perform(ctx, connA, "honest")
	connA.Close()
	<-done

	assert.ErrorIs(t, err, ErrBounceMismatch)
	assert.Equal(t, 1, calls)
	assert.Contains(t, scrape(t, reg), "robomesh_link_handshake_failures_total 1")
}

// corruptBounce flips the bits of the second write (the bounce)
type corruptBounce struct {
	conn   net.Conn
	writes int
}

func (c *corruptBounce) Read(p []byte) (int, error) { return c.conn.Read(p) }

func (c *corruptBounce) Write(p []byte) (int, error) {
	c.writes++
	if c.writes == 2 {
		q := make([]byte, len(p))
		for i := range p {
			q[i] = ^p[i]
		}
		return c.conn.Write(q)
	}
	return c.conn.Write(p)
}

func TestHandshake_ContextCancelInterrupts(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// connB never answers
	_, err := (&Handshaker{}).Perform(ctx, connA, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
