package bridge

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	meshRouter "github.com/rmacdonaldsmith/robomesh/internal/router"
	"github.com/rmacdonaldsmith/robomesh/pkg/cell"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// mesh is two routers joined by a paired link: the robot reaches the driver
// station as "driver" and the driver station reaches the robot as "robot".
type mesh struct {
	robot, driver   *meshRouter.Node
	robotB, driverB *Bridge
}

func newMesh(t *testing.T, f Format) *mesh {
	t.Helper()
	cfg := func(name string) meshRouter.Config {
		return meshRouter.Config{
			Name:            name,
			NackPayload:     ControlPayload(f, KindNack),
			TopologyPayload: ControlPayload(f, KindTopologyChanged),
		}
	}
	m := &mesh{robot: meshRouter.NewNode(cfg("robot")), driver: meshRouter.NewNode(cfg("driver"))}
	require.NoError(t, meshRouter.Pair(m.robot, m.driver, "driver", "robot"))
	m.robotB = New(m.robot, WithFormat(f))
	m.driverB = New(m.driver, WithFormat(f))
	return m
}

// tagCounter counts payload tags seen by a wildcard listener
type tagCounter struct {
	mu     sync.Mutex
	counts map[byte]int
}

func countTags(t *testing.T, n *meshRouter.Node) *tagCounter {
	t.Helper()
	c := &tagCounter{counts: make(map[byte]int)}
	require.NoError(t, n.Subscribe("", router.NewListener(func(msg router.Message) {
		if len(msg.Payload) == 0 {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.counts[msg.Payload[0]]++
	})))
	return c
}

func (c *tagCounter) count(f Format, k Kind) int {
	tag, ok := f.Tag(k)
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[tag]
}

func peersOf(b *Bridge, topic string) []string {
	for _, r := range b.Records() {
		if r.Topic == topic && r.Role == string(roleProducer) {
			return r.Peers
		}
	}
	return nil
}

func TestBridge_SubscriberReceivesCurrentValueOnce(t *testing.T) {
	m := newMesh(t, RMT)
	enabled := cell.NewBool(true)
	require.NoError(t, m.robotB.PublishBoolInput("enabled", enabled))
	responses := countTags(t, m.driver)

	mirror, err := m.driverB.SubscribeBoolInput("robot", "enabled", false)
	require.NoError(t, err)
	assert.Equal(t, 0, responses.count(RMT, KindBoolResponse), "nothing is requested before a consumer attaches")

	cancel := mirror.OnChange(func(bool) {})
	defer cancel()

	assert.True(t, mirror.Get())
	assert.Equal(t, 1, responses.count(RMT, KindBoolResponse))
	assert.Equal(t, []string{"driver/" + replyOf(t, m.driverB)}, peersOf(m.robotB, "BI:enabled"))
}

func replyOf(t *testing.T, b *Bridge) string {
	t.Helper()
	for _, r := range b.Records() {
		if r.Role == string(roleSubscriber) {
			return keyOf(b, r.Topic)
		}
	}
	t.Fatalf("no subscriber record")
	return ""
}

// keyOf finds the reply topic a subscriber record is stored under
func keyOf(b *Bridge, path string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, r := range b.records {
		if r.role == roleSubscriber && r.topic == path {
			return key
		}
	}
	return ""
}

func TestBridge_ChangesPropagate(t *testing.T) {
	m := newMesh(t, RMT)
	speed := cell.NewFloat(1.5)
	require.NoError(t, m.robotB.PublishFloatInput("speed", speed))

	mirror, err := m.driverB.SubscribeFloatInput("robot", "speed", true)
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), mirror.Get())

	var seen []float32
	mirror.OnChange(func(v float32) { seen = append(seen, v) })
	speed.Set(-2.25)
	speed.Set(100)

	assert.Equal(t, []float32{-2.25, 100}, seen)
}

func TestBridge_LastConsumerDetachUnsubscribes(t *testing.T) {
	m := newMesh(t, RMT)
	require.NoError(t, m.robotB.PublishBoolInput("enabled", cell.NewBool(false)))

	mirror, err := m.driverB.SubscribeBoolInput("robot", "enabled", false)
	require.NoError(t, err)

	cancelA := mirror.OnChange(func(bool) {})
	cancelB := mirror.OnChange(func(bool) {})
	require.Len(t, peersOf(m.robotB, "BI:enabled"), 1)

	cancelA()
	assert.Len(t, peersOf(m.robotB, "BI:enabled"), 1)
	cancelB()
	assert.Empty(t, peersOf(m.robotB, "BI:enabled"))
}

// gatedBool holds back the Last hook until gate is closed
type gatedBool struct {
	*cell.Bool
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedBool) SetHooks(h cell.Hooks) {
	last := h.Last
	h.Last = func() {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.gate
		last()
	}
	g.Bool.SetHooks(h)
}

func TestBridge_LateDetachDoesNotDropNewConsumer(t *testing.T) {
	m := newMesh(t, RMT)
	require.NoError(t, m.robotB.PublishBoolInput("enabled", cell.NewBool(true)))

	mirror := cell.NewBool(false)
	target := &gatedBool{Bool: mirror, entered: make(chan struct{}, 1), gate: make(chan struct{})}
	require.NoError(t, m.driverB.subscribe(router.Join("robot", PrefixBoolInput+"enabled"),
		KindBoolRequest, KindBoolResponse, KindBoolUnsubscribe, false, target,
		func(p []byte) { mirror.Set(p[1] != 0) }))

	cancelA := mirror.OnChange(func(bool) {})
	require.Len(t, peersOf(m.robotB, "BI:enabled"), 1)

	detached := make(chan struct{})
	go func() {
		defer close(detached)
		cancelA()
	}()
	<-target.entered

	cancelB := mirror.OnChange(func(bool) {})
	close(target.gate)
	<-detached

	assert.Equal(t, 1, mirror.Listeners())
	assert.Len(t, peersOf(m.robotB, "BI:enabled"), 1, "remaining consumer keeps the subscription")

	cancelB()
	assert.Empty(t, peersOf(m.robotB, "BI:enabled"))
}

func TestBridge_SubscribeByDefaultNeverUnsubscribes(t *testing.T) {
	m := newMesh(t, RMT)
	require.NoError(t, m.robotB.PublishBoolInput("enabled", cell.NewBool(true)))

	mirror, err := m.driverB.SubscribeBoolInput("robot", "enabled", true)
	require.NoError(t, err)
	assert.True(t, mirror.Get())

	cancel := mirror.OnChange(func(bool) {})
	cancel()
	assert.Len(t, peersOf(m.robotB, "BI:enabled"), 1)
}

func TestBridge_TopologyChangeResendsRequestOnce(t *testing.T) {
	m := newMesh(t, RMT)
	require.NoError(t, m.robotB.PublishBoolInput("enabled", cell.NewBool(true)))
	requests := countTags(t, m.robot)

	mirror, err := m.driverB.SubscribeBoolInput("robot", "enabled", false)
	require.NoError(t, err)
	cancel := mirror.OnChange(func(bool) {})
	require.Equal(t, 1, requests.count(RMT, KindBoolRequest))

	m.robot.NotifyNetworkModified()
	assert.Equal(t, 2, requests.count(RMT, KindBoolRequest))

	cancel()
	m.robot.NotifyNetworkModified()
	assert.Equal(t, 2, requests.count(RMT, KindBoolRequest), "no renewal once the subscription is withdrawn")
}

func TestBridge_NackRemovesPeer(t *testing.T) {
	m := newMesh(t, RMT)
	enabled := cell.NewBool(false)
	require.NoError(t, m.robotB.PublishBoolInput("enabled", enabled))

	mirror, err := m.driverB.SubscribeBoolInput("robot", "enabled", true)
	require.NoError(t, err)
	require.Len(t, peersOf(m.robotB, "BI:enabled"), 1)

	require.NoError(t, m.driverB.Close())
	enabled.Set(true)

	assert.Empty(t, peersOf(m.robotB, "BI:enabled"))
	assert.False(t, mirror.Get())
}

func TestBridge_Outputs(t *testing.T) {
	m := newMesh(t, RMT)
	motor := cell.NewBool(false)
	setpoint := cell.NewFloat(0)
	require.NoError(t, m.robotB.PublishBoolOutput("motor", motor))
	require.NoError(t, m.robotB.PublishFloatOutput("setpoint", setpoint))

	m.driverB.SubscribeBoolOutput("robot", "motor").Set(true)
	m.driverB.SubscribeFloatOutput("robot", "setpoint").Set(3.25)

	assert.True(t, motor.Get())
	assert.Equal(t, float32(3.25), setpoint.Get())
}

func TestBridge_Events(t *testing.T) {
	m := newMesh(t, RMT)
	button := cell.NewEvent()
	require.NoError(t, m.robotB.PublishEventSource("button", button))

	fired := 0
	reset := cell.NewEvent()
	reset.OnFire(func() { fired++ })
	require.NoError(t, m.robotB.PublishEventConsumer("reset", reset))

	mirror, err := m.driverB.SubscribeEventSource("robot", "button", false)
	require.NoError(t, err)
	presses := 0
	mirror.OnFire(func() { presses++ })

	button.Fire()
	button.Fire()
	m.driverB.SubscribeEventConsumer("robot", "reset").Fire()

	assert.Equal(t, 2, presses)
	assert.Equal(t, 1, fired)
}

type logEntry struct {
	level           cell.Level
	message, detail string
}

type logRecorder struct {
	entries []logEntry
}

func (l *logRecorder) Log(level cell.Level, message, detail string) {
	l.entries = append(l.entries, logEntry{level, message, detail})
}

func TestBridge_LogTarget(t *testing.T) {
	m := newMesh(t, RMT)
	rec := &logRecorder{}
	require.NoError(t, m.driverB.PublishLogTarget("console", rec))

	remote := m.robotB.SubscribeLogTarget("driver", "console")
	remote.Log(cell.LevelWarning, "brownout", "battery at 6.8V")
	remote.Log(cell.LevelInfo, "enabled", "")

	assert.Equal(t, []logEntry{
		{cell.LevelWarning, "brownout", "battery at 6.8V"},
		{cell.LevelInfo, "enabled", ""},
	}, rec.entries)
}

func TestBridge_Stream(t *testing.T) {
	m := newMesh(t, RMT)
	var buf bytes.Buffer
	require.NoError(t, m.driverB.PublishStream("camera", &buf))

	w := m.robotB.SubscribeStream("driver", "camera")
	n, err := w.Write([]byte("frame-1"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, _ = w.Write([]byte("|frame-2"))

	assert.Equal(t, "frame-1|frame-2", buf.String())
}

func TestBridge_GuardRejectsMalformed(t *testing.T) {
	m := newMesh(t, RMT)
	motor := cell.NewBool(false)
	require.NoError(t, m.robotB.PublishBoolOutput("motor", motor))

	writeTag, _ := RMT.Tag(KindBoolWrite)
	floatTag, _ := RMT.Tag(KindFloatWrite)

	for _, p := range [][]byte{nil, {writeTag}, {floatTag, 1, 0, 0, 0}} {
		m.robot.Transmit(router.Message{Destination: "BO:motor", Payload: p}, nil)
	}
	assert.False(t, motor.Get())
}

func TestBridge_Ping(t *testing.T) {
	m := newMesh(t, RMT)
	require.NoError(t, m.robotB.PublishBoolInput("enabled", cell.NewBool(true)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tag, err := m.driverB.Ping(ctx, "robot/BI:enabled")
	require.NoError(t, err)
	want, _ := RMT.Tag(KindBoolRequest)
	assert.Equal(t, want, tag)

	_, err = m.driverB.Ping(ctx, "robot/BI:missing")
	assert.ErrorIs(t, err, ErrNacked)

	_, err = m.driverB.Ping(ctx, "nowhere/BI:enabled")
	assert.ErrorIs(t, err, ErrNacked)
}

func TestBridge_PingUnsupportedByLegacy(t *testing.T) {
	m := newMesh(t, Legacy)
	_, err := m.driverB.Ping(context.Background(), "robot/BI:x")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestBridge_LegacyFormatRoundTrip(t *testing.T) {
	m := newMesh(t, Legacy)
	enabled := cell.NewBool(true)
	require.NoError(t, m.robotB.PublishBoolInput("enabled", enabled))
	requests := countTags(t, m.robot)

	mirror, err := m.driverB.SubscribeBoolInput("robot", "enabled", false)
	require.NoError(t, err)
	cancel := mirror.OnChange(func(bool) {})
	assert.True(t, mirror.Get())
	assert.Equal(t, 1, requests.counts[0x20])

	m.robot.NotifyNetworkModified()
	assert.Equal(t, 2, requests.counts[0x20])

	cancel()
	assert.Equal(t, 1, requests.counts[0x21])
	assert.Empty(t, peersOf(m.robotB, "BI:enabled"))
}

func TestBridge_DuplicatePublish(t *testing.T) {
	m := newMesh(t, RMT)
	require.NoError(t, m.robotB.PublishBoolInput("x", cell.NewBool(false)))
	assert.ErrorIs(t, m.robotB.PublishBoolInput("x", cell.NewBool(false)), ErrAlreadyPublished)
}

func TestBridge_LocalSubscription(t *testing.T) {
	n := meshRouter.NewNode(meshRouter.Config{Name: "solo"})
	b := New(n)
	require.NoError(t, b.PublishFloatInput("voltage", cell.NewFloat(12.5)))

	mirror, err := b.SubscribeFloatInput("", "voltage", true)
	require.NoError(t, err)
	assert.Equal(t, float32(12.5), mirror.Get())
}

func TestFormatByName(t *testing.T) {
	f, err := FormatByName("")
	require.NoError(t, err)
	assert.Equal(t, "rmt", f.Name())

	f, err = FormatByName("LEGACY")
	require.NoError(t, err)
	assert.Equal(t, "legacy", f.Name())
	assert.Equal(t, "subscribe(32)", f.Describe(0x20))

	_, err = FormatByName("cluck")
	assert.Error(t, err)
	assert.Nil(t, ControlPayload(Legacy, KindNack))
}

func TestLogCodec(t *testing.T) {
	body := encodeLog(cell.LevelSevere, "fault", "arm stalled")
	level, msg, detail, err := decodeLog(body)
	require.NoError(t, err)
	assert.Equal(t, cell.LevelSevere, level)
	assert.Equal(t, "fault", msg)
	assert.Equal(t, "arm stalled", detail)

	_, _, _, err = decodeLog(nil)
	assert.Error(t, err)

	_, _, _, err = decodeLog([]byte{1, 0x0a, 0x05, 'a'})
	assert.Error(t, err)
}
