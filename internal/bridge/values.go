package bridge

import (
	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/pkg/cell"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// publishSink registers a listener on topic that hands accepted payloads of
// kind to apply
func (b *Bridge) publishSink(topic string, kind Kind, apply func(msg router.Message)) error {
	if _, err := b.newRecord(topic, topic, roleSink); err != nil {
		return err
	}
	err := b.listen(topic, func(msg router.Message) {
		if _, v := b.guard(msg, kind); v == accepted {
			apply(msg)
		}
	})
	if err != nil {
		b.dropRecord(topic)
	}
	return err
}

// PublishBoolInput exposes in as BI:<name>
func (b *Bridge) PublishBoolInput(name string, in cell.BoolInput) error {
	p, err := b.publishProducer(PrefixBoolInput+name, KindBoolRequest, KindBoolResponse, KindBoolUnsubscribe,
		func() []byte { return encodeBool(in.Get()) })
	if err != nil {
		return err
	}
	in.OnChange(func(v bool) { p.broadcast(encodeBool(v)) })
	return nil
}

// PublishBoolOutput makes out settable through BO:<name>
func (b *Bridge) PublishBoolOutput(name string, out cell.BoolOutput) error {
	return b.publishSink(PrefixBoolOutput+name, KindBoolWrite, func(msg router.Message) {
		out.Set(msg.Payload[1] != 0)
	})
}

// SubscribeBoolInput mirrors the remote BI:<name> found at peer. The request
// is sent when the returned cell gets its first listener, or immediately if
// byDefault is set; a byDefault subscription is never withdrawn.
func (b *Bridge) SubscribeBoolInput(peer, name string, byDefault bool) (*cell.Bool, error) {
	c := cell.NewBool(false)
	err := b.subscribe(router.Join(peer, PrefixBoolInput+name),
		KindBoolRequest, KindBoolResponse, KindBoolUnsubscribe, byDefault, c,
		func(p []byte) { c.Set(p[1] != 0) })
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SubscribeBoolOutput returns a setter for the remote BO:<name> at peer
func (b *Bridge) SubscribeBoolOutput(peer, name string) cell.BoolOutput {
	return remoteBool{b: b, path: router.Join(peer, PrefixBoolOutput+name)}
}

type remoteBool struct {
	b    *Bridge
	path string
}

func (r remoteBool) Set(v bool) {
	r.b.send(r.path, "", KindBoolWrite, encodeBool(v)...)
}

// PublishFloatInput exposes in as FI:<name>
func (b *Bridge) PublishFloatInput(name string, in cell.FloatInput) error {
	p, err := b.publishProducer(PrefixFloatInput+name, KindFloatRequest, KindFloatResponse, KindFloatUnsubscribe,
		func() []byte { return encodeFloat(in.Get()) })
	if err != nil {
		return err
	}
	in.OnChange(func(v float32) { p.broadcast(encodeFloat(v)) })
	return nil
}

// PublishFloatOutput makes out settable through FO:<name>
func (b *Bridge) PublishFloatOutput(name string, out cell.FloatOutput) error {
	return b.publishSink(PrefixFloatOutput+name, KindFloatWrite, func(msg router.Message) {
		out.Set(decodeFloat(msg.Payload))
	})
}

// SubscribeFloatInput mirrors the remote FI:<name> found at peer
func (b *Bridge) SubscribeFloatInput(peer, name string, byDefault bool) (*cell.Float, error) {
	c := cell.NewFloat(0)
	err := b.subscribe(router.Join(peer, PrefixFloatInput+name),
		KindFloatRequest, KindFloatResponse, KindFloatUnsubscribe, byDefault, c,
		func(p []byte) { c.Set(decodeFloat(p)) })
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SubscribeFloatOutput returns a setter for the remote FO:<name> at peer
func (b *Bridge) SubscribeFloatOutput(peer, name string) cell.FloatOutput {
	return remoteFloat{b: b, path: router.Join(peer, PrefixFloatOutput+name)}
}

type remoteFloat struct {
	b    *Bridge
	path string
}

func (r remoteFloat) Set(v float32) {
	r.b.send(r.path, "", KindFloatWrite, encodeFloat(v)...)
}

// PublishEventSource forwards firings of src to subscribers of ES:<name>
func (b *Bridge) PublishEventSource(name string, src cell.EventSource) error {
	p, err := b.publishProducer(PrefixEventSource+name, KindEventRequest, KindEventResponse, KindEventUnsubscribe, nil)
	if err != nil {
		return err
	}
	src.OnFire(func() { p.broadcast(nil) })
	return nil
}

// PublishEventConsumer fires c when EC:<name> receives a fire message
func (b *Bridge) PublishEventConsumer(name string, c cell.EventConsumer) error {
	return b.publishSink(PrefixEventConsumer+name, KindEventFire, func(router.Message) {
		c.Fire()
	})
}

// SubscribeEventSource returns a local event fired whenever the remote
// ES:<name> at peer fires
func (b *Bridge) SubscribeEventSource(peer, name string, byDefault bool) (*cell.Event, error) {
	e := cell.NewEvent()
	err := b.subscribe(router.Join(peer, PrefixEventSource+name),
		KindEventRequest, KindEventResponse, KindEventUnsubscribe, byDefault, e,
		func([]byte) { e.Fire() })
	if err != nil {
		return nil, err
	}
	return e, nil
}

// SubscribeEventConsumer returns an event that fires the remote EC:<name>
func (b *Bridge) SubscribeEventConsumer(peer, name string) cell.EventConsumer {
	return remoteEvent{b: b, path: router.Join(peer, PrefixEventConsumer+name)}
}

type remoteEvent struct {
	b    *Bridge
	path string
}

func (r remoteEvent) Fire() {
	r.b.send(r.path, "", KindEventFire)
}

// PublishLogTarget delivers log records sent to LT:<name> into sink
func (b *Bridge) PublishLogTarget(name string, sink cell.LogSink) error {
	topic := PrefixLogTarget + name
	return b.publishSink(topic, KindLogRecord, func(msg router.Message) {
		level, message, detail, err := decodeLog(msg.Payload[1:])
		if err != nil {
			b.logger.Warn("Dropping malformed log record", "topic", topic, "source", msg.Source,
				"error", meshErrors.WrapDecode(err, "bridge", "PublishLogTarget"))
			return
		}
		sink.Log(level, message, detail)
	})
}

// SubscribeLogTarget returns a sink that sends records to the remote LT:<name>
func (b *Bridge) SubscribeLogTarget(peer, name string) cell.LogSink {
	return remoteLog{b: b, path: router.Join(peer, PrefixLogTarget+name)}
}

type remoteLog struct {
	b    *Bridge
	path string
}

func (r remoteLog) Log(level cell.Level, message, detail string) {
	r.b.send(r.path, "", KindLogRecord, encodeLog(level, message, detail)...)
}

// PublishStream writes chunks sent to STR:<name> into w
func (b *Bridge) PublishStream(name string, w cell.ByteSink) error {
	topic := PrefixStream + name
	return b.publishSink(topic, KindStreamChunk, func(msg router.Message) {
		if _, err := w.Write(msg.Payload[1:]); err != nil {
			b.logger.Warn("Stream sink rejected chunk", "topic", topic, "error", err)
		}
	})
}

// SubscribeStream returns a writer whose writes become chunks on the remote
// STR:<name>. Writes never fail; delivery is best effort.
func (b *Bridge) SubscribeStream(peer, name string) cell.ByteSink {
	return remoteStream{b: b, path: router.Join(peer, PrefixStream+name)}
}

type remoteStream struct {
	b    *Bridge
	path string
}

func (r remoteStream) Write(p []byte) (int, error) {
	r.b.send(r.path, "", KindStreamChunk, p...)
	return len(p), nil
}
