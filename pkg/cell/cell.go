// Package cell provides the minimal reactive value shapes robomesh carries
// between processes: settable booleans and floats, fireable events, byte sinks
// and log sinks.
//
// The interfaces are what the bridge consumes. Cell and Event are small
// concrete implementations good enough for tests, examples and simple
// applications; richer dataflow libraries only need to satisfy the interfaces.
package cell

import (
	"io"
	"sync"
)

// Input is a value whose changes can be observed
type Input[T any] interface {
	Get() T
	// OnChange registers fn and returns a function that removes it
	OnChange(fn func(T)) (cancel func())
}

// Output is a value that can be set
type Output[T any] interface {
	Set(v T)
}

// BoolInput is an observable boolean
type BoolInput = Input[bool]

// BoolOutput is a settable boolean
type BoolOutput = Output[bool]

// FloatInput is an observable float
type FloatInput = Input[float32]

// FloatOutput is a settable float
type FloatOutput = Output[float32]

// EventSource is something that can be listened to for firings
type EventSource interface {
	OnFire(fn func()) (cancel func())
}

// EventConsumer is something that can be fired
type EventConsumer interface {
	Fire()
}

// ByteSink receives raw byte chunks
type ByteSink = io.Writer

// Level is a log record severity
type Level uint8

const (
	LevelFinest Level = iota
	LevelFiner
	LevelFine
	LevelConfig
	LevelInfo
	LevelWarning
	LevelSevere
)

func (l Level) String() string {
	switch l {
	case LevelFinest:
		return "FINEST"
	case LevelFiner:
		return "FINER"
	case LevelFine:
		return "FINE"
	case LevelConfig:
		return "CONFIG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelSevere:
		return "SEVERE"
	default:
		return "UNKNOWN"
	}
}

// LogSink accepts log records
type LogSink interface {
	Log(level Level, message, detail string)
}

// Hooks observe a cell gaining its first listener and losing its last one.
// Both run outside the cell's lock.
type Hooks struct {
	First func()
	Last  func()
}

// observers is the listener registry shared by Cell and Event
type observers[F any] struct {
	mu    sync.Mutex
	next  int
	fns   map[int]F
	hooks Hooks
}

func (o *observers[F]) add(fn F) (cancel func()) {
	o.mu.Lock()
	if o.fns == nil {
		o.fns = make(map[int]F)
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	first := len(o.fns) == 1
	hook := o.hooks.First
	o.mu.Unlock()

	if first && hook != nil {
		hook()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fns, id)
			last := len(o.fns) == 0
			hook := o.hooks.Last
			o.mu.Unlock()
			if last && hook != nil {
				hook()
			}
		})
	}
}

func (o *observers[F]) snapshot() []F {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]F, 0, len(o.fns))
	for _, fn := range o.fns {
		out = append(out, fn)
	}
	return out
}

func (o *observers[F]) setHooks(h Hooks) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks = h
}

func (o *observers[F]) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.fns)
}

// Cell is a settable, observable value. Listeners are notified only when
// the value actually changes.
type Cell[T comparable] struct {
	mu    sync.Mutex
	value T
	obs   observers[func(T)]
}

// Bool is a boolean cell
type Bool = Cell[bool]

// Float is a float cell
type Float = Cell[float32]

// New creates a cell holding initial
func New[T comparable](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// NewBool creates a boolean cell
func NewBool(initial bool) *Bool { return New(initial) }

// NewFloat creates a float cell
func NewFloat(initial float32) *Float { return New(initial) }

// Get returns the current value
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set stores v and notifies listeners if it differs from the current value
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	if c.value == v {
		c.mu.Unlock()
		return
	}
	c.value = v
	c.mu.Unlock()

	for _, fn := range c.obs.snapshot() {
		fn(v)
	}
}

// OnChange registers fn for future changes
func (c *Cell[T]) OnChange(fn func(T)) (cancel func()) {
	return c.obs.add(fn)
}

// SetHooks installs first/last listener hooks
func (c *Cell[T]) SetHooks(h Hooks) {
	c.obs.setHooks(h)
}

// Listeners returns the number of registered listeners
func (c *Cell[T]) Listeners() int {
	return c.obs.count()
}

// Event is a fireable, observable event
type Event struct {
	obs observers[func()]
}

// NewEvent creates an event with no listeners
func NewEvent() *Event {
	return &Event{}
}

// Fire notifies every listener
func (e *Event) Fire() {
	for _, fn := range e.obs.snapshot() {
		fn()
	}
}

// OnFire registers fn for future firings
func (e *Event) OnFire(fn func()) (cancel func()) {
	return e.obs.add(fn)
}

// SetHooks installs first/last listener hooks
func (e *Event) SetHooks(h Hooks) {
	e.obs.setHooks(h)
}

// Listeners returns the number of registered listeners
func (e *Event) Listeners() int {
	return e.obs.count()
}

// Compile-time interface checks
var (
	_ BoolInput     = (*Bool)(nil)
	_ BoolOutput    = (*Bool)(nil)
	_ FloatInput    = (*Float)(nil)
	_ FloatOutput   = (*Float)(nil)
	_ EventSource   = (*Event)(nil)
	_ EventConsumer = (*Event)(nil)
)
