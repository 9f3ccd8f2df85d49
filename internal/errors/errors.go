// Package errors classifies the failures robomesh components produce so that
// callers can choose a log severity and a teardown policy without string
// matching. The classes mirror the failure taxonomy of the wire protocol:
// protocol, transport, routing, decode and listener faults.
package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorProtocol covers bad magic, failed bounce and checksum mismatch.
	// Fatal to the connection and never retried by the protocol layer.
	ErrorProtocol ErrorClass = iota
	// ErrorTransport covers closed, reset and broken streams. Expected during
	// normal operation.
	ErrorTransport
	// ErrorRouting covers destinations naming an unknown link.
	ErrorRouting
	// ErrorDecode covers payloads with the wrong tag or length.
	ErrorDecode
	// ErrorListener covers a subscriber callback that panicked.
	ErrorListener
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorProtocol:
		return "protocol"
	case ErrorTransport:
		return "transport"
	case ErrorRouting:
		return "routing"
	case ErrorDecode:
		return "decode"
	case ErrorListener:
		return "listener"
	default:
		return "unknown"
	}
}

// Standard error variables shared across packages
var (
	ErrStreamClosed   = errors.New("stream closed")
	ErrUnknownLink    = errors.New("unknown link")
	ErrListenerPanic  = errors.New("listener panicked")
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrClosed         = errors.New("component closed")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Component == "" {
		return ce.Class.String() + " error: " + ce.Err.Error()
	}
	return ce.Component + "." + ce.Operation + ": " + ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func wrap(class ErrorClass, err error, component, operation string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err, Component: component, Operation: operation}
}

// WrapProtocol marks err as a protocol violation
func WrapProtocol(err error, component, operation string) error {
	return wrap(ErrorProtocol, err, component, operation)
}

// WrapTransport marks err as a transport failure
func WrapTransport(err error, component, operation string) error {
	return wrap(ErrorTransport, err, component, operation)
}

// WrapRouting marks err as a routing failure
func WrapRouting(err error, component, operation string) error {
	return wrap(ErrorRouting, err, component, operation)
}

// WrapDecode marks err as an application decode failure
func WrapDecode(err error, component, operation string) error {
	return wrap(ErrorDecode, err, component, operation)
}

// WrapListener marks err as a listener fault
func WrapListener(err error, component, operation string) error {
	return wrap(ErrorListener, err, component, operation)
}

// ClassOf returns the class of err and whether it was classified.
func ClassOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsProtocol checks if an error is a protocol violation
func IsProtocol(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ErrorProtocol
}

// IsRouting checks if an error is a routing failure
func IsRouting(err error) bool {
	class, ok := ClassOf(err)
	return (ok && class == ErrorRouting) || errors.Is(err, ErrUnknownLink)
}

// IsDecode checks if an error is a decode failure
func IsDecode(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ErrorDecode
}

// IsTransport checks if an error is a transport failure. Unclassified I/O
// errors from the net and io packages are treated as transport failures.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := ClassOf(err); ok && class == ErrorTransport {
		return true
	}
	if IsStreamClosed(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsStreamClosed reports the distinguished "stream closed" condition: a clean
// EOF or a use of an already closed connection. These are logged at low
// severity.
func IsStreamClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStreamClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
