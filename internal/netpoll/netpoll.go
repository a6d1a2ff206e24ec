// Package netpoll wraps the OS readiness multiplexer and raw non-blocking
// TCP sockets. Registrations are edge-triggered and one-shot: after an
// event is delivered for a descriptor it stays silent until re-armed with
// Modify.
package netpoll

import "errors"

// Interest is a set of readiness conditions.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Has reports whether every bit of o is set in i.
func (i Interest) Has(o Interest) bool { return i&o == o }

func (i Interest) String() string {
	switch i {
	case 0:
		return "none"
	case Readable:
		return "r"
	case Writable:
		return "w"
	case Readable | Writable:
		return "rw"
	}
	return "?"
}

// Event is one readiness notification. Hangups and socket errors are
// reported as Readable|Writable so the following read or write sees them.
type Event struct {
	Token uint64
	Ready Interest
}

var (
	// ErrWouldBlock is returned by socket operations that cannot make
	// progress without blocking.
	ErrWouldBlock = errors.New("netpoll: operation would block")
	// ErrUnsupported is returned on platforms without an implementation.
	ErrUnsupported = errors.New("netpoll: platform not supported")
	// ErrClosed is returned by a poller after Close.
	ErrClosed = errors.New("netpoll: poller closed")
)
