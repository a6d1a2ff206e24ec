package chat

import (
	"github.com/andy6609/michat/internal/netpoll"
	"github.com/andy6609/michat/internal/slab"
)

// Stream is the transport a Connection drives. Read and Write never block;
// they return netpoll.ErrWouldBlock instead.
type Stream interface {
	Fd() int
	RemoteAddr() string
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Acceptor is the transport a Listener drives.
type Acceptor interface {
	Fd() int
	Accept() (Stream, error)
	Close() error
}

// Registrar is the part of the poller table entries use to (re)arm
// their one-shot subscriptions.
type Registrar interface {
	Add(fd int, token uint64, in netpoll.Interest) error
	Modify(fd int, token uint64, in netpoll.Interest) error
	Delete(fd int) error
}

// Poller is the readiness multiplexer owned by the reactor.
type Poller interface {
	Registrar
	Wait(events []netpoll.Event) (int, error)
	Wake() error
	Close() error
}

// Command is produced by table entries and the model during a tick and
// applied by the reactor in emission order.
type Command interface {
	kind() string
}

// Broadcast fans Text out to every live connection, the sender included.
type Broadcast struct{ Text string }

// NewConnection carries a freshly accepted transport.
type NewConnection struct{ Stream Stream }

// CloseConnection retires a closable connection.
type CloseConnection struct{ Token slab.Token }

// Set replaces the stored value.
type Set struct{ Text string }

// Get asks for the stored value on behalf of Token.
type Get struct{ Token slab.Token }

// Reply is a line addressed to exactly one connection.
type Reply struct {
	Token slab.Token
	Text  string
}

func (Broadcast) kind() string       { return "broadcast" }
func (NewConnection) kind() string   { return "new_connection" }
func (CloseConnection) kind() string { return "close_connection" }
func (Set) kind() string             { return "set" }
func (Get) kind() string             { return "get" }
func (Reply) kind() string           { return "reply" }

// entry is the table element: exactly *Listener or *Connection.
type entry interface {
	handleEvent(ready netpoll.Interest)
	process(reg Registrar, emit func(Command)) error
	rearm(reg Registrar) error
	closable() bool
}

var (
	_ entry = (*Listener)(nil)
	_ entry = (*Connection)(nil)
)

var (
	ErrInvalidMode = errorString("invalid mode")
	ErrStopped     = errorString("stopped")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// socketAcceptor adapts a netpoll listening socket to Acceptor.
type socketAcceptor struct {
	*netpoll.ListenSocket
}

func (a socketAcceptor) Accept() (Stream, error) {
	s, err := a.ListenSocket.Accept()
	if err != nil {
		return nil, err
	}
	return s, nil
}
