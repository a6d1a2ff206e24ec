package chat

import (
	"errors"
	"log/slog"

	"github.com/andy6609/michat/internal/netpoll"
	"github.com/andy6609/michat/internal/slab"
)

// lineRouter turns one framed line from a connection into a command.
type lineRouter func(from slab.Token, line string) Command

// Connection is one client socket with its buffers and readiness state.
// It is owned by the reactor goroutine.
type Connection struct {
	sock   Stream
	token  slab.Token
	route  lineRouter
	logger *slog.Logger

	status   netpoll.Interest // reported but not yet processed
	armed    netpoll.Interest // interest of the current subscription
	needsArm bool             // the one-shot subscription has fired

	framer   Framer
	scratch  []byte
	writeBuf []byte
	readEOF  bool
	failed   bool
	closing  bool // CloseConnection emitted, not yet applied
}

func newConnection(sock Stream, token slab.Token, route lineRouter, readSize int, logger *slog.Logger) *Connection {
	return &Connection{
		sock:    sock,
		token:   token,
		route:   route,
		scratch: make([]byte, readSize),
		logger:  logger.With("token", token.String(), "remote", sock.RemoteAddr()),
	}
}

func (c *Connection) register(reg Registrar) error {
	if err := reg.Add(c.sock.Fd(), c.token.Uint64(), netpoll.Readable); err != nil {
		return err
	}
	c.armed = netpoll.Readable
	return nil
}

func (c *Connection) handleEvent(ready netpoll.Interest) {
	c.status |= ready
	c.needsArm = true
	c.logger.Debug("connection event", "ready", ready.String(), "pending", c.status.String())
}

func (c *Connection) process(reg Registrar, emit func(Command)) error {
	if c.status.Has(netpoll.Readable) {
		c.status &^= netpoll.Readable
		if !c.readEOF {
			c.read()
		}
	}

	for _, line := range c.framer.Lines() {
		emit(c.route(c.token, line))
	}

	if c.status.Has(netpoll.Writable) {
		c.status &^= netpoll.Writable
		c.write()
	}

	if c.closable() {
		c.retire(emit)
		return nil
	}
	if err := c.rearm(reg); err != nil {
		c.failed = true
		c.retire(emit)
		return err
	}
	return nil
}

// retire emits CloseConnection once. A closable connection is never
// re-armed, so it leaves no subscription behind.
func (c *Connection) retire(emit func(Command)) {
	if c.closing {
		return
	}
	c.closing = true
	emit(CloseConnection{Token: c.token})
}

func (c *Connection) read() {
	n, err := c.sock.Read(c.scratch)
	switch {
	case errors.Is(err, netpoll.ErrWouldBlock):
		c.logger.Debug("read would block")
	case err != nil:
		c.logger.Warn("read failed", "error", err)
		c.failed = true
	case n == 0:
		c.logger.Debug("peer closed write side")
		c.readEOF = true
	default:
		c.logger.Debug("read", "bytes", n)
		c.framer.Append(c.scratch[:n])
	}
}

func (c *Connection) rearm(reg Registrar) error {
	want := c.interest()
	if !c.needsArm && want == c.armed {
		return nil
	}
	if err := reg.Modify(c.sock.Fd(), c.token.Uint64(), want); err != nil {
		return err
	}
	c.armed = want
	c.needsArm = false
	return nil
}

// interest is Readable until EOF, plus Writable while output is queued.
func (c *Connection) interest() netpoll.Interest {
	var in netpoll.Interest
	if !c.readEOF {
		in |= netpoll.Readable
	}
	if len(c.writeBuf) > 0 {
		in |= netpoll.Writable
	}
	return in
}

// closable reports whether the connection can be dropped without losing
// queued output.
func (c *Connection) closable() bool {
	return c.failed || (c.readEOF && len(c.writeBuf) == 0)
}

func (c *Connection) Token() slab.Token { return c.token }
