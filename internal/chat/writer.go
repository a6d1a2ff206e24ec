package chat

import (
	"errors"

	"github.com/andy6609/michat/internal/netpoll"
)

// enqueue queues line plus a newline for the next writable event. Only
// the reactor calls it, for the connection's own lines too.
func (c *Connection) enqueue(line string) {
	c.writeBuf = append(c.writeBuf, line...)
	c.writeBuf = append(c.writeBuf, '\n')
}

// write makes one non-blocking attempt to flush writeBuf and keeps the
// unsent tail.
func (c *Connection) write() {
	if len(c.writeBuf) == 0 {
		return
	}
	n, err := c.sock.Write(c.writeBuf)
	switch {
	case errors.Is(err, netpoll.ErrWouldBlock):
		c.logger.Debug("write would block")
	case err != nil:
		c.logger.Warn("write failed", "error", err)
		c.failed = true
	default:
		c.logger.Debug("wrote", "bytes", n, "buffered", len(c.writeBuf))
		c.writeBuf = c.writeBuf[:copy(c.writeBuf, c.writeBuf[n:])]
	}
}
