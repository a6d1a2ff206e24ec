package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andy6609/michat/internal/netpoll"
	"github.com/andy6609/michat/internal/slab"
)

func newTestConn(t *testing.T, s *fakeStream, mode Mode) (*Connection, *fakePoller) {
	t.Helper()
	p := newFakePoller()
	c := newConnection(s, slab.FromUint64(uint64(s.fd)), mode.router(), 16, discardLogger())
	require.NoError(t, c.register(p))
	return c, p
}

// step delivers ready to c and runs one processing pass.
func step(t *testing.T, c *Connection, p *fakePoller, ready netpoll.Interest) []Command {
	t.Helper()
	var out collect
	if ready != 0 {
		c.handleEvent(ready)
	}
	require.NoError(t, c.process(p, out.emit))
	return out
}

func TestConnection_FramesReadsIntoBroadcasts(t *testing.T) {
	s := &fakeStream{fd: 3, chunks: [][]byte{[]byte("hel"), []byte("lo\nwor"), []byte("ld\n")}}
	c, p := newTestConn(t, s, ModeBroadcast)

	require.Empty(t, step(t, c, p, netpoll.Readable))
	require.Equal(t, []Command{Broadcast{Text: "hello"}}, []Command(step(t, c, p, netpoll.Readable)))
	require.Equal(t, []Command{Broadcast{Text: "world"}}, []Command(step(t, c, p, netpoll.Readable)))

	// Nothing left: would-block is a no-op and the connection stays open.
	require.Empty(t, step(t, c, p, netpoll.Readable))
	require.False(t, c.closable())
	require.Equal(t, netpoll.Readable, p.armed[3])
}

func TestConnection_ShortReadIsNotEOF(t *testing.T) {
	// 40 bytes against a 16-byte scratch buffer: three reads, no EOF.
	s := &fakeStream{fd: 3, chunks: [][]byte{[]byte("0123456789012345678901234567890123456789\n")}}
	c, p := newTestConn(t, s, ModeBroadcast)

	require.Empty(t, step(t, c, p, netpoll.Readable))
	require.Empty(t, step(t, c, p, netpoll.Readable))
	require.False(t, c.readEOF)
	cmds := step(t, c, p, netpoll.Readable)
	require.Equal(t, []Command{Broadcast{Text: "0123456789012345678901234567890123456789"}}, []Command(cmds))
}

func TestConnection_KeyValueRouting(t *testing.T) {
	s := &fakeStream{fd: 4, chunks: [][]byte{[]byte("v1\n\n")}}
	c, p := newTestConn(t, s, ModeKV)

	cmds := step(t, c, p, netpoll.Readable)
	require.Equal(t, []Command{Set{Text: "v1"}, Get{Token: c.Token()}}, []Command(cmds))
}

func TestConnection_InterestFollowsWriteBuffer(t *testing.T) {
	s := &fakeStream{fd: 5}
	c, p := newTestConn(t, s, ModeBroadcast)

	require.Equal(t, netpoll.Readable, c.interest())

	c.enqueue("hi")
	step(t, c, p, 0)
	require.Equal(t, netpoll.Readable|netpoll.Writable, p.armed[5])

	step(t, c, p, netpoll.Writable)
	require.Equal(t, "hi\n", s.out.String())
	require.Equal(t, netpoll.Readable, p.armed[5])
}

func TestConnection_RearmsOnlyWhenConsumedOrChanged(t *testing.T) {
	s := &fakeStream{fd: 5}
	c, p := newTestConn(t, s, ModeBroadcast)

	step(t, c, p, 0)
	step(t, c, p, 0)
	require.Zero(t, p.modifies, "armed subscription with unchanged interest")

	step(t, c, p, netpoll.Readable)
	require.Equal(t, 1, p.modifies, "one-shot subscription fired and must be re-armed")

	step(t, c, p, 0)
	require.Equal(t, 1, p.modifies)
}

func TestConnection_PartialWriteRetriesSuffix(t *testing.T) {
	s := &fakeStream{fd: 6, writeLimit: 3}
	c, p := newTestConn(t, s, ModeBroadcast)

	c.enqueue("abcdefgh")
	step(t, c, p, 0)

	for i := 0; i < 10 && len(c.writeBuf) > 0; i++ {
		require.True(t, p.armed[6].Has(netpoll.Writable))
		step(t, c, p, netpoll.Writable)
	}
	require.Equal(t, "abcdefgh\n", s.out.String())
	require.Equal(t, 3, s.writes)
	require.Equal(t, netpoll.Readable, p.armed[6])
}

func TestConnection_WriteWouldBlockKeepsBuffer(t *testing.T) {
	s := &fakeStream{fd: 6, blocked: true}
	c, p := newTestConn(t, s, ModeBroadcast)

	c.enqueue("x")
	step(t, c, p, netpoll.Writable)
	require.Equal(t, []byte("x\n"), c.writeBuf)
	require.False(t, c.failed)

	s.blocked = false
	step(t, c, p, netpoll.Writable)
	require.Equal(t, "x\n", s.out.String())
}

func TestConnection_EOFWaitsForQueuedWrites(t *testing.T) {
	s := &fakeStream{fd: 7, eof: true, blocked: true}
	c, p := newTestConn(t, s, ModeBroadcast)
	c.enqueue("bye")

	cmds := step(t, c, p, netpoll.Readable|netpoll.Writable)
	require.Empty(t, cmds)
	require.True(t, c.readEOF)
	require.False(t, c.closable())
	require.Equal(t, netpoll.Writable, p.armed[7], "no read interest after EOF")

	s.blocked = false
	cmds = step(t, c, p, netpoll.Writable)
	require.Equal(t, []Command{CloseConnection{Token: c.Token()}}, []Command(cmds))
	require.Equal(t, "bye\n", s.out.String())

	// A retired connection emits its close once and is not re-armed.
	modifies := p.modifies
	require.Empty(t, step(t, c, p, 0))
	require.Equal(t, modifies, p.modifies)
}

func TestConnection_ReadErrorFailsConnection(t *testing.T) {
	s := &fakeStream{fd: 8, readErr: errors.New("connection reset")}
	c, p := newTestConn(t, s, ModeBroadcast)
	c.enqueue("never sent")

	cmds := step(t, c, p, netpoll.Readable)
	require.True(t, c.failed)
	require.True(t, c.closable())
	require.Equal(t, []Command{CloseConnection{Token: c.Token()}}, []Command(cmds))
}

func TestConnection_WriteErrorFailsConnection(t *testing.T) {
	s := &fakeStream{fd: 8, writeErr: errors.New("broken pipe")}
	c, p := newTestConn(t, s, ModeBroadcast)
	c.enqueue("x")

	cmds := step(t, c, p, netpoll.Writable)
	require.True(t, c.failed)
	require.Equal(t, []Command{CloseConnection{Token: c.Token()}}, []Command(cmds))
}

func TestConnection_RearmFailureRetires(t *testing.T) {
	s := &fakeStream{fd: 9}
	c, p := newTestConn(t, s, ModeBroadcast)
	p.modifyErr = errors.New("bad fd")

	c.handleEvent(netpoll.Readable)
	var out collect
	require.Error(t, c.process(p, out.emit))
	require.True(t, c.failed)
	require.Equal(t, []Command{CloseConnection{Token: c.Token()}}, []Command(out))
}
