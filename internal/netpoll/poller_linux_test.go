//go:build linux

package netpoll

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func socketPair(t *testing.T) (*Socket, *Socket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	a, b := &Socket{fd: fds[0]}, &Socket{fd: fds[1]}
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestPoller_ReadableEventCarriesToken(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	const tok = uint64(7)<<32 | 3
	require.NoError(t, p.Add(a.Fd(), tok, Readable))

	_, err := b.Write([]byte("x"))
	require.NoError(t, err)

	events := make([]Event, 8)
	n, err := p.Wait(events)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, tok, events[0].Token)
	require.True(t, events[0].Ready.Has(Readable))
}

func TestPoller_ModifyRearmsWithPendingData(t *testing.T) {
	p := newPoller(t)
	a, b := socketPair(t)

	require.NoError(t, p.Add(a.Fd(), 1, Readable))
	_, err := b.Write([]byte("abc"))
	require.NoError(t, err)

	events := make([]Event, 8)
	n, err := p.Wait(events)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Data is still unread; re-arming must report it again.
	require.NoError(t, p.Modify(a.Fd(), 1, Readable|Writable))
	n, err = p.Wait(events)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, Readable|Writable, events[0].Ready)
}

func TestPoller_WakeInterruptsWait(t *testing.T) {
	p := newPoller(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = p.Wake()
	}()

	events := make([]Event, 4)
	n, err := p.Wait(events)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSocket_ReadWouldBlockAndEOF(t *testing.T) {
	a, b := socketPair(t)
	buf := make([]byte, 16)

	_, err := a.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)

	require.NoError(t, unix.Shutdown(b.Fd(), unix.SHUT_WR))
	n, err := a.Read(buf)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestListen_AcceptsLoopbackClient(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	require.NotZero(t, ln.Addr().Port)

	_, err = ln.Accept()
	require.ErrorIs(t, err, ErrWouldBlock)

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var s *Socket
	require.Eventually(t, func() bool {
		s, err = ln.Accept()
		return err == nil
	}, time.Second, 5*time.Millisecond)
	t.Cleanup(func() { _ = s.Close() })
	require.Equal(t, c.LocalAddr().String(), s.RemoteAddr())
}
