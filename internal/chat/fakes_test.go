package chat

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/andy6609/michat/internal/netpoll"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream scripts read results and records writes.
type fakeStream struct {
	fd int

	chunks  [][]byte // delivered one per Read
	eof     bool     // once chunks run out, Read returns 0, nil
	readErr error

	out        bytes.Buffer
	writeLimit int // bytes accepted per Write; 0 means all
	blocked    bool
	writeErr   error
	writes     int

	closed bool
}

func (s *fakeStream) Fd() int            { return s.fd }
func (s *fakeStream) RemoteAddr() string { return fmt.Sprintf("fake:%d", s.fd) }

func (s *fakeStream) Read(p []byte) (int, error) {
	if len(s.chunks) > 0 {
		n := copy(p, s.chunks[0])
		s.chunks[0] = s.chunks[0][n:]
		if len(s.chunks[0]) == 0 {
			s.chunks = s.chunks[1:]
		}
		return n, nil
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	if s.eof {
		return 0, nil
	}
	return 0, netpoll.ErrWouldBlock
}

func (s *fakeStream) Write(p []byte) (int, error) {
	s.writes++
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.blocked {
		return 0, netpoll.ErrWouldBlock
	}
	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	s.out.Write(p[:n])
	return n, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeAcceptor hands out queued streams.
type fakeAcceptor struct {
	fd      int
	pending []*fakeStream
	err     error
	closed  bool
}

func (a *fakeAcceptor) Fd() int { return a.fd }

func (a *fakeAcceptor) Accept() (Stream, error) {
	if a.err != nil {
		return nil, a.err
	}
	if len(a.pending) == 0 {
		return nil, netpoll.ErrWouldBlock
	}
	s := a.pending[0]
	a.pending = a.pending[1:]
	return s, nil
}

func (a *fakeAcceptor) Close() error {
	a.closed = true
	return nil
}

// fakePoller records subscriptions; Wait is never used by tick-level tests.
type fakePoller struct {
	armed     map[int]netpoll.Interest
	tokens    map[int]uint64
	adds      int
	modifies  int
	deleted   []int
	modifyErr error
	wakes     int
	closed    bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{armed: map[int]netpoll.Interest{}, tokens: map[int]uint64{}}
}

func (p *fakePoller) Add(fd int, tok uint64, in netpoll.Interest) error {
	p.adds++
	p.armed[fd] = in
	p.tokens[fd] = tok
	return nil
}

func (p *fakePoller) Modify(fd int, tok uint64, in netpoll.Interest) error {
	if p.modifyErr != nil {
		return p.modifyErr
	}
	if _, ok := p.armed[fd]; !ok {
		return fmt.Errorf("modify unregistered fd %d", fd)
	}
	p.modifies++
	p.armed[fd] = in
	p.tokens[fd] = tok
	return nil
}

func (p *fakePoller) Delete(fd int) error {
	delete(p.armed, fd)
	delete(p.tokens, fd)
	p.deleted = append(p.deleted, fd)
	return nil
}

func (p *fakePoller) Wait([]netpoll.Event) (int, error) { return 0, nil }

func (p *fakePoller) Wake() error {
	p.wakes++
	return nil
}

func (p *fakePoller) Close() error {
	p.closed = true
	return nil
}

// collect gathers emitted commands.
type collect []Command

func (c *collect) emit(cmd Command) { *c = append(*c, cmd) }
