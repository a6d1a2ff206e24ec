//go:build linux

package netpoll

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// wakeToken marks events from the internal eventfd. Table tokens never
// reach it.
const wakeToken = ^uint64(0)

// Poller is an epoll instance plus an eventfd used to interrupt Wait.
// Add, Modify, Delete and Wait belong to the owning goroutine; Wake may be
// called from anywhere.
type Poller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	closed atomic.Bool
	mu     sync.RWMutex // orders Wake against Close
}

// New creates a poller.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET}
	setToken(&ev, wakeToken)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &Poller{epfd: epfd, wakefd: wakefd}, nil
}

// Add registers fd with a one-shot subscription.
func (p *Poller) Add(fd int, token uint64, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, token, in)
}

// Modify re-arms fd. It must be called after every delivered event that
// the owner still cares about.
func (p *Poller) Modify(fd int, token uint64, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, token, in)
}

// Delete removes fd from the interest list.
func (p *Poller) Delete(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (p *Poller) ctl(op, fd int, token uint64, in Interest) error {
	if p.closed.Load() {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: unix.EPOLLET | unix.EPOLLONESHOT}
	if in.Has(Readable) {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in.Has(Writable) {
		ev.Events |= unix.EPOLLOUT
	}
	setToken(&ev, token)
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl: %w", err)
	}
	return nil
}

// Wait blocks until at least one descriptor is ready or Wake is called,
// and fills events. A signal interruption returns 0, nil.
func (p *Poller) Wait(events []Event) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]
	n, err := unix.EpollWait(p.epfd, raw, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		tok := getToken(&raw[i])
		if tok == wakeToken {
			p.drainWake()
			continue
		}
		var ready Interest
		flags := raw[i].Events
		if flags&unix.EPOLLIN != 0 {
			ready |= Readable
		}
		if flags&unix.EPOLLOUT != 0 {
			ready |= Writable
		}
		if flags&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			ready |= Readable | Writable
		}
		events[out] = Event{Token: tok, Ready: ready}
		out++
	}
	return out, nil
}

// Wake interrupts a blocked Wait.
func (p *Poller) Wake() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *Poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

// Close releases the epoll and eventfd descriptors.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return err
}

// The 64-bit user data word is split across the Fd and Pad fields.
func setToken(ev *unix.EpollEvent, tok uint64) {
	ev.Fd = int32(uint32(tok))
	ev.Pad = int32(uint32(tok >> 32))
}

func getToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Pad))<<32 | uint64(uint32(ev.Fd))
}
