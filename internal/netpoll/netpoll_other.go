//go:build !linux

package netpoll

import "net"

// Poller is not implemented on this platform.
type Poller struct{}

// New returns ErrUnsupported.
func New() (*Poller, error) { return nil, ErrUnsupported }

func (p *Poller) Add(int, uint64, Interest) error    { return ErrUnsupported }
func (p *Poller) Modify(int, uint64, Interest) error { return ErrUnsupported }
func (p *Poller) Delete(int) error                   { return ErrUnsupported }
func (p *Poller) Wait([]Event) (int, error)          { return 0, ErrUnsupported }
func (p *Poller) Wake() error                        { return ErrUnsupported }
func (p *Poller) Close() error                       { return nil }

// Socket is not implemented on this platform.
type Socket struct{}

func (s *Socket) Fd() int                   { return -1 }
func (s *Socket) RemoteAddr() string        { return "" }
func (s *Socket) Read([]byte) (int, error)  { return 0, ErrUnsupported }
func (s *Socket) Write([]byte) (int, error) { return 0, ErrUnsupported }
func (s *Socket) Close() error              { return nil }

// ListenSocket is not implemented on this platform.
type ListenSocket struct{}

// Listen returns ErrUnsupported.
func Listen(string) (*ListenSocket, error) { return nil, ErrUnsupported }

func (l *ListenSocket) Fd() int                  { return -1 }
func (l *ListenSocket) Addr() *net.TCPAddr       { return nil }
func (l *ListenSocket) Accept() (*Socket, error) { return nil, ErrUnsupported }
func (l *ListenSocket) Close() error             { return nil }
