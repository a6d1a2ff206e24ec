package chat

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/andy6609/michat/internal/netpoll"
	"github.com/andy6609/michat/internal/slab"
)

// Listener turns readiness on the accepting socket into NewConnection
// commands.
type Listener struct {
	acc    Acceptor
	token  slab.Token
	logger *slog.Logger

	status   netpoll.Interest
	needsArm bool
	stopping func() bool
}

func newListener(acc Acceptor, token slab.Token, stopping func() bool, logger *slog.Logger) *Listener {
	return &Listener{acc: acc, token: token, stopping: stopping, logger: logger.With("token", token.String())}
}

func (l *Listener) register(reg Registrar) error {
	return reg.Add(l.acc.Fd(), l.token.Uint64(), netpoll.Readable)
}

func (l *Listener) handleEvent(ready netpoll.Interest) {
	l.status |= ready
	l.needsArm = true
}

// process accepts at most one connection. An accept error other than
// would-block is returned and is fatal to the reactor.
func (l *Listener) process(reg Registrar, emit func(Command)) error {
	if l.status.Has(netpoll.Readable) {
		l.status &^= netpoll.Readable
		sock, err := l.acc.Accept()
		switch {
		case err == nil:
			l.logger.Info("client connected", "remote", sock.RemoteAddr())
			emit(NewConnection{Stream: sock})
		case errors.Is(err, netpoll.ErrWouldBlock):
			l.logger.Debug("listener was not actually ready")
		default:
			return fmt.Errorf("listener: %w", err)
		}
	}
	return l.rearm(reg)
}

// rearm keeps the listener subscribed unless the reactor is stopping; a
// missed re-arm would stop all future accepts.
func (l *Listener) rearm(reg Registrar) error {
	if !l.needsArm {
		return nil
	}
	if l.stopping != nil && l.stopping() {
		l.logger.Debug("reactor stopping, listener left disarmed")
		return nil
	}
	if err := reg.Modify(l.acc.Fd(), l.token.Uint64(), netpoll.Readable); err != nil {
		return fmt.Errorf("listener rearm: %w", err)
	}
	l.needsArm = false
	return nil
}

func (l *Listener) closable() bool { return false }
