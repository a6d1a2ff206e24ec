package chat

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/andy6609/michat/internal/netpoll"
	"github.com/andy6609/michat/internal/slab"
)

// Reactor is the single-goroutine event loop. It owns the poller, the
// table and every socket in it.
type Reactor struct {
	cfg    Config
	poller Poller
	table  *slab.Table[entry]
	queue  *queue.Queue // pending Commands, FIFO
	events []netpoll.Event
	route  lineRouter
	logger *slog.Logger

	store    *Store
	toWorker chan<- Command
	replies  <-chan Reply

	stopping atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewReactor(cfg Config, poller Poller, logger *slog.Logger) *Reactor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Reactor{
		cfg:    cfg,
		poller: poller,
		table:  slab.New[entry](cfg.MaxEvents),
		queue:  queue.New(),
		events: make([]netpoll.Event, cfg.MaxEvents),
		route:  cfg.Mode.router(),
		logger: logger,
		store:  &Store{},
		stopCh: make(chan struct{}),
	}
}

// AttachWorker routes Set/Get to a model worker instead of the inline
// store. Must be called before Run.
func (r *Reactor) AttachWorker(cmds chan<- Command, replies <-chan Reply) {
	r.toWorker = cmds
	r.replies = replies
}

func (r *Reactor) Listen(acc Acceptor) (slab.Token, error) {
	tok := r.table.InsertWith(func(tok slab.Token) entry {
		return newListener(acc, tok, r.stopping.Load, r.logger)
	})
	if err := r.table.Get(tok).(*Listener).register(r.poller); err != nil {
		r.table.Remove(tok)
		return slab.Token{}, fmt.Errorf("register listener: %w", err)
	}
	return tok, nil
}

// Run loops over ticks until Stop is called or the listener fails. On
// return every socket and the poller are closed.
func (r *Reactor) Run() error {
	defer r.shutdown()
	for !r.stopping.Load() {
		n, err := r.poller.Wait(r.events)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if r.stopping.Load() {
			return nil
		}
		if err := r.tick(r.events[:n]); err != nil {
			r.logger.Error("listener failed, stopping reactor", "error", err)
			return err
		}
	}
	return nil
}

// Stop makes Run return. Safe to call from any goroutine, more than once.
func (r *Reactor) Stop() {
	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		close(r.stopCh)
		if err := r.poller.Wake(); err != nil {
			r.logger.Debug("wake on stop", "error", err)
		}
	})
}

func (r *Reactor) tick(events []netpoll.Event) error {
	start := time.Now()
	for _, ev := range events {
		r.table.Get(slab.FromUint64(ev.Token)).handleEvent(ev.Ready)
	}
	passes, err := r.drain()
	TickDuration.Observe(time.Since(start).Seconds())
	DrainPasses.Observe(float64(passes))
	return err
}

// drain runs processing passes until one emits nothing, applying each
// pass's commands in emission order before the next pass.
func (r *Reactor) drain() (int, error) {
	for pass := 1; ; pass++ {
		var fatal error
		r.table.Each(func(tok slab.Token, e entry) {
			if fatal != nil {
				return
			}
			err := e.process(r.poller, r.emit)
			if err == nil {
				return
			}
			if _, ok := e.(*Listener); ok {
				fatal = err
				return
			}
			r.logger.Warn("connection failed", "token", tok.String(), "error", err)
		})
		if fatal != nil {
			return pass, fatal
		}

		r.pullReplies()
		if r.queue.Length() == 0 {
			return pass, nil
		}
		for r.queue.Length() > 0 {
			r.apply(r.queue.Remove().(Command))
		}

		if pass >= r.cfg.MaxDrainPasses {
			r.logger.Warn("drain pass limit reached, deferring to next tick", "passes", pass)
			return pass, r.rearmAll()
		}
	}
}

// rearmAll re-subscribes every entry so work left over after the pass
// limit is picked up by the next poll.
func (r *Reactor) rearmAll() error {
	var fatal error
	var failed []slab.Token
	r.table.Each(func(tok slab.Token, e entry) {
		if e.closable() {
			failed = append(failed, tok)
			return
		}
		if err := e.rearm(r.poller); err != nil {
			if _, ok := e.(*Listener); ok {
				fatal = err
				return
			}
			failed = append(failed, tok)
		}
	})
	for _, tok := range failed {
		if c, ok := r.table.Get(tok).(*Connection); ok {
			c.failed = true
			r.closeConnection(tok)
		}
	}
	return fatal
}

func (r *Reactor) emit(cmd Command) {
	CommandsTotal.WithLabelValues(cmd.kind()).Inc()
	r.queue.Add(cmd)
}

func (r *Reactor) pullReplies() {
	if r.replies == nil {
		return
	}
	for {
		select {
		case rep := <-r.replies:
			r.emit(rep)
		default:
			return
		}
	}
}

func (r *Reactor) apply(cmd Command) {
	switch c := cmd.(type) {
	case Broadcast:
		r.table.Each(func(_ slab.Token, e entry) {
			if conn, ok := e.(*Connection); ok {
				conn.enqueue(c.Text)
			}
		})
	case NewConnection:
		r.addConnection(c.Stream)
	case CloseConnection:
		r.closeConnection(c.Token)
	case Set, Get:
		if r.toWorker != nil {
			r.sendToWorker(cmd)
			return
		}
		r.store.Apply(cmd, func(rep Reply) { r.emit(rep) })
	case Reply:
		// The requester may have gone away while the model was busy.
		e, ok := r.table.Lookup(c.Token)
		if !ok {
			r.logger.Debug("reply for closed connection dropped", "token", c.Token.String())
			return
		}
		if conn, ok := e.(*Connection); ok {
			conn.enqueue(c.Text)
		}
	}
}

// sendToWorker waits out back-pressure on the worker channel, pulling
// replies meanwhile so the worker is never stuck on a full reply channel.
func (r *Reactor) sendToWorker(cmd Command) {
	ok := sendWithBackoff(r.toWorker, cmd, r.cfg.Backoff, r.stopCh, func() {
		BackoffRetries.WithLabelValues("worker").Inc()
		r.pullReplies()
	})
	if !ok {
		r.logger.Debug("command discarded on shutdown", "type", cmd.kind())
	}
}

func (r *Reactor) addConnection(s Stream) {
	tok := r.table.InsertWith(func(tok slab.Token) entry {
		return newConnection(s, tok, r.route, r.cfg.ReadBufferSize, r.logger)
	})
	if err := r.table.Get(tok).(*Connection).register(r.poller); err != nil {
		r.logger.Warn("register connection", "token", tok.String(), "error", err)
		r.table.Remove(tok)
		_ = s.Close()
		return
	}
	ConnectedClients.Inc()
}

func (r *Reactor) closeConnection(tok slab.Token) {
	conn, ok := r.table.Get(tok).(*Connection)
	if !ok {
		return
	}
	if !conn.closable() {
		// Output was queued after the close was emitted; drain it first.
		conn.closing = false
		return
	}
	r.release(tok, conn)
	r.logger.Info("client disconnected", "token", tok.String(), "remote", conn.sock.RemoteAddr(), "failed", conn.failed)
}

func (r *Reactor) release(tok slab.Token, conn *Connection) {
	if err := r.poller.Delete(conn.sock.Fd()); err != nil {
		r.logger.Debug("unregister connection", "token", tok.String(), "error", err)
	}
	if err := conn.sock.Close(); err != nil {
		r.logger.Debug("close connection", "token", tok.String(), "error", err)
	}
	r.table.Remove(tok)
	ConnectedClients.Dec()
}

func (r *Reactor) shutdown() {
	var toks []slab.Token
	r.table.Each(func(tok slab.Token, _ entry) { toks = append(toks, tok) })
	for _, tok := range toks {
		switch e := r.table.Get(tok).(type) {
		case *Listener:
			_ = r.poller.Delete(e.acc.Fd())
			_ = e.acc.Close()
			r.table.Remove(tok)
		case *Connection:
			r.release(tok, e)
		}
	}
	if err := r.poller.Close(); err != nil {
		r.logger.Debug("close poller", "error", err)
	}
	r.logger.Info("reactor stopped")
}

func (r *Reactor) Len() int { return r.table.Len() }
