package chat

import (
	"errors"
	"log/slog"
	"time"
)

// Worker owns a Store on its own goroutine. Commands arrive on a bounded
// channel; replies leave through a Bridge.
type Worker struct {
	cmds   chan Command
	bridge *Bridge
	stopCh chan struct{}
	doneCh chan struct{}
	logger *slog.Logger
}

func NewWorker(buffer int, bridge *Bridge, logger *slog.Logger) *Worker {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cmds:   make(chan Command, buffer),
		bridge: bridge,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

func (w *Worker) Commands() chan<- Command {
	return w.cmds
}

func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) Wait() {
	<-w.doneCh
}

func (w *Worker) Run() {
	defer close(w.doneCh)
	// Single-writer ownership: the store is only touched by this goroutine.
	store := &Store{}

	for {
		select {
		case cmd := <-w.cmds:
			start := time.Now()
			store.Apply(cmd, w.reply)
			WorkerDuration.WithLabelValues(cmd.kind()).Observe(time.Since(start).Seconds())
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) reply(r Reply) {
	if err := w.bridge.Send(r); err != nil {
		if errors.Is(err, ErrStopped) {
			w.logger.Debug("reply discarded on shutdown", "token", r.Token.String())
			return
		}
		w.logger.Warn("reply failed", "token", r.Token.String(), "error", err)
	}
}
