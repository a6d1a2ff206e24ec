package chat

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/andy6609/michat/internal/netpoll"
)

type Server struct {
	cfg      Config
	logger   *slog.Logger
	reactor  *Reactor
	worker   *Worker
	bridge   *Bridge
	listener *netpoll.ListenSocket

	done chan struct{}
	err  error
}

func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg.withDefaults(),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start binds the listening socket and runs the reactor in the
// background. A bind failure is returned and nothing is left running.
func (s *Server) Start() error {
	poller, err := netpoll.New()
	if err != nil {
		return err
	}
	ln, err := netpoll.Listen(s.cfg.Addr)
	if err != nil {
		_ = poller.Close()
		return err
	}

	reactor := NewReactor(s.cfg, poller, s.logger)
	if _, err := reactor.Listen(socketAcceptor{ln}); err != nil {
		_ = ln.Close()
		_ = poller.Close()
		return fmt.Errorf("start: %w", err)
	}
	s.listener = ln
	s.reactor = reactor

	if s.cfg.Worker {
		if s.cfg.Mode == ModeKV {
			s.bridge = NewBridge(s.cfg.QueueSize, s.cfg.Backoff, poller.Wake, s.logger)
			s.worker = NewWorker(s.cfg.QueueSize, s.bridge, s.logger)
			s.reactor.AttachWorker(s.worker.Commands(), s.bridge.Replies())
			go s.worker.Run()
		} else {
			s.logger.Info("worker ignored in broadcast mode")
		}
	}

	go func() {
		defer close(s.done)
		s.err = s.reactor.Run()
	}()

	s.logger.Info("server started", "addr", ln.Addr().String(), "mode", string(s.cfg.Mode), "worker", s.worker != nil)
	return nil
}

// Addr returns the bound address, or nil before a successful Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the reactor's terminating error after Done is closed. It
// is nil after a requested Stop.
func (s *Server) Err() error {
	<-s.done
	return s.err
}

func (s *Server) Stop() {
	if s.reactor == nil {
		return
	}
	s.logger.Info("shutting down")

	s.reactor.Stop()
	<-s.done

	if s.worker != nil {
		s.bridge.Close()
		s.worker.Stop()
		s.worker.Wait()
	}

	s.logger.Info("shutdown complete")
}
