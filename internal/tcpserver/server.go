// Package tcpserver implements the accept loop described for the
// registration protocol: bind, admission control, one handler goroutine per
// accepted connection, and signal-triggered graceful shutdown.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"prismd/internal/conn"
	"prismd/internal/logging"
	"prismd/internal/validate"
	"prismd/internal/wire"
)

// Config controls listen address, admission control, and shutdown timing.
type Config struct {
	ListenAddress           string
	Port                    int
	MaxConnections          int
	GracefulShutdownTimeout time.Duration
	Conn                    conn.Config
}

// DefaultConfig returns the server defaults named in the configuration
// reference table.
func DefaultConfig() Config {
	return Config{
		ListenAddress:           "0.0.0.0",
		Port:                    7946,
		MaxConnections:          1000,
		GracefulShutdownTimeout: 10 * time.Second,
		Conn:                    conn.DefaultConfig(),
	}
}

// Server accepts registration connections and dispatches each to a fresh
// conn.Handler run concurrently.
type Server struct {
	cfg       Config
	validator *validate.Validator
	processor conn.Processor
	stats     conn.StatsRecorder
	logger    logging.Logger

	listener net.Listener

	active   map[net.Conn]struct{}
	activeMu sync.Mutex
	wg       sync.WaitGroup

	shuttingDown int32
}

// New builds a Server. processor is typically *registration.Processor;
// stats is typically *stats.Stats.
func New(cfg Config, validator *validate.Validator, processor conn.Processor, stats conn.StatsRecorder, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		cfg:       cfg,
		validator: validator,
		processor: processor,
		stats:     stats,
		logger:    logger,
		active:    make(map[net.Conn]struct{}),
	}
}

// ListenAndServe binds the configured address, installs a SIGINT/SIGTERM
// handler that triggers graceful shutdown, and runs the accept loop until
// shutdown completes. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.ListenAddress, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcpserver: listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info("listening for registrations", logging.F("addr", addr), logging.F("max_connections", s.cfg.MaxConnections))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	shutdownDone := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			s.logger.Info("shutdown signal received, initiating graceful shutdown")
		case <-ctx.Done():
		}
		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			s.logger.Error("graceful shutdown did not complete cleanly", err)
		}
		close(shutdownDone)
	}()

	s.acceptLoop()
	<-shutdownDone
	return nil
}

func (s *Server) acceptLoop() {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("listener closed, exiting accept loop")
				return
			}
			s.logger.Warn("accept failed", logging.F("error", err.Error()))
			continue
		}

		if s.admissionCount() >= s.cfg.MaxConnections {
			s.rejectAtCapacity(c)
			continue
		}

		s.wg.Add(1)
		s.trackActive(c)
		go func() {
			defer s.wg.Done()
			defer s.untrackActive(c)
			h := conn.New(c, s.validator, s.processor, s.stats, s.logger, s.cfg.Conn)
			if err := h.Handle(context.Background()); err != nil {
				s.logger.Warn("connection handler exited with error", logging.F("error", err.Error()))
			}
		}()
	}
}

// rejectAtCapacity writes a single capacity error response and closes the
// connection without handing it to a conn.Handler or consuming a tracked
// slot beyond this call.
func (s *Server) rejectAtCapacity(c net.Conn) {
	frame, err := wire.Encode(wire.ErrorResponse("server at capacity"), wire.DefaultMaxMessageSize)
	if err == nil {
		c.SetWriteDeadline(time.Now().Add(2 * time.Second))
		c.Write(frame)
	}
	c.Close()
	s.logger.Warn("rejected connection: server at capacity", logging.F("max_connections", s.cfg.MaxConnections))
}

func (s *Server) admissionCount() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}

func (s *Server) trackActive(c net.Conn) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.active[c] = struct{}{}
}

func (s *Server) untrackActive(c net.Conn) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, c)
}

// Shutdown stops accepting new connections, waits up to ctx's deadline for
// in-flight handlers to finish, then force-closes any stragglers.
func (s *Server) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.shuttingDown, 0, 1) {
		return nil
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("error closing listener", logging.F("error", err.Error()))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all connections drained, shutdown complete")
		return nil
	case <-ctx.Done():
		s.forceCloseActive()
		return ctx.Err()
	}
}

func (s *Server) forceCloseActive() {
	s.activeMu.Lock()
	conns := make([]net.Conn, 0, len(s.active))
	for c := range s.active {
		conns = append(conns, c)
	}
	s.activeMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	s.logger.Warn("force-closed connections still active after graceful shutdown timeout", logging.F("count", len(conns)))
}
