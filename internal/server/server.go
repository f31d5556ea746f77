// Package server implements the echo server: a TCP accept loop that hands every
// connection to a fixed-size pool of workers, each of which answers a single
// request before closing the connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/echod/internal/core/metrics"
	"github.com/dcrodman/echod/internal/workers"
)

const (
	DefaultReadBufferSize = 512
	DefaultPollInterval   = 10 * time.Millisecond
)

var (
	// ErrInvalidWorkerCount is returned by New when asked for fewer than one worker.
	ErrInvalidWorkerCount = errors.New("number of workers must be at least 1")
	// ErrServerStopped is returned by Run once Stop has been called. A Server
	// cannot be restarted.
	ErrServerStopped = errors.New("server has been stopped")
	// ErrAlreadyRunning is returned by Run if another call to Run is in progress.
	ErrAlreadyRunning = errors.New("server is already running")
)

// Lifecycle states. Created -> Running -> Stopped, or Created -> Stopped if
// Stop is called before Run.
const (
	stateCreated int32 = iota
	stateRunning
	stateStopped
)

// Server owns the listening socket and the worker pool. It is safe to call Stop
// from a different goroutine than the one blocked in Run.
type Server struct {
	listener *net.TCPListener
	pool     *workers.Pool

	// The single source of truth for whether the accept loop keeps going.
	state atomic.Int32
	// Closed when the accept loop exits.
	loopDone chan struct{}

	logger         *logrus.Logger
	metrics        *metrics.Metrics
	readBufferSize int
	pollInterval   time.Duration
	packetLogging  bool
}

// Option customizes a Server built by New.
type Option func(s *Server)

// WithLogger sets the logger used by the server and its connection handlers.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics reports the server's activity through m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadBufferSize sets the size of the single read performed on each
// connection. Requests larger than this are truncated.
func WithReadBufferSize(n int) Option {
	return func(s *Server) { s.readBufferSize = n }
}

// WithPollInterval sets how long the accept loop waits for a new connection
// before checking whether it has been stopped.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) { s.pollInterval = d }
}

// WithPacketLogging dumps every request and response to the debug log.
func WithPacketLogging(enabled bool) Option {
	return func(s *Server) { s.packetLogging = enabled }
}

// New binds a TCP listener on address and creates a pool of numWorkers workers
// to handle the connections it accepts. Nothing is accepted until Run is called.
func New(address string, numWorkers int, opts ...Option) (*Server, error) {
	if numWorkers < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, numWorkers)
	}

	s := &Server{
		loopDone:       make(chan struct{}),
		readBufferSize: DefaultReadBufferSize,
		pollInterval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
		s.logger.Out = io.Discard
	}
	if s.metrics == nil {
		// Unregistered collectors still count; nothing exposes them.
		s.metrics = metrics.New(nil)
	}
	if s.readBufferSize < 1 {
		return nil, fmt.Errorf("read buffer size must be at least 1, got %d", s.readBufferSize)
	}
	if s.pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", s.pollInterval)
	}

	// Bind first; the pool's goroutines and gauges outlive a failed New otherwise.
	listener, err := createSocket(address)
	if err != nil {
		return nil, err
	}

	pool, err := workers.New(numWorkers, s.logger)
	if err != nil {
		listener.Close()
		return nil, err
	}
	pool.OnPanic = func(interface{}) { s.metrics.HandlerPanics.Inc() }
	s.listener = listener
	s.pool = pool
	s.metrics.ObservePool(pool.Running, pool.Waiting)
	return s, nil
}

// createSocket opens a TCP socket to listen for client connections on address.
func createSocket(address string) (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address %s: %w", address, err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", address, err)
	}
	return socket, nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts connections until Stop is called, submitting each one to the
// worker pool. It returns nil when stopped and an error only if the listening
// socket is closed out from under it.
func (s *Server) Run() error {
	if !s.state.CompareAndSwap(stateCreated, stateRunning) {
		if s.state.Load() == stateStopped {
			return ErrServerStopped
		}
		return ErrAlreadyRunning
	}
	defer close(s.loopDone)

	s.logger.Infof("waiting for connections on %v (%d workers)", s.Addr(), s.pool.Size())

	for s.state.Load() == stateRunning {
		// The deadline turns Accept into a bounded wait so that the running
		// flag is observed at least once per poll interval.
		if err := s.listener.SetDeadline(time.Now().Add(s.pollInterval)); err != nil {
			return fmt.Errorf("error setting accept deadline: %w", err)
		}

		connection, err := s.listener.AcceptTCP()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				// Nothing pending.
			case errors.Is(err, net.ErrClosed):
				return fmt.Errorf("listener closed while running: %w", err)
			default:
				s.metrics.AcceptErrors.Inc()
				s.logger.Warnf("failed to accept connection: %s", err)
				time.Sleep(s.pollInterval)
			}
			continue
		}

		s.metrics.ConnectionsAccepted.Inc()
		s.logger.Infof("new client connected: %s", connection.RemoteAddr())

		h := &handler{
			connection:     connection,
			logger:         s.logger,
			metrics:        s.metrics,
			readBufferSize: s.readBufferSize,
			packetLogging:  s.packetLogging,
		}
		s.pool.Execute(h.run)
	}

	s.logger.Info("server shutting down")
	return nil
}

// Stop asks the accept loop to exit and blocks until it has, then waits for
// every accepted connection to be handled. Handlers are not interrupted. Calling
// Stop again is a no-op. The listening socket stays open until Close.
func (s *Server) Stop() {
	if s.state.CompareAndSwap(stateRunning, stateStopped) {
		<-s.loopDone
	} else if !s.state.CompareAndSwap(stateCreated, stateStopped) {
		return
	}

	s.pool.Join()
	s.logger.Info("server stopped")
}

// Close releases the listening socket. It should be called once Run has
// returned; new connections are refused from then on.
func (s *Server) Close() error {
	return s.listener.Close()
}
