package control

import (
	"context"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/cinderlinux/cinder/pkg/logging"
	"github.com/cinderlinux/cinder/pkg/service"
)

// Poster schedules a callback onto the event-loop goroutine; the
// event loop satisfies this. All service mutations made on behalf of
// control clients go through it, keeping the core single-threaded.
type Poster interface {
	Post(fn func())
}

// Server listens on a Unix domain socket and handles control
// connections.
type Server struct {
	services *service.ServiceSet
	poster   Poster
	listener net.Listener
	sockPath string
	logger   *logging.Logger
	conns    map[*Connection]struct{}
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// ShutdownFunc is called when a shutdown command is received.
	ShutdownFunc func(service.ShutdownType)
}

// NewServer creates a control socket server.
func NewServer(services *service.ServiceSet, poster Poster, sockPath string, logger *logging.Logger) *Server {
	return &Server{
		services: services,
		poster:   poster,
		sockPath: sockPath,
		logger:   logger,
		conns:    make(map[*Connection]struct{}),
	}
}

// Start binds the Unix socket and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	listener, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return err
	}

	if err := os.Chmod(s.sockPath, 0o600); err != nil {
		listener.Close()
		return err
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("Control socket listening on %s", s.sockPath)
	return nil
}

// Stop closes the listener and all active connections.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if rmErr := os.Remove(s.sockPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Error("Control socket accept failed: %v", err)
			return
		}

		c := newConnection(s, conn, uuid.NewString())
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// runOnLoop executes fn on the event-loop goroutine and waits for it.
func (s *Server) runOnLoop(fn func()) {
	done := make(chan struct{})
	s.poster.Post(func() {
		fn()
		close(done)
	})
	<-done
}
