package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/atinylittleshell/autotab/pkg/protocol"
	"go.uber.org/zap"
)

// maxLineSize bounds one request line; field contents can be long.
const maxLineSize = 1 << 20

// Server exposes a Coordinator on a Unix domain socket. Each connection is
// one page context: it writes TEXT_BOX_UPDATED lines and receives
// COMPLETION_RECEIVED lines on the same connection.
type Server struct {
	listener    net.Listener
	sockPath    string
	coordinator *Coordinator
	logger      *zap.Logger

	nextConn atomic.Uint64
	wg       sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func NewServer(sockPath string, coordinator *Coordinator, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", sockPath, err)
	}

	return &Server{
		listener:    listener,
		sockPath:    sockPath,
		coordinator: coordinator,
		logger:      logger,
		conns:       make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Addr() string {
	return s.sockPath
}

// Serve accepts connections until ctx is done or the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting, closes open connections and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	if rmErr := os.Remove(s.sockPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	callerID := fmt.Sprintf("conn-%d", s.nextConn.Add(1))
	logger := s.logger.With(zap.String("caller", callerID))
	logger.Debug("coordinator connection opened")

	ctx, cancel := context.WithCancel(ctx)
	var pending sync.WaitGroup
	defer func() {
		cancel()
		pending.Wait()
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		logger.Debug("coordinator connection closed")
	}()

	var writeMu sync.Mutex
	write := func(resp protocol.Response) {
		data, err := json.Marshal(resp)
		if err != nil {
			logger.Error("coordinator failed to marshal response", zap.Error(err))
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := conn.Write(append(data, '\n')); err != nil {
			logger.Debug("coordinator failed to write response", zap.Error(err))
		}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		req, err := protocol.DecodeRequest(scanner.Bytes())
		if err != nil {
			logger.Warn("coordinator invalid request", zap.Error(err))
			continue
		}

		pending.Add(1)
		go func() {
			defer pending.Done()
			resp, ok := s.coordinator.Handle(ctx, callerID, req)
			if !ok {
				return
			}
			write(resp)
		}()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug("coordinator connection read failed", zap.Error(err))
	}
}
