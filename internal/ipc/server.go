package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

// DefaultIdleTimeout closes connections that stay silent this long.
const DefaultIdleTimeout = 5 * time.Second

// Server answers selection queries from the picker. It only reads the
// store it is given.
type Server struct {
	path        string
	store       *selection.Store
	idleTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewServer creates a server for the socket at path.
func NewServer(path string, store *selection.Store) *Server {
	return &Server{
		path:        path,
		store:       store,
		idleTimeout: DefaultIdleTimeout,
		conns:       make(map[net.Conn]struct{}),
	}
}

// SetIdleTimeout overrides DefaultIdleTimeout. Call before Start.
func (s *Server) SetIdleTimeout(d time.Duration) {
	if d > 0 {
		s.idleTimeout = d
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Start creates the socket and begins accepting connections in the
// background. A stale socket left by a previous run is replaced.
func (s *Server) Start() error {
	log := logger.WithComponent("ipc-server")

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := removeStaleSocket(s.path); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.closed = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)

	log.Info().Str("path", s.path).Msg("IPC server listening")
	return nil
}

// removeStaleSocket deletes a leftover socket file nobody is listening on.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket: %w", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("another instance is already listening on %s", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	log := logger.WithComponent("ipc-server")

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("Accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	log := logger.WithComponent("ipc-server")
	if peer, err := peerCredentials(conn); err == nil {
		log.Debug().Int("pid", peer.PID).Uint32("uid", peer.UID).Msg("Picker connected")
	}

	reader := bufio.NewReaderSize(conn, 4096)
	enc := json.NewEncoder(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		line, err := readLine(reader)
		if err != nil {
			if !isClosedOrTimeout(err) {
				log.Debug().Err(err).Msg("Connection ended")
			}
			return
		}

		resp := s.answer(line)
		conn.SetWriteDeadline(time.Now().Add(s.idleTimeout))
		if err := enc.Encode(resp); err != nil {
			log.Debug().Err(err).Msg("Write response failed")
			return
		}
	}
}

// answer handles one request line.
func (s *Server) answer(line []byte) Response {
	log := logger.WithComponent("ipc-server")

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return ErrorResponse("malformed request: %v", err)
	}

	switch req.Type {
	case TypeQuerySelection:
		sel, ok := s.store.Get()
		if !ok {
			log.Debug().Msg("Selection queried, none set")
			return NoSelectionResponse()
		}
		log.Debug().Str("type", string(sel.Type)).Str("id", sel.SourceID).Msg("Selection queried")
		return SelectionResponse(sel)
	default:
		return ErrorResponse("unsupported request type %q", req.Type)
	}
}

// Close stops accepting, closes open connections, waits for handlers to
// return and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)

	logger.WithComponent("ipc-server").Info().Msg("IPC server stopped")
	return err
}

// Serve runs the server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// readLine reads one newline-terminated message, bounded by MaxMessageSize.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > MaxMessageSize {
			return nil, fmt.Errorf("ipc: message exceeds %d bytes", MaxMessageSize)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

func isClosedOrTimeout(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
