package control

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// HandlerFunc serves one control request.
type HandlerFunc func(req *Request) *Response

// Server answers control requests on a Unix socket, one request per
// connection. Handlers run on the connection goroutine.
type Server struct {
	socket      string
	connTimeout time.Duration

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	listener net.Listener
	conns    sync.WaitGroup
}

func NewServer(socketPath string) *Server {
	return &Server{
		socket:      socketPath,
		connTimeout: 30 * time.Second,
		handlers:    make(map[string]HandlerFunc),
	}
}

// SetConnTimeout bounds how long one connection may take end to end.
// Raise it when a handler blocks on generation, as ask does.
func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

// Handle registers the handler for a command name.
func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

// Start binds the socket and begins accepting. A socket file left by a
// dead process is replaced.
func (s *Server) Start() error {
	_ = os.Remove(s.socket)

	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("bind control socket %s: %w", s.socket, err)
	}
	if err := os.Chmod(s.socket, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("tighten socket mode: %w", err)
	}

	s.listener = ln
	s.conns.Add(1)
	go s.accept(ln)
	return nil
}

// Stop closes the listener, waits for in-flight connections and
// removes the socket file.
func (s *Server) Stop() error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.conns.Wait()
	_ = os.Remove(s.socket)
	return nil
}

func (s *Server) accept(ln net.Listener) {
	defer s.conns.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("control: accept: %v", err)
			continue
		}
		s.conns.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.conns.Done()
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("control: handler panic: %v\n%s", r, debug.Stack())
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		log.Printf("control: read request: %v", err)
		return
	}
	if err := WriteFrame(conn, s.dispatch(&req)); err != nil {
		log.Printf("control: write response: %v", err)
	}
}

func (s *Server) dispatch(req *Request) *Response {
	if req.ProtocolVersion != ProtocolVersion {
		msg := fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion)
		return ErrorResponse(ErrCodeProtocolMismatch, msg)
	}

	s.mu.RLock()
	handler := s.handlers[req.Command]
	s.mu.RUnlock()

	if handler == nil {
		return ErrorResponse(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %q", req.Command))
	}
	return handler(req)
}
