package http

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/pkg/security"
	"github.com/c360/tensorscope/pkg/tlsutil"
)

// ServerConfig holds listener settings for Server.
type ServerConfig struct {
	Address      string
	Prefix       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Security     security.Config
}

// Server runs a Dispatcher on its own listener.
type Server struct {
	config     ServerConfig
	dispatcher *Dispatcher

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopped  bool
}

// NewServer creates a server for dispatcher.
func NewServer(cfg ServerConfig, dispatcher *Dispatcher) *Server {
	if cfg.Address == "" {
		cfg.Address = ":6006"
	}
	return &Server{config: cfg, dispatcher: dispatcher}
}

// Start listens and serves until Stop is called. A clean stop returns nil,
// and so does a Start that follows Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start",
			"cannot start server that is already running")
	}

	srv := &http.Server{
		Handler:           s.dispatcher.Handler(s.config.Prefix),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	tlsEnabled := s.config.Security.TLS.Server.Enabled
	if tlsEnabled {
		tlsConfig, err := tlsutil.LoadServerTLSConfig(s.config.Security.TLS.Server)
		if err != nil {
			s.mu.Unlock()
			return errors.WrapFatal(err, "Server", "Start", "load TLS config")
		}
		srv.TLSConfig = tlsConfig
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("failed to listen on %s", s.config.Address))
	}
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	if tlsEnabled {
		err = srv.ServeTLS(ln, "", "")
	} else {
		err = srv.Serve(ln)
	}
	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", "serve")
	}
	return nil
}

// Stop gracefully shuts the server down. It is final: a later Start does
// nothing.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "failed to stop HTTP server")
	}
	return nil
}

// Addr returns the bound address once Start is listening, else nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
