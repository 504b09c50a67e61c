// Package smtptest provides a recording SMTP sink for exercising SMTP
// clients end to end. It speaks enough ESMTP (STARTTLS, AUTH PLAIN/LOGIN,
// implicit TLS) for real client libraries and keeps every accepted message
// in memory.
package smtptest

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

const shutdownTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	// Hostname is used in the greeting and EHLO responses.
	Hostname string

	// TLSConfig enables STARTTLS, or implicit TLS when Implicit is set.
	TLSConfig *tls.Config
	Implicit  bool

	// Username and Password require AUTH before MAIL when both are set.
	Username string
	Password string

	// RejectData answers every DATA transaction with a permanent failure.
	RejectData bool

	Logger *slog.Logger
}

// Delivery is one accepted message with its SMTP envelope.
type Delivery struct {
	From    string
	To      []string
	Message *Message
	Raw     []byte
	// TLS reports whether the session was upgraded with STARTTLS.
	TLS bool
}

// Server is a running sink bound to a loopback port.
type Server struct {
	config   Config
	listener net.Listener
	logger   *slog.Logger
	cancel   context.CancelFunc

	mu         sync.Mutex
	deliveries []Delivery

	// wg tracks in-flight sessions.
	wg sync.WaitGroup
}

// NewServer starts a sink on 127.0.0.1 with a random port. Close must be
// called to release it.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.Implicit && cfg.TLSConfig == nil {
		return nil, fmt.Errorf("implicit TLS requires a TLS config")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	if cfg.Implicit {
		ln = tls.NewListener(ln, cfg.TLSConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		listener: ln,
		logger:   logger,
		cancel:   cancel,
	}

	go s.serve(ctx)
	return s, nil
}

func (s *Server) serve(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Debug("accept error", "error", err)
				continue
			}
		}

		stop := context.AfterFunc(ctx, func() { conn.Close() })

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer stop()

			sess := &session{
				conn:       conn,
				auth:       authenticator{username: s.config.Username, password: s.config.Password},
				hostname:   s.config.Hostname,
				logger:     s.logger,
				rejectData: s.config.RejectData,
				record:     s.record,
				// Implicit TLS sessions are already encrypted.
				tlsActive: s.config.Implicit,
			}
			if !s.config.Implicit {
				sess.tlsConfig = s.config.TLSConfig
			}
			sess.handle()
		}()
	}
}

func (s *Server) record(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
}

// Deliveries returns a snapshot of every accepted message in arrival order.
func (s *Server) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

// Addr returns the listener address as host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listener IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Close stops accepting connections, drops open sessions and waits for them
// to exit.
func (s *Server) Close() {
	s.cancel()
	s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn("smtptest shutdown timeout reached")
	}
}
