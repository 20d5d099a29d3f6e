// Package tcpserver implements the binary TCP front-end adapter
// (spec §4.7, §6): a length-delimited accept loop dispatching decoded
// commands into the Registry.
//
// The accept loop's temp-delay backoff and one-goroutine-per-connection
// model are carried over from the teacher's Server.Serve (server.go);
// where the teacher holds one process-wide cache.Cache in ConnMeta, this
// server holds a *registry.Registry and routes every request by the
// cache_name field the binary protocol carries per spec §4.7.
package tcpserver

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carbondb/carbon/internal/registry"
)

// Config carries the construction-time parameters of a Server.
type Config struct {
	Addr            string
	RequestDeadline time.Duration // spec §5: "every request has an enclosing deadline (default 30s)".
}

const DefaultRequestDeadline = 30 * time.Second

// Server is the binary-protocol TCP front-end (spec §4.7). No
// authentication is performed here: spec §9's Open Question leaves the
// TCP front-end unauthenticated, trusting network isolation.
type Server struct {
	cfg Config
	reg *registry.Registry
	log zerolog.Logger

	ln net.Listener
}

// New builds a Server bound to reg, not yet listening.
func New(cfg Config, reg *registry.Registry, log zerolog.Logger) *Server {
	if cfg.RequestDeadline == 0 {
		cfg.RequestDeadline = DefaultRequestDeadline
	}
	return &Server{cfg: cfg, reg: reg, log: log.With().Str("component", "tcpserver").Logger()}
}

// ListenAndServe opens cfg.Addr and serves until ctx is cancelled or a
// fatal accept error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Mirrors the
// teacher's Server.Serve backoff-on-temporary-error loop (server.go),
// generalized to stop cleanly on context cancellation for graceful
// shutdown (spec §5).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ln = ln
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); !(ok && ne.Timeout()) {
				return err
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			s.log.Error().Err(err).Dur("retry_in", tempDelay).Msg("accept error")
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0
		go s.serveConn(ctx, c)
	}
}

func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	conn := newConn(s.reg, s.log.With().Str("conn", uuid.NewString()).Logger(), c, s.cfg.RequestDeadline)
	defer func() {
		if r := recover(); r != nil {
			conn.log.Error().Interface("panic", r).Msg("tcpserver: connection handler panicked")
		}
		c.Close()
	}()
	conn.serve(ctx)
}
