package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// handshakeTimeout bounds how long an accepted socket may sit idle before
// the client sends its first client_info message (§4.K): HandleConnection
// uses it as the read deadline while the session is Connected.
// acceptTimeout is not applied anywhere.
const (
	acceptTimeout    = 30 * time.Second
	handshakeTimeout = 30 * time.Second
)

// Serve opens the control listener on the first configured address (all
// interfaces when none is set) and runs the accept loop until ctx is
// canceled, alongside the background goroutines for the transfer-waiting
// sweep and the search index rebuild. There is no idle sweep.
//
// Grounded on the teacher's main.go (ListenAndServeTLS + ln.Accept loop,
// generalized from HTTP/WebTransport framing to this protocol's raw
// length-prefixed TCP frames, which an http.Server cannot speak) and on
// its background-goroutine-per-concern style for the periodic sweeps.
func (s *Server) Serve(ctx context.Context) error {
	tlsConfig, err := s.loadOrGenerateTLSConfig()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", s.Config.Port)
	if len(s.Config.Address) > 0 && s.Config.Address[0] != "" {
		addr = fmt.Sprintf("%s:%d", s.Config.Address[0], s.Config.Port)
	}

	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	defer ln.Close()
	s.Log.Info("[server] listening", "addr", addr)

	if err := s.rebuildSearchIndex(); err != nil {
		s.Log.Warn("[files] initial search index build failed", "error", err)
	}
	go s.runBackgroundLoops(ctx)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.Log.Warn("[server] accept error", "error", err)
			continue
		}
		go s.HandleConnection(conn)
	}
}

// runBackgroundLoops drives the periodic maintenance timers every other
// component depends on but none of them owns on its own: a 5s
// transfer-waiting sweep and the search index rebuild every IndexTime
// seconds (hourly when unset). No idle sweep runs here; the 120s receive
// timeout is enforced inline by HandleConnection's read deadline.
func (s *Server) runBackgroundLoops(ctx context.Context) {
	transferSweep := time.NewTicker(5 * time.Second)
	defer transferSweep.Stop()

	indexEvery := time.Duration(s.Config.IndexTime) * time.Second
	if indexEvery <= 0 {
		indexEvery = time.Hour
	}
	indexRebuild := time.NewTicker(indexEvery)
	defer indexRebuild.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-transferSweep.C:
			s.sweepTransfers()
		case <-indexRebuild.C:
			if err := s.rebuildSearchIndex(); err != nil {
				s.Log.Warn("[files] search index rebuild failed", "error", err)
			}
		}
	}
}
