// Package transport owns the raw UDP socket: binding, the inbound read
// loop, and per-peer writes. It knows nothing about game state or
// events; OnDatagram is handed raw bytes plus the sender's address.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"pygase/internal/config"
)

// Server owns one UDP socket and dispatches every received datagram to
// OnDatagram. Adapted from the accept-loop/Start/Stop shape of a
// connection-oriented listener to UDP's connectionless ReadFromUDP loop:
// there is one socket and one read loop instead of one goroutine per
// accepted connection.
type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger

	// OnDatagram is invoked once per received datagram, on the read
	// loop's goroutine. Implementations must not block meaningfully;
	// hand off to another goroutine/channel for real work.
	OnDatagram func(addr *net.UDPAddr, data []byte)

	conn *net.UDPConn
	wg   sync.WaitGroup
}

// NewServer constructs a Server. Set OnDatagram before calling Start.
func NewServer(cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Start binds the UDP socket and launches the read loop. Returns once
// the socket is bound; the read loop runs until Stop is called or ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.conn != nil {
		return errors.New("transport already started")
	}
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: s.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	s.conn = conn
	s.logger.Info("transport listening", zap.String("addr", conn.LocalAddr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(ctx)
	}()
	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (s *Server) Stop() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.wg.Wait()
}

// WriteTo sends data to addr over the shared socket.
func (s *Server) WriteTo(data []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

func (s *Server) readLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && !ne.Timeout() {
				return
			}
			s.logger.Debug("read error", zap.Error(err))
			continue
		}
		if s.OnDatagram != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.OnDatagram(remote, data)
		}
	}
}
