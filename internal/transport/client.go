package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

// Client owns one UDP socket connected (in the net.DialUDP sense, not
// the protocol sense) to a single remote address and dispatches every
// received datagram to OnDatagram. Adapted from Server's connectionless
// ReadFromUDP loop to the single-peer net.Conn shape dialing gives a
// client: one remote, so Write needs no destination address.
type Client struct {
	logger *zap.Logger

	// OnDatagram is invoked once per received datagram, on the read
	// loop's goroutine. Implementations must not block meaningfully.
	OnDatagram func(data []byte)

	conn *net.UDPConn
	wg   sync.WaitGroup
}

// NewClient constructs a Client. Set OnDatagram before calling Start.
func NewClient(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{logger: logger}
}

// Start dials host:port over UDP and launches the read loop. Returns
// once the socket is connected; the read loop runs until Stop is called
// or ctx is cancelled.
func (c *Client) Start(ctx context.Context, host string, port int) error {
	if c.conn != nil {
		return errors.New("transport already started")
	}
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("resolve udp addr: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial udp: %w", err)
	}
	c.conn = conn
	c.logger.Info("transport connected", zap.String("remote", raddr.String()))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(ctx)
	}()
	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (c *Client) Stop() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.wg.Wait()
}

// RemoteAddr returns the dialed peer address.
func (c *Client) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// Write sends data to the dialed remote over the connected socket.
func (c *Client) Write(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

func (c *Client) readLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && !ne.Timeout() {
				return
			}
			c.logger.Debug("read error", zap.Error(err))
			continue
		}
		if c.OnDatagram != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.OnDatagram(data)
		}
	}
}
