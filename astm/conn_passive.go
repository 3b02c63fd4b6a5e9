package astm

import (
	"errors"
	"fmt"
	"net"
)

// ErrBindFailed is returned when a passive-mode Connection cannot bind its
// listening socket.
var ErrBindFailed = errors.New("astm: bind failed")

// Addr returns the listener's bound address in passive mode, or nil if the
// connection is not listening or is in active mode. Useful when Port is 0
// and the OS assigns an ephemeral port.
func (c *Connection) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener == nil {
		return nil
	}

	return c.listener.Addr()
}

// startAcceptLoop listens on Port and accepts one connection at a time: the
// protocol loop runs inside the accept goroutine, so a second peer dialing in
// while one is already active is not accepted until the first connection ends.
func (c *Connection) startAcceptLoop() error {
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()

	return c.taskMgr.StartOnce("acceptLoop", func() {
		for c.IsListening() {
			conn, err := l.Accept()
			if err != nil {
				if !c.IsListening() {
					return
				}

				c.logger.Warn("astm: accept failed", "error", err)

				continue
			}

			c.mu.Lock()
			busy := c.conn != nil
			c.mu.Unlock()

			if busy {
				c.logger.Warn("astm: rejecting connection, one already active", "remote", conn.RemoteAddr())
				_ = conn.Close()

				continue
			}

			c.logger.Info("astm: accepted connection", "remote", conn.RemoteAddr())
			c.setConn(conn)
			c.runProtocolLoop(c.pctx)
			c.closeConn()
		}
	}, nil)
}
