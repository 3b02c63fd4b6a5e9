package astm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sysmex-bridge/astmhl7/internal/pool"
	"github.com/sysmex-bridge/astmhl7/internal/task"
	"github.com/sysmex-bridge/astmhl7/logger"
)

// ErrConnClosed is returned by SendASTM when the connection is not open.
var ErrConnClosed = errors.New("astm: connection closed")

// MessageHandler is invoked with an assembled incoming ASTM message. It
// returns the ASTM message to turn around on the same link as a reply, or
// "" to send nothing.
type MessageHandler func(msg string) string

type sendRequest struct {
	records []string
	done    chan error
}

// Connection owns one TCP socket (dialed or accepted) and runs the ASTM
// E1381 link engine over it. In active mode it reconnects with backoff; in
// passive mode it accepts one connection at a time. Outgoing sends queued
// with SendASTM are interleaved with the receive loop between polls for an
// incoming ENQ, since the link is half-duplex.
type Connection struct {
	cfg    *ConnectionConfig
	logger logger.Logger

	handler MessageHandler

	mu       sync.Mutex
	conn     net.Conn
	tr       *transport
	listener net.Listener

	taskMgr *task.Manager
	pctx    context.Context
	pcancel context.CancelFunc

	sendChan chan *sendRequest

	listening bool

	// Metrics exposes atomic counters for this connection; safe to read
	// concurrently for scraping (e.g. into a prometheus CounterFunc).
	Metrics *ConnectionMetrics
}

// NewConnection builds a Connection that will dispatch assembled messages to
// handler.
func NewConnection(cfg *ConnectionConfig, handler MessageHandler) *Connection {
	pctx, pcancel := context.WithCancel(context.Background())

	return &Connection{
		cfg:      cfg,
		logger:   cfg.Logger,
		handler:  handler,
		pctx:     pctx,
		pcancel:  pcancel,
		taskMgr:  task.NewManager(pctx, cfg.Logger),
		sendChan: make(chan *sendRequest, cfg.SenderQueueSize),
		Metrics:  &ConnectionMetrics{},
	}
}

// Listen starts the connection supervisor: dialing with reconnect backoff in
// active mode, or accepting connections in passive mode.
func (c *Connection) Listen() error {
	c.mu.Lock()
	c.listening = true
	c.mu.Unlock()

	if c.cfg.Mode == ModeActive {
		return c.startConnectLoop()
	}

	return c.startAcceptLoop()
}

// StopListening tears down the supervisor and any active connection.
func (c *Connection) StopListening() error {
	c.mu.Lock()
	c.listening = false
	c.mu.Unlock()

	c.taskMgr.Stop()

	c.closeConn()
	c.closeListener()

	timer := pool.GetTimer(c.cfg.CloseTimeout)
	defer pool.PutTimer(timer)

	done := make(chan struct{})
	go func() {
		c.taskMgr.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-timer.C:
		c.logger.Warn("astm: timed out waiting for tasks to stop")
	}

	return nil
}

// IsListening reports whether the supervisor is running.
func (c *Connection) IsListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.listening
}

// SendASTM queues records to be sent as an outgoing ASTM message over the
// current connection, the next time the protocol loop is not mid-receive.
// It blocks until the send completes or ctx is cancelled.
func (c *Connection) SendASTM(ctx context.Context, records []string) error {
	if !c.IsListening() {
		return ErrConnClosed
	}

	req := &sendRequest{records: records, done: make(chan error, 1)}

	select {
	case c.sendChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.tr = newTransport(conn, c.cfg, c.Metrics)
	c.mu.Unlock()
}

func (c *Connection) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.tr = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Connection) closeListener() {
	c.mu.Lock()
	l := c.listener
	c.listener = nil
	c.mu.Unlock()

	if l != nil {
		_ = l.Close()
	}
}

// runProtocolLoop drives one established connection until it errors out or
// the manager is stopped, then returns so the supervisor can reconnect
// (active) or accept the next peer (passive).
func (c *Connection) runProtocolLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !c.protocolLoopIteration(ctx) {
			return
		}
	}
}

func (c *Connection) protocolLoopIteration(ctx context.Context) bool {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()

	if tr == nil {
		return false
	}

	select {
	case req := <-c.sendChan:
		req.done <- tr.SendMessage(req.records)

		return true
	default:
	}

	err := tr.pollForENQ()
	switch {
	case err == nil:
		msg, rerr := tr.receiveOneMessage()
		if rerr != nil {
			c.Metrics.incMessageErr()
			c.logger.Warn("astm: receive failed, dropping connection", "error", rerr)

			return false
		}

		if msg == "" {
			return true
		}

		if c.handler != nil {
			reply := c.handler(msg)
			if reply != "" {
				if serr := tr.SendMessage(SplitLines(reply)); serr != nil {
					c.logger.Warn("astm: failed to send reply", "error", serr)

					return false
				}
			}
		}

		return true

	case errors.Is(err, errTimeout):
		return true

	default:
		c.logger.Warn("astm: connection error, dropping", "error", err)

		return false
	}
}

// SplitLines breaks an assembled ASTM message into the record lines
// SendASTM/SendMessage expect, one record per outgoing frame.
func SplitLines(msg string) []string {
	records := SplitRecords(NormalizeMessage([]byte(msg)))

	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, JoinFields(r.Fields...))
	}

	return lines
}

func dialTimeout(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return d.DialContext(dctx, "tcp", fmt.Sprintf("%s:%d", host, port))
}
