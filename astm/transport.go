package astm

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sysmex-bridge/astmhl7/logger"
)

// ErrRetryExhausted is returned when a frame could not be delivered within
// the configured retry limit.
var ErrRetryExhausted = errors.New("astm: retry limit exhausted")

// ErrLinkEstablishFailed is returned when ENQ is not answered with ACK.
var ErrLinkEstablishFailed = errors.New("astm: link establishment failed")

// transport drives the ASTM E1381 link protocol over one TCP connection.
// It is not goroutine-safe: the connection's protocol loop is responsible
// for ensuring only one of SendMessage/ReceiveMessage runs at a time, which
// is what makes the link half-duplex.
type transport struct {
	conn    net.Conn
	r       *bufio.Reader
	cfg     *ConnectionConfig
	logger  logger.Logger
	metrics *ConnectionMetrics

	// enqWaitStart marks when the current ENQ-wait window began, across
	// however many PollInterval-sized reads it takes; zero means idle
	// waiting hasn't started yet. It is reset whenever an ENQ actually
	// arrives or a full EnqWaitTimeout window has elapsed.
	enqWaitStart time.Time
}

func newTransport(conn net.Conn, cfg *ConnectionConfig, metrics *ConnectionMetrics) *transport {
	return &transport{
		conn:    conn,
		r:       bufio.NewReader(conn),
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: metrics,
	}
}

var errTimeout = errors.New("astm: read timeout")

func (t *transport) readByte(timeout time.Duration) (byte, error) {
	if timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	} else if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, err
	}

	b, err := t.r.ReadByte()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, errTimeout
		}

		return 0, err
	}

	return b, nil
}

func (t *transport) nextUnbounded() (byte, error) {
	return t.readByte(0)
}

func (t *transport) writeByte(b byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.AckWaitTimeout)); err != nil {
		return err
	}

	_, err := t.conn.Write([]byte{b})

	return err
}

func (t *transport) writeAll(p []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.AckWaitTimeout)); err != nil {
		return err
	}

	_, err := t.conn.Write(p)

	return err
}

// SendMessage transmits records as a sequence of frames: ENQ handshake, one
// frame per record (each sent up to RetryLimit times in total, resending on
// NAK or timeout), then EOT.
func (t *transport) SendMessage(records []string) error {
	if err := t.establishLink(); err != nil {
		return err
	}

	seq := byte(1)

	for _, rec := range records {
		frame := Frame{Number: seq % 8, Payload: []byte(rec), Final: true}

		if err := t.sendFrameWithRetry(frame); err != nil {
			_ = t.writeByte(EOT)

			return err
		}

		seq++
	}

	t.metrics.incMessageSend()

	return t.writeByte(EOT)
}

func (t *transport) establishLink() error {
	t.logger.Debug("astm: sending ENQ")

	if err := t.writeByte(ENQ); err != nil {
		return fmt.Errorf("%w: %v", ErrLinkEstablishFailed, err)
	}

	b, err := t.readByte(t.cfg.AckWaitTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLinkEstablishFailed, err)
	}

	if b != ACK {
		return fmt.Errorf("%w: got %s instead of ACK", ErrLinkEstablishFailed, controlByteName(b))
	}

	t.logger.Debug("astm: received ACK after ENQ")

	return nil
}

func (t *transport) sendFrameWithRetry(frame Frame) error {
	wire := EncodeFrame(frame)

	for attempt := 0; attempt < t.cfg.RetryLimit; attempt++ {
		if err := t.writeAll(wire); err != nil {
			return err
		}

		b, err := t.readByte(t.cfg.AckWaitTimeout)
		if err != nil {
			t.logger.Debug("astm: frame attempt timed out", "frameNumber", frame.Number, "attempt", attempt+1)

			continue
		}

		switch b {
		case ACK:
			t.metrics.incFrameSend()

			return nil
		case NAK:
			t.metrics.incFrameNAK()
			t.metrics.incFrameRetry()
			t.logger.Debug("astm: frame NAK'd, retrying", "frameNumber", frame.Number, "attempt", attempt+1)

			continue
		default:
			t.metrics.incFrameRetry()
			t.logger.Debug("astm: unexpected byte while waiting for ACK/NAK", "byte", controlByteName(b))

			continue
		}
	}

	return fmt.Errorf("%w: frame %d", ErrRetryExhausted, frame.Number)
}

// ReceiveMessage waits for the analyzer to establish the link (ENQ), then
// assembles frames into a complete message. It loops internally on an empty
// assembled message, per the receiver protocol's "if empty, go back to
// waiting for ENQ" step.
func (t *transport) ReceiveMessage() (string, error) {
	for {
		for {
			err := t.pollForENQ()
			if err == nil {
				break
			}

			if !errors.Is(err, errTimeout) {
				return "", err
			}
		}

		msg, err := t.receiveOneMessage()
		if err != nil {
			return "", err
		}

		if msg == "" {
			continue
		}

		return msg, nil
	}
}

// pollForENQ waits up to one PollInterval for the link to be established by
// the peer. It returns errTimeout if nothing arrived, so the connection's
// protocol loop can interleave an outgoing send between polls.
//
// Across repeated calls this adds up to the receiver's configured
// EnqWaitTimeout (spec's 15s ENQ-wait deadline): once that much idle time
// has passed without an ENQ, it is logged and counted as a distinct
// EnqIdleTimeoutCount event, then the window restarts. The wait itself
// keeps looping either way, per the receiver's "on timeout, go back to
// waiting for ENQ" step — EnqWaitTimeout governs when that idling becomes
// notable, not whether it continues.
func (t *transport) pollForENQ() error {
	if t.enqWaitStart.IsZero() {
		t.enqWaitStart = time.Now()
	}

	b, err := t.readByte(t.cfg.PollInterval)
	if err != nil {
		if errors.Is(err, errTimeout) && time.Since(t.enqWaitStart) >= t.cfg.EnqWaitTimeout {
			t.metrics.incEnqIdleTimeout()
			t.logger.Debug("astm: no ENQ within enq wait timeout, still waiting", "enqWaitTimeout", t.cfg.EnqWaitTimeout)
			t.enqWaitStart = time.Now()
		}

		return err
	}

	if b != ENQ {
		t.logger.Debug("astm: ignoring unexpected byte while idle", "byte", controlByteName(b))

		return errTimeout
	}

	t.enqWaitStart = time.Time{}

	t.logger.Debug("astm: received ENQ, sending ACK")

	return t.writeByte(ACK)
}

func (t *transport) receiveOneMessage() (string, error) {
	var assembled []byte

	for {
		b, err := t.nextUnbounded()
		if err != nil {
			return "", err
		}

		if b == EOT {
			break
		}

		if b != STX {
			t.logger.Debug("astm: ignoring unexpected byte mid-message", "byte", controlByteName(b))

			continue
		}

		frame, err := decodeFrameBody(t.nextUnbounded)
		if err != nil {
			var csErr *ChecksumError
			if errors.As(err, &csErr) {
				t.logger.Debug("astm: checksum mismatch, sending NAK", "error", err)

				if werr := t.writeByte(NAK); werr != nil {
					return "", werr
				}

				continue
			}

			return "", err
		}

		if err := t.writeByte(ACK); err != nil {
			return "", err
		}

		t.metrics.incFrameRecv()
		assembled = append(assembled, frame.Payload...)

		// An ETX frame ends a record: make sure the assembled text carries
		// the CR record separator even when the sender left it out.
		if frame.Final && (len(assembled) == 0 || assembled[len(assembled)-1] != CR) {
			assembled = append(assembled, CR)
		}
	}

	msg := NormalizeMessage(assembled)
	if msg != "" {
		t.metrics.incMessageRecv()
		t.logger.Debug("astm: assembled message", "records", len(SplitRecords(msg)))
	}

	return msg, nil
}
