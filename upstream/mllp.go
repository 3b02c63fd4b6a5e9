// Package upstream implements the coordinator's Upstream interface by
// posting HL7 v2.5.1 messages to the LIS over MLLP (Minimal Lower Layer
// Protocol), the standard HL7-over-TCP framing: each message is wrapped in
// a leading VT (0x0B) and a trailing FS CR (0x1C 0x0D).
//
// No MLLP library turned up anywhere in the retrieved corpus, but the
// framing itself is a close cousin of the ASTM link layer the astm
// package already implements (single control-byte delimiters around a
// payload, one request/reply per TCP round trip), so this client is
// built the same way: a short-lived net.Dial per call, explicit
// deadlines, and the same control-byte-constant style as astm.frame.
package upstream

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sysmex-bridge/astmhl7/logger"
)

const (
	vt byte = 0x0B
	fs byte = 0x1C
	cr byte = 0x0D
)

// MLLPClient dials the LIS MLLP listener addr for every call. It implements
// coordinator.Upstream.
type MLLPClient struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	logger       logger.Logger
}

// NewMLLPClient builds an MLLPClient with the corpus's usual short
// connect/send/receive timeouts.
func NewMLLPClient(l logger.Logger) *MLLPClient {
	return &MLLPClient{
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  30 * time.Second,
		logger:       l,
	}
}

// Send dials addr, wraps hl7Msg in MLLP framing, writes it, and reads back
// one framed reply. addr is a "host:port" pair; the url parameter name
// matches the coordinator.Upstream interface but for this transport it is
// simply the LIS's MLLP listen address.
func (m *MLLPClient) Send(ctx context.Context, addr, hl7Msg string) (string, error) {
	dialer := net.Dialer{Timeout: m.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("upstream: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(m.WriteTimeout)); err != nil {
		return "", fmt.Errorf("upstream: set write deadline: %w", err)
	}

	frame := make([]byte, 0, len(hl7Msg)+3)
	frame = append(frame, vt)
	frame = append(frame, hl7Msg...)
	frame = append(frame, fs, cr)

	if _, err := conn.Write(frame); err != nil {
		return "", fmt.Errorf("upstream: write: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(m.ReadTimeout)); err != nil {
		return "", fmt.Errorf("upstream: set read deadline: %w", err)
	}

	reply, err := readMLLPFrame(bufio.NewReader(conn))
	if err != nil {
		return "", fmt.Errorf("upstream: read reply: %w", err)
	}

	m.logger.Debug("upstream: mllp round trip complete", "addr", addr, "sentBytes", len(frame), "replyBytes", len(reply))

	return reply, nil
}

// readMLLPFrame reads one VT...FS CR framed message, discarding anything
// before the leading VT.
func readMLLPFrame(r *bufio.Reader) (string, error) {
	if _, err := r.ReadBytes(vt); err != nil {
		return "", err
	}

	body, err := r.ReadBytes(fs)
	if err != nil {
		return "", err
	}
	body = body[:len(body)-1]

	if trailer, err := r.ReadByte(); err != nil {
		return "", err
	} else if trailer != cr {
		return "", fmt.Errorf("upstream: expected trailing CR after FS, got 0x%02X", trailer)
	}

	return string(body), nil
}
