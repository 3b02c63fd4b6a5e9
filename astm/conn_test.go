package astm

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionPassiveRoundTrip(t *testing.T) {
	received := make(chan string, 1)

	passiveCfg := newTestConfig(WithPassive())
	passiveCfg.Host = "127.0.0.1"
	passiveCfg.Port = 0

	passive := NewConnection(passiveCfg, func(msg string) string {
		received <- msg

		return "L|1|N"
	})

	require.NoError(t, passive.Listen())
	t.Cleanup(func() { _ = passive.StopListening() })

	host, portStr, err := net.SplitHostPort(passive.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	activeCfg := newTestConfig(WithActive())
	activeCfg.Host = host
	activeCfg.Port = port

	replies := make(chan string, 1)
	active := NewConnection(activeCfg, func(msg string) string {
		replies <- msg

		return ""
	})

	require.NoError(t, active.Listen())
	t.Cleanup(func() { _ = active.StopListening() })

	// Give the active side time to dial and settle into its protocol loop.
	time.Sleep(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, active.SendASTM(ctx, []string{"H|\\^&|||bridge", "L|1|N"}))

	select {
	case msg := <-received:
		require.Contains(t, msg, "H|\\^&")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for passive side to receive message")
	}

	select {
	case reply := <-replies:
		require.Equal(t, "L|1|N", reply)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for active side to receive reply")
	}
}

// TestSendASTMFailsWithRetryExhaustedWhenPeerAlwaysNAKs drives SendASTM
// against a hostile peer (a raw TCP listener, not a Connection) that ACKs
// the ENQ handshake but NAKs every frame it is sent, over a real socket
// rather than net.Pipe. It exercises the LAB-28 retry-exhaustion failure
// the way a caller of the public API actually observes it.
func TestSendASTMFailsWithRetryExhaustedWhenPeerAlwaysNAKs(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		peerConn, err := ln.Accept()
		if err != nil {
			return
		}
		defer peerConn.Close()

		r := bufio.NewReader(peerConn)

		b, err := r.ReadByte()
		if err != nil || b != ENQ {
			return
		}

		if _, err := peerConn.Write([]byte{ACK}); err != nil {
			return
		}

		for {
			c, err := r.ReadByte()
			if err != nil {
				return
			}

			if c == EOT {
				return
			}

			if c != STX {
				continue
			}

			if _, err := decodeFrameBody(r.ReadByte); err != nil {
				return
			}

			if _, err := peerConn.Write([]byte{NAK}); err != nil {
				return
			}
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := newTestConfig(WithActive(), WithRetryLimit(3))
	cfg.Host = host
	cfg.Port = port

	conn := NewConnection(cfg, func(msg string) string { return "" })
	require.NoError(t, conn.Listen())
	t.Cleanup(func() { _ = conn.StopListening() })

	// Give the active side time to dial and settle into its protocol loop.
	time.Sleep(300 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = conn.SendASTM(ctx, []string{"H|\\^&|||bridge"})
	require.ErrorIs(t, err, ErrRetryExhausted)
}

func TestSplitLinesProducesOneRecordPerLine(t *testing.T) {
	lines := SplitLines("H|\\^&|||bridge\rP|1\rL|1|N")
	require.Equal(t, []string{"H|\\^&|||bridge", "P|1", "L|1|N"}, lines)
}

func TestListenFailsWhenPortAlreadyBound(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := newTestConfig(WithPassive())
	cfg.Host = host
	cfg.Port = port

	conn := NewConnection(cfg, func(msg string) string { return "" })
	require.ErrorIs(t, conn.Listen(), ErrBindFailed)
}
