package astm

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysmex-bridge/astmhl7/logger"
)

func newTestConfig(opts ...ConnOption) *ConnectionConfig {
	defaults := []ConnOption{
		WithAckWaitTimeout(300 * time.Millisecond),
		WithEnqWaitTimeout(300 * time.Millisecond),
		WithRetryLimit(3),
	}
	defaults = append(defaults, opts...)
	cfg := NewConnectionConfig("127.0.0.1", 0, defaults...)
	cfg.Logger = logger.GetLogger()

	return cfg
}

func newPipeTransports(t *testing.T, cfg *ConnectionConfig) (*transport, *transport) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	return newTransport(local, cfg, &ConnectionMetrics{}), newTransport(remote, cfg, &ConnectionMetrics{})
}

func TestTransportSendReceiveSingleRecord(t *testing.T) {
	cfg := newTestConfig()
	sender, receiver := newPipeTransports(t, cfg)

	errc := make(chan error, 1)
	go func() { errc <- sender.SendMessage([]string{"H|\\^&|||bridge"}) }()

	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, "H|\\^&|||bridge", msg)
	require.NoError(t, <-errc)
}

func TestTransportSendReceiveMultipleRecords(t *testing.T) {
	cfg := newTestConfig()
	sender, receiver := newPipeTransports(t, cfg)

	records := []string{"H|\\^&|||bridge", "P|1", "O|1|12345", "L|1|N"}

	errc := make(chan error, 1)
	go func() { errc <- sender.SendMessage(records) }()

	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.NoError(t, <-errc)

	got := SplitRecords(msg)
	require.Len(t, got, 4)
	require.Equal(t, byte('H'), got[0].Type)
	require.Equal(t, byte('L'), got[3].Type)
}

func TestTransportLinkEstablishFailsWithoutACK(t *testing.T) {
	cfg := newTestConfig(WithAckWaitTimeout(50 * time.Millisecond))
	sender, remote := newPipeTransports(t, cfg)
	_ = remote

	err := sender.SendMessage([]string{"H|\\^&"})
	require.ErrorIs(t, err, ErrLinkEstablishFailed)
}

func TestTransportRetriesOnNAK(t *testing.T) {
	cfg := newTestConfig()
	sender, receiver := newPipeTransports(t, cfg)

	done := make(chan error, 1)

	go func() {
		b, err := receiver.readByte(0)
		if err != nil || b != ENQ {
			done <- err

			return
		}

		if err := receiver.writeByte(ACK); err != nil {
			done <- err

			return
		}

		// First attempt: NAK it.
		if _, err := DecodeFrame(receiver.nextUnbounded); err != nil {
			done <- err

			return
		}

		if err := receiver.writeByte(NAK); err != nil {
			done <- err

			return
		}

		// Retry attempt: ACK it.
		frame, err := DecodeFrame(receiver.nextUnbounded)
		if err != nil {
			done <- err

			return
		}

		if string(frame.Payload) != "H|\\^&" {
			done <- fmt.Errorf("unexpected payload %q", frame.Payload)

			return
		}

		if err := receiver.writeByte(ACK); err != nil {
			done <- err

			return
		}

		eot, err := receiver.readByte(0)
		if err != nil {
			done <- err

			return
		}

		if eot != EOT {
			done <- fmt.Errorf("expected EOT, got %02X", eot)

			return
		}

		done <- nil
	}()

	require.NoError(t, sender.SendMessage([]string{"H|\\^&"}))
	require.NoError(t, <-done)
	require.Equal(t, uint64(1), sender.metrics.FrameRetryCount.Load())
}

// TestReceiveMessageDedupesAfterChecksumRetransmit covers the LAB-29
// "bad checksum retransmit" case: the receiver NAKs a corrupted frame,
// the sender retransmits the same frame number unmodified, and the
// assembled message must contain the payload exactly once.
func TestReceiveMessageDedupesAfterChecksumRetransmit(t *testing.T) {
	cfg := newTestConfig()
	receiver, sender := newPipeTransports(t, cfg)

	frame := EncodeFrame(Frame{Number: 1, Payload: []byte("H|\\^&|||bridge"), Final: true})
	corrupted := bytes.Clone(frame)
	corrupted[len(corrupted)-6] ^= 0xFF // flip the last payload byte, leaving terminator/checksum/CR/LF intact

	done := make(chan error, 1)

	go func() {
		if err := sender.writeByte(ENQ); err != nil {
			done <- err
			return
		}

		ack, err := sender.readByte(0)
		if err != nil {
			done <- err
			return
		}
		if ack != ACK {
			done <- fmt.Errorf("expected ACK after ENQ, got %s", controlByteName(ack))
			return
		}

		if err := sender.writeAll(corrupted); err != nil {
			done <- err
			return
		}

		nak, err := sender.readByte(0)
		if err != nil {
			done <- err
			return
		}
		if nak != NAK {
			done <- fmt.Errorf("expected NAK after corrupted frame, got %s", controlByteName(nak))
			return
		}

		// Retransmit the same frame number, uncorrupted.
		if err := sender.writeAll(frame); err != nil {
			done <- err
			return
		}

		ack2, err := sender.readByte(0)
		if err != nil {
			done <- err
			return
		}
		if ack2 != ACK {
			done <- fmt.Errorf("expected ACK after retransmit, got %s", controlByteName(ack2))
			return
		}

		done <- sender.writeByte(EOT)
	}()

	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, "H|\\^&|||bridge", msg)
	assert.Equal(t, 1, strings.Count(msg, "bridge"), "retransmitted payload must not be duplicated")
	assert.Equal(t, uint64(1), receiver.metrics.FrameRecvCount.Load())
}

// TestSendMessageExhaustsRetriesAfterRepeatedNAK covers the LAB-28 "sender
// retry exhaustion" case: the peer NAKs every attempt for a frame, the
// sender gives up after RetryLimit attempts, and writes EOT rather than
// hanging or retrying forever. Grounded on the teacher's
// TestSendBlock_RetryExhaustion (secs1/block_transport_test.go).
func TestSendMessageExhaustsRetriesAfterRepeatedNAK(t *testing.T) {
	cfg := newTestConfig(WithRetryLimit(3))
	sender, receiver := newPipeTransports(t, cfg)

	done := make(chan error, 1)

	go func() {
		b, err := receiver.readByte(0)
		if err != nil || b != ENQ {
			done <- fmt.Errorf("expected ENQ, got %v (err=%v)", b, err)
			return
		}

		if err := receiver.writeByte(ACK); err != nil {
			done <- err
			return
		}

		for i := 0; i < cfg.RetryLimit; i++ {
			if _, err := DecodeFrame(receiver.nextUnbounded); err != nil {
				done <- err
				return
			}

			if err := receiver.writeByte(NAK); err != nil {
				done <- err
				return
			}
		}

		eot, err := receiver.readByte(0)
		if err != nil {
			done <- err
			return
		}
		if eot != EOT {
			done <- fmt.Errorf("expected EOT after exhausted retries, got %s", controlByteName(eot))
			return
		}

		done <- nil
	}()

	err := sender.SendMessage([]string{"H|\\^&|||bridge"})
	require.ErrorIs(t, err, ErrRetryExhausted)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(cfg.RetryLimit), sender.metrics.FrameNAKCount.Load())
}

func TestPollForENQCountsIdleTimeoutOncePerWindow(t *testing.T) {
	cfg := newTestConfig(WithEnqWaitTimeout(100*time.Millisecond), WithPollInterval(20*time.Millisecond))
	receiver, _ := newPipeTransports(t, cfg)

	// Nobody ever sends ENQ, so every poll times out. Ten polls at 20ms
	// cover two full 100ms EnqWaitTimeout windows.
	for i := 0; i < 10; i++ {
		err := receiver.pollForENQ()
		require.ErrorIs(t, err, errTimeout)
	}

	require.Equal(t, uint64(2), receiver.metrics.EnqIdleTimeoutCount.Load())
}

func TestPollForENQResetsIdleWindowOnENQ(t *testing.T) {
	cfg := newTestConfig(WithEnqWaitTimeout(50*time.Millisecond), WithPollInterval(20*time.Millisecond))
	receiver, sender := newPipeTransports(t, cfg)

	done := make(chan error, 1)
	go func() {
		if err := sender.writeByte(ENQ); err != nil {
			done <- err
			return
		}

		// pollForENQ answers the ENQ with ACK; read it so the pipe write completes.
		ack, err := sender.readByte(0)
		if err != nil {
			done <- err
			return
		}
		if ack != ACK {
			done <- fmt.Errorf("expected ACK after ENQ, got %s", controlByteName(ack))
			return
		}

		done <- nil
	}()

	require.NoError(t, receiver.pollForENQ())
	require.NoError(t, <-done)
	require.Equal(t, uint64(0), receiver.metrics.EnqIdleTimeoutCount.Load())
	require.True(t, receiver.enqWaitStart.IsZero())
}
