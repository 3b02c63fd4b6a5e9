package astm

import "sync/atomic"

// ConnectionMetrics holds atomic counters for one Connection, suitable for
// exposing as prometheus CounterFunc/GaugeFunc values.
type ConnectionMetrics struct {
	FrameSendCount  atomic.Uint64
	FrameRecvCount  atomic.Uint64
	FrameRetryCount atomic.Uint64
	FrameNAKCount   atomic.Uint64

	MessageSendCount atomic.Uint64
	MessageRecvCount atomic.Uint64
	MessageErrCount  atomic.Uint64

	ConnRetryGauge atomic.Uint32

	// EnqIdleTimeoutCount counts how many times the receiver went a full
	// EnqWaitTimeout without seeing an ENQ, per spec's 15s ENQ-wait
	// deadline; it increments at most once per EnqWaitTimeout window,
	// not once per PollInterval.
	EnqIdleTimeoutCount atomic.Uint64
}

func (m *ConnectionMetrics) incFrameSend()  { m.FrameSendCount.Add(1) }
func (m *ConnectionMetrics) incFrameRecv()  { m.FrameRecvCount.Add(1) }
func (m *ConnectionMetrics) incFrameRetry() { m.FrameRetryCount.Add(1) }
func (m *ConnectionMetrics) incFrameNAK()   { m.FrameNAKCount.Add(1) }

func (m *ConnectionMetrics) incMessageSend() { m.MessageSendCount.Add(1) }
func (m *ConnectionMetrics) incMessageRecv() { m.MessageRecvCount.Add(1) }
func (m *ConnectionMetrics) incMessageErr()  { m.MessageErrCount.Add(1) }

func (m *ConnectionMetrics) incConnRetry()   { m.ConnRetryGauge.Add(1) }
func (m *ConnectionMetrics) resetConnRetry() { m.ConnRetryGauge.Store(0) }

func (m *ConnectionMetrics) incEnqIdleTimeout() { m.EnqIdleTimeoutCount.Add(1) }
