package astm

import (
	"time"
)

// startConnectLoop dials the analyzer, reconnecting with exponential
// backoff (capped at MaxBackoff) whenever the connection drops or a dial
// attempt fails, until StopListening is called.
func (c *Connection) startConnectLoop() error {
	return c.taskMgr.StartOnce("connectLoop", func() {
		delay := c.cfg.InitialBackoff

		for c.IsListening() {
			conn, err := dialTimeout(c.pctx, c.cfg.Host, c.cfg.Port, c.cfg.ConnectTimeout)
			if err != nil {
				c.Metrics.incConnRetry()
				c.logger.Warn("astm: dial failed, backing off", "host", c.cfg.Host, "port", c.cfg.Port, "delay", delay, "error", err)

				if !c.sleepBackoff(delay) {
					return
				}

				delay = nextBackoff(delay, c.cfg.BackoffFactor, c.cfg.MaxBackoff)

				continue
			}

			c.logger.Info("astm: connected", "host", c.cfg.Host, "port", c.cfg.Port)
			c.Metrics.resetConnRetry()
			delay = c.cfg.InitialBackoff

			c.setConn(conn)
			c.runProtocolLoop(c.pctx)
			c.closeConn()

			if !c.IsListening() || !c.sleepBackoff(delay) {
				return
			}

			delay = nextBackoff(delay, c.cfg.BackoffFactor, c.cfg.MaxBackoff)
		}
	}, nil)
}

func (c *Connection) sleepBackoff(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return c.IsListening()
	case <-c.pctx.Done():
		return false
	}
}

func nextBackoff(cur time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * factor)
	if next > max {
		return max
	}

	return next
}
