package coordinator

import (
	"time"
)

// heartbeatSweepInterval is how often we scan for stale peer links; it is
// deliberately finer-grained than HeartbeatStale itself so staleness is
// noticed promptly.
const heartbeatSweepInterval = 5 * time.Second

// heartbeatSweep periodically marks peer links unhealthy once their
// last-heartbeat age exceeds HeartbeatStale, per §3's Healthy definition,
// and attempts a reconnect for each one found stale.
func (c *Coordinator) heartbeatSweep() {
	ticker := time.NewTicker(heartbeatSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepOnce()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) sweepOnce() {
	var stale []string
	c.mu.Lock()
	for ns, rec := range c.peers {
		if (rec.SignedInOut || rec.SignedInIn) && !rec.Healthy(c.HeartbeatStale) {
			rec.SignedInOut = false
			rec.SignedInIn = false
			stale = append(stale, ns)
		}
	}
	c.mu.Unlock()
	for _, ns := range stale {
		go c.reconnectPeer(ns)
	}
}
