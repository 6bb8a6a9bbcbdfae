package connection

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// evaluateQuality is called periodically by the liveness loop. It flips
// Good<->Bad based on the latency EWMA crossing LatencyThresholdMs, but
// only once the threshold has been continuously crossed for the current
// hold duration (badSince/goodSince mark when the current streak began).
// While the link stays Bad and over the threshold, each further good-hold
// window multiplies the good hold by HoldBackoffFactor, up to MaxHold. The
// bad hold is never backed off, and each transition resets the hold for
// the new state to its configured value, so rapid Bad->Good->Bad cycles
// are not dampened.
func (c *Connection) evaluateQuality(now time.Time) {
	c.mu.Lock()
	latency := c.latencyMs
	quality := c.quality
	last := c.lastTransition
	badHold := c.badHoldCurrent
	goodHold := c.goodHoldCurrent
	over := latency > c.cfg.LatencyThresholdMs

	switch quality {
	case Good:
		if !over {
			c.badSince = time.Time{}
			c.mu.Unlock()
			return
		}
		if c.badSince.IsZero() {
			c.badSince = now
		}
		badSince := c.badSince
		c.mu.Unlock()
		if now.Sub(badSince) >= badHold {
			c.transitionQuality(Bad, now)
		}
	case Bad:
		if over {
			c.goodSince = time.Time{}
			if now.Sub(last) >= goodHold {
				// still bad after a hold window: back off further so we
				// don't thrash between rates on a link that never recovers.
				c.goodHoldCurrent = backoff(c.goodHoldCurrent, c.cfg.HoldBackoffFactor, c.cfg.MaxHold)
				c.lastTransition = now
			}
			c.mu.Unlock()
			return
		}
		if c.goodSince.IsZero() {
			c.goodSince = now
		}
		goodSince := c.goodSince
		c.mu.Unlock()
		if now.Sub(goodSince) >= goodHold {
			c.transitionQuality(Good, now)
		}
	default:
		c.mu.Unlock()
	}
}

func (c *Connection) transitionQuality(to Quality, now time.Time) {
	c.mu.Lock()
	from := c.quality
	if from == to {
		c.mu.Unlock()
		return
	}
	c.quality = to
	c.lastTransition = now
	c.badSince = time.Time{}
	c.goodSince = time.Time{}
	switch to {
	case Bad:
		c.badHoldCurrent = c.cfg.BadHold
	case Good:
		c.goodHoldCurrent = c.cfg.GoodHold
	}
	rateHz := c.cfg.GoodRateHz
	if to == Bad {
		rateHz = c.cfg.BadRateHz
	}
	c.mu.Unlock()

	c.limiter.SetLimit(rate.Limit(rateHz))
	c.metrics.QualityChanged(to.String())
	c.logger.Debug("link quality transition", zap.String("from", from.String()), zap.String("to", to.String()))
}

func backoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	if next <= 0 {
		return max
	}
	return next
}
