package dualpi2

import "time"

// controller holds the coupled PI² state: the base probability pp and
// the probabilities derived from it every tick, plus the sojourn-time
// cache used to compute the derivative term on the next tick.
type controller struct {
	pp float64 // base probability, in [0, pCmax], or [0, 1] when the clamp is relaxed or drop-on-overload is off

	pC  float64 // Classic drop probability: pp^2
	pCL float64 // coupled component fed into L4S marking: pp*k

	l4sQdelayMS     int64
	classicQdelayMS int64

	targetMS float64
	alpha    float64
	beta     float64

	k      float64
	pCmax  float64 // min(1/k^2, 1)

	l4sDropOnOverload bool
	relaxedPPClamp    bool
}

func newController(targetMS, alpha, beta, k float64, l4sDropOnOverload, relaxedPPClamp bool) *controller {
	c := &controller{
		targetMS:          targetMS,
		alpha:             alpha,
		beta:              beta,
		k:                 k,
		l4sDropOnOverload: l4sDropOnOverload,
		relaxedPPClamp:    relaxedPPClamp,
	}
	c.pCmax = 1 / (k * k)
	if c.pCmax > 1 {
		c.pCmax = 1
	}
	return c
}

// Tick runs one PI² update (§4.6): re-reads both sub-queues' sojourn
// times, applies the proportional-integral law, clamps pp, and
// recomputes the derived probabilities.
func (c *controller) Tick(l4s, classic *subQueue, now time.Time) {
	qdelayOld := c.l4sQdelayMS
	if c.classicQdelayMS > qdelayOld {
		qdelayOld = c.classicQdelayMS
	}

	c.l4sQdelayMS = l4s.QdelayMS(now)
	c.classicQdelayMS = classic.QdelayMS(now)

	qdelay := c.l4sQdelayMS
	if c.classicQdelayMS > qdelay {
		qdelay = c.classicQdelayMS
	}

	ppNew := c.pp +
		c.alpha*(float64(qdelay)-c.targetMS) +
		c.beta*(float64(qdelay-qdelayOld))

	ppCap := 1.0
	if c.l4sDropOnOverload && !c.relaxedPPClamp {
		ppCap = c.pCmax
	}
	if ppNew < 0 {
		ppNew = 0
	} else if ppNew > ppCap {
		ppNew = ppCap
	}

	c.pp = ppNew
	c.pC = c.pp * c.pp
	c.pCL = c.pp * c.k
}

// ClassicOverloaded reports whether the PI controller has saturated
// its Classic-side cap (§4.7).
func (c *controller) ClassicOverloaded() bool {
	return c.pp >= c.pCmax
}

// L4SOverloaded reports whether L4S traffic should be pushed back via
// drops, which only happens once Classic is overloaded and the
// drop-on-overload flag is set.
func (c *controller) L4SOverloaded() bool {
	return c.ClassicOverloaded() && c.l4sDropOnOverload
}
