package dualpi2

import (
	"log/slog"
	"time"
)

// DropReason distinguishes why the AQM discarded a packet, mirroring
// the teacher repo's router.go DropReason enum and its accompanying
// OnDrop hook.
type DropReason string

const (
	// DropReasonSaturation is the shared byte budget having no room
	// left for another MTU-sized packet on enqueue.
	DropReasonSaturation DropReason = "saturation"
	// DropReasonCongestion is a recur-driven drop on dequeue, signalling
	// congestion to a non-scalable or overloaded L4S sender.
	DropReasonCongestion DropReason = "congestion"
)

// OnDrop is called, if set, whenever the AQM discards a packet.
type OnDrop func(p Packet, reason DropReason)

// OnMark is called, if set, whenever the AQM CE-marks a packet on its
// way out.
type OnMark func(p Packet, from QueueKind)

// LogOnDrop returns an OnDrop that logs at Warn, adapted from the
// teacher's router.LogOnDrop.
func LogOnDrop(logger *slog.Logger) OnDrop {
	return func(p Packet, reason DropReason) {
		logger.Warn("dualpi2: dropping packet", "bytes", p.Len(), "reason", reason)
	}
}

// LogOnMark returns an OnMark that logs at Debug.
func LogOnMark(logger *slog.Logger) OnMark {
	return func(p Packet, from QueueKind) {
		logger.Debug("dualpi2: marking packet CE", "bytes", p.Len(), "queue", from)
	}
}

// AQM is a dual-queue coupled PI² Active Queue Management queue
// discipline (RFC 9332): the top-level type an enclosing packet
// shaper drives via Enqueue/Dequeue.
type AQM struct {
	cfg Config

	l4s     l4sQueue
	classic classicQueue
	sched   scheduler
	ctrl    *controller
	timer   *pumpTimer

	saturDropPkts int

	// Logger defaults to slog.Default() the first time it's needed.
	Logger *slog.Logger
	OnDrop OnDrop
	OnMark OnMark

	// now is swappable in tests; defaults to time.Now.
	now func() time.Time
}

// New constructs an AQM from an already-parsed Config. Use NewFromArgs
// to construct directly from the wire-format configuration string.
func New(cfg Config) *AQM {
	a := &AQM{
		cfg:     cfg,
		l4s:     newL4SQueue(cfg.L4SMinThresholdUS/1000, cfg.L4SRangeMS),
		classic: newClassicQueue(),
		sched:   newScheduler(cfg.Scheduler, cfg.L4SQuantum, cfg.ClassicQuantum),
		ctrl:    newController(cfg.TargetMS, cfg.Alpha, cfg.Beta, cfg.K, cfg.L4SDropOnOverload, cfg.RelaxedPPClamp),
		timer:   newPumpTimer(cfg.Tupdate()),
		now:     time.Now,
	}
	return a
}

// NewFromArgs parses args per §6 and constructs an AQM, or returns the
// parse error as a fatal construction failure (§7).
func NewFromArgs(args string) (*AQM, error) {
	cfg, err := ParseConfig(args)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

func (a *AQM) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// pump drains one expired timer tick, if any, and runs the controller
// update synchronously before returning control to the caller. This is
// the sole point at which AQM state may change outside of the
// enqueue/dequeue operation currently in progress (§5).
func (a *AQM) pump() {
	if !a.timer.Pump() {
		return
	}
	a.ctrl.Tick(&a.l4s.subQueue, &a.classic.subQueue, a.now())
	a.logger().Debug("dualpi2: controller tick",
		"pp", a.ctrl.pp, "p_C", a.ctrl.pC, "p_CL", a.ctrl.pCL)
	a.timer.Rearm()
}

// Enqueue implements §4.4.
func (a *AQM) Enqueue(p Packet) {
	a.pump()

	if a.SizeBytes()+mtu > a.cfg.ByteLimit {
		a.saturDropPkts++
		if a.OnDrop != nil {
			a.OnDrop(p, DropReasonSaturation)
		}
		a.pump()
		return
	}

	now := a.now()
	if classifyL4S(p.ECN()) {
		a.l4s.Enqueue(p, now)
	} else {
		a.classic.Enqueue(p, now)
	}

	a.pump()
}

// Dequeue implements §4.5, including the recur-driven retry loop.
func (a *AQM) Dequeue() (Packet, bool) {
	for {
		a.pump()

		q := a.sched.SelectQueue(a.l4s.Empty(), a.classic.Empty())
		if q == QueueNone {
			return Packet{}, false
		}

		var pkt Packet
		var dropped bool
		switch q {
		case QueueL4S:
			pkt, dropped = a.dequeueL4S()
		case QueueClassic:
			pkt, dropped = a.dequeueClassic()
		}

		if dropped {
			continue
		}

		a.sched.ApplyCreditChange(q)
		a.pump()
		return pkt, true
	}
}

// canAct reports whether the shared buffer holds enough to justify a
// mark/drop decision (§4.5's can_act), preventing signalling on an
// essentially empty queue.
func (a *AQM) canAct() bool {
	return a.SizeBytes() >= 2*mtu
}

func (a *AQM) dequeueL4S() (Packet, bool) {
	pkt := a.l4s.Dequeue()

	if !a.ctrl.L4SOverloaded() {
		qdelay := a.l4s.QdelayMS(a.now())
		pLNative := a.l4s.nativeMarkProb(qdelay)
		pL := pLNative
		if a.ctrl.pCL > pL {
			pL = a.ctrl.pCL
		}
		if a.l4s.recur(pL) && a.canAct() {
			a.mark(&pkt, QueueL4S)
		}
		return pkt, false
	}

	if a.l4s.recur(a.ctrl.pC) && a.canAct() {
		a.drop(pkt, DropReasonCongestion)
		return pkt, true
	}
	if a.l4s.recur(a.ctrl.pCL) && a.canAct() {
		a.mark(&pkt, QueueL4S)
	}
	return pkt, false
}

func (a *AQM) dequeueClassic() (Packet, bool) {
	pkt := a.classic.Dequeue()

	if a.classic.recur(a.ctrl.pC) {
		if pkt.ECN() == ECNNotECT || a.ctrl.ClassicOverloaded() {
			if a.canAct() {
				a.drop(pkt, DropReasonCongestion)
				return pkt, true
			}
		} else if a.canAct() {
			a.mark(&pkt, QueueClassic)
		}
	}
	return pkt, false
}

func (a *AQM) mark(p *Packet, from QueueKind) {
	p.MarkCE()
	if a.OnMark != nil {
		a.OnMark(*p, from)
	}
}

func (a *AQM) drop(p Packet, reason DropReason) {
	if a.OnDrop != nil {
		a.OnDrop(p, reason)
	}
}

// Empty reports whether both sub-queues are empty.
func (a *AQM) Empty() bool {
	return a.l4s.Empty() && a.classic.Empty()
}

// SizeBytes returns the combined byte size of both sub-queues.
func (a *AQM) SizeBytes() int {
	return a.l4s.SizeBytes() + a.classic.SizeBytes()
}

// SizePackets returns the combined packet count of both sub-queues.
func (a *AQM) SizePackets() int {
	return a.l4s.SizePackets() + a.classic.SizePackets()
}

// SaturationDrops returns the number of packets dropped on enqueue due
// to the shared buffer being full.
func (a *AQM) SaturationDrops() int {
	return a.saturDropPkts
}

// String identifies the queue discipline, matching the source's fixed
// to_string() return value.
func (a *AQM) String() string {
	return "dualPI2"
}

// Close disarms the periodic timer. The enclosing shaper is expected
// to call this when tearing the AQM down.
func (a *AQM) Close() {
	a.timer.Stop()
}
