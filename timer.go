package dualpi2

import "time"

// pumpTimer is a level-triggered periodic timer pumped cooperatively
// from Enqueue/Dequeue instead of its own goroutine, matching the
// single-threaded event-loop model of §5: the controller tick may only
// ever interleave at a Pump call, never mid-packet.
//
// This mirrors the non-blocking select/default polling the teacher
// repo uses for its delivery timers (see router.go's
// VariableLatencyRouter and simlink.go's background link loops), but
// pumped explicitly rather than driven by a background goroutine,
// since the AQM core has no goroutine of its own.
type pumpTimer struct {
	t        *time.Timer
	interval time.Duration
}

func newPumpTimer(interval time.Duration) *pumpTimer {
	return &pumpTimer{
		t:        time.NewTimer(interval),
		interval: interval,
	}
}

// Pump drains the timer's channel if it has already fired and reports
// whether it had. The caller is responsible for rearming via Rearm
// once it has handled the expiry.
func (p *pumpTimer) Pump() bool {
	select {
	case <-p.t.C:
		return true
	default:
		return false
	}
}

// Rearm resets the timer for another interval. Must be called after
// every expiry Pump reports.
func (p *pumpTimer) Rearm() {
	p.t.Reset(p.interval)
}

// Stop disarms the timer at AQM destruction.
func (p *pumpTimer) Stop() {
	p.t.Stop()
}
