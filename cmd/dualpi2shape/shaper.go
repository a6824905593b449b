package main

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MarcoPolo/dualpi2"
	"golang.org/x/time/rate"
)

// Shaper is the "enclosing packet shaper" spec.md §1 treats as an
// external collaborator: it applies a simulated ingress latency, hands
// packets to the AQM queue discipline, then rate-limits egress.
// Adapted from the teacher repo's SimulatedLink/RateLink
// (simlink.go/ratelink.go): same rate.Limiter-driven background
// dequeue loop, but the CoDel drop decision is replaced end to end by
// the coupled AQM's mark/drop policy.
type Shaper struct {
	AQM     *dualpi2.AQM
	Limiter *rate.Limiter
	Logger  *slog.Logger

	Latency time.Duration

	mu      sync.Mutex
	h       deliveryHeap
	order   int
	closed  chan struct{}
	wg      sync.WaitGroup
	arrival chan struct{}

	// aqmMu serializes every call into the AQM. THE CORE is documented
	// (spec.md §5) as a single-threaded cooperative event loop that may
	// never have a controller tick interleave mid-packet; since the
	// ingress and egress goroutines below both drive it, they take this
	// lock around every call, the same way codelQueue.mu serializes the
	// teacher's queue across its own background loops.
	aqmMu sync.Mutex

	Delivered func(p dualpi2.Packet)
}

// NewShaper builds a Shaper around an already-constructed AQM.
// bandwidthBitsPerSecond of 0 disables rate limiting.
func NewShaper(aqm *dualpi2.AQM, bandwidthBitsPerSecond, burstBytes int, latency time.Duration) *Shaper {
	var limiter *rate.Limiter
	if bandwidthBitsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(bandwidthBitsPerSecond)/8.0), burstBytes)
	}
	return &Shaper{
		AQM:     aqm,
		Limiter: limiter,
		Latency: latency,
		closed:  make(chan struct{}),
		arrival: make(chan struct{}, 1),
	}
}

// Start runs the shaper's background ingress and egress loops. The
// egress loop mirrors SimulatedLink.backgroundDownlink: pull from the
// queue discipline, then rate-limit before delivery.
func (s *Shaper) Start() {
	s.wg.Add(2)
	go s.runIngress()
	go s.runEgress()
}

// Stop tears the shaper down and disarms the AQM's periodic timer.
func (s *Shaper) Stop() {
	close(s.closed)
	s.wg.Wait()
	s.aqmMu.Lock()
	s.AQM.Close()
	s.aqmMu.Unlock()
}

// Send admits a packet into the shaper's simulated-latency front end.
func (s *Shaper) Send(p dualpi2.Packet) {
	s.mu.Lock()
	s.order++
	heap.Push(&s.h, deliveryItem{
		packet:       p,
		order:        s.order,
		deliveryTime: time.Now().Add(s.Latency),
	})
	s.mu.Unlock()

	select {
	case s.arrival <- struct{}{}:
	default:
	}
}

// runIngress releases packets from the latency-reordering heap into
// the AQM once their simulated delivery time has passed.
func (s *Shaper) runIngress() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		s.mu.Lock()
		if len(s.h) == 0 {
			s.mu.Unlock()
			select {
			case <-s.closed:
				return
			case <-s.arrival:
				continue
			}
		}

		now := time.Now()
		next := s.h[0].deliveryTime
		if next.After(now) {
			s.mu.Unlock()
			timer.Reset(next.Sub(now))
			select {
			case <-s.closed:
				timer.Stop()
				return
			case <-timer.C:
				continue
			case <-s.arrival:
				timer.Stop()
				continue
			}
		}

		item := heap.Pop(&s.h).(deliveryItem)
		s.mu.Unlock()

		s.aqmMu.Lock()
		s.AQM.Enqueue(item.packet)
		s.aqmMu.Unlock()
	}
}

// runEgress dequeues from the AQM and paces delivery through the rate
// limiter, exactly the shape of SimulatedLink.backgroundDownlink.
func (s *Shaper) runEgress() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		s.aqmMu.Lock()
		pkt, ok := s.AQM.Dequeue()
		s.aqmMu.Unlock()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}

		if s.Limiter != nil {
			if err := s.Limiter.WaitN(context.Background(), pkt.Len()); err != nil {
				s.logger().Warn("dualpi2shape: rate limiter wait failed", "err", err)
			}
		}

		if s.Delivered != nil {
			s.Delivered(pkt)
		}
	}
}

func (s *Shaper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
