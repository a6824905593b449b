package dualpi2

import (
	"math"
	"testing"
)

func newTestAQM(t *testing.T, args string) *AQM {
	t.Helper()
	cfg, err := ParseConfig(args)
	if err != nil {
		t.Fatalf("ParseConfig(%q) error: %v", args, err)
	}
	a := New(cfg)
	t.Cleanup(a.Close)
	return a
}

func TestEmptyAQMDequeueReturnsFalse(t *testing.T) {
	a := newTestAQM(t, "")
	if !a.Empty() {
		t.Fatal("fresh AQM should be Empty()")
	}
	if _, ok := a.Dequeue(); ok {
		t.Fatal("Dequeue() on empty AQM returned ok=true")
	}
}

func TestClassicPacketIsClassifiedIntoClassicQueue(t *testing.T) {
	a := newTestAQM(t, "")
	a.Enqueue(ipv4Packet(ECNNotECT, 8))
	if a.classic.SizePackets() != 1 {
		t.Fatalf("classic.SizePackets()=%d, want 1", a.classic.SizePackets())
	}
	if a.l4s.SizePackets() != 0 {
		t.Fatalf("l4s.SizePackets()=%d, want 0", a.l4s.SizePackets())
	}
}

func TestL4SPacketIsClassifiedIntoL4SQueue(t *testing.T) {
	for _, ecn := range []ECN{ECNECT1, ECNCE} {
		a := newTestAQM(t, "")
		a.Enqueue(ipv4Packet(ecn, 8))
		if a.l4s.SizePackets() != 1 {
			t.Fatalf("ecn=%v: l4s.SizePackets()=%d, want 1", ecn, a.l4s.SizePackets())
		}
		if a.classic.SizePackets() != 0 {
			t.Fatalf("ecn=%v: classic.SizePackets()=%d, want 0", ecn, a.classic.SizePackets())
		}
	}
}

func TestSaturationDropsWhenByteBudgetExhausted(t *testing.T) {
	a := newTestAQM(t, "packets=1") // ByteLimit = 1*mtu = 1500

	var drops []DropReason
	a.OnDrop = func(p Packet, reason DropReason) { drops = append(drops, reason) }

	a.Enqueue(ipv4Packet(ECNNotECT, 8)) // small packet, well under budget
	if len(drops) != 0 {
		t.Fatalf("first enqueue dropped unexpectedly: %v", drops)
	}

	a.Enqueue(ipv4Packet(ECNNotECT, 8)) // SizeBytes()+mtu now exceeds 1500
	if len(drops) != 1 || drops[0] != DropReasonSaturation {
		t.Fatalf("drops=%v, want exactly one DropReasonSaturation", drops)
	}
	if a.SaturationDrops() != 1 {
		t.Fatalf("SaturationDrops()=%d, want 1", a.SaturationDrops())
	}
}

// fillClassicQueue enqueues n packets of the given payload size, all
// Not-ECT so they land in the Classic sub-queue, with enough headroom
// in the byte budget that none are saturation-dropped.
func fillClassicQueue(t *testing.T, a *AQM, n, payload int) {
	t.Helper()
	for i := 0; i < n; i++ {
		a.Enqueue(ipv4Packet(ECNNotECT, payload))
	}
}

func fillL4SQueue(t *testing.T, a *AQM, n, payload int) {
	t.Helper()
	for i := 0; i < n; i++ {
		a.Enqueue(ipv4Packet(ECNECT1, payload))
	}
}

// TestDeterministicCongestionDropCount is scenario S5: with the
// coupled Classic drop probability p_C held fixed, the number of
// recur-driven drops is exactly floor(N*p_C), where N counts every
// packet recur() ran on (returned or dropped).
func TestDeterministicCongestionDropCount(t *testing.T) {
	const n = 100
	const payload = 1000 - preambleLen - minIPv4HeaderLen
	a := newTestAQM(t, "packets=300")
	fillClassicQueue(t, a, 2*n, payload) // headroom: only dequeue the first half

	a.ctrl.pC = 0.25

	drops := 0
	a.OnDrop = func(p Packet, reason DropReason) {
		if reason == DropReasonCongestion {
			drops++
		}
	}
	for i := 0; i < n; i++ {
		if a.SizeBytes() < 2*mtu {
			t.Fatalf("canAct() precondition violated at dequeue %d: SizeBytes()=%d", i, a.SizeBytes())
		}
		if _, ok := a.Dequeue(); !ok {
			t.Fatalf("Dequeue() returned ok=false at iteration %d", i)
		}
	}

	// Each Dequeue() call retries internally past any drop, so the
	// n successful returns plus the drops along the way account for
	// every packet recur() actually ran on; recur's floor pattern
	// applies to that total, not to the n outer calls alone.
	want := int(math.Floor(float64(n+drops) * 0.25))
	if drops != want {
		t.Fatalf("congestion drops=%d, want floor((%d+%d)*0.25)=%d", drops, n, drops, want)
	}
}

// TestOverloadForcesCongestionDrops is scenario S7: once the controller
// reports Classic overloaded with drop-on-overload set, L4S dequeues
// take the drop branch (keyed off p_C) rather than the native/coupled
// marking branch.
func TestOverloadForcesCongestionDrops(t *testing.T) {
	const n = 50
	const payload = 1000 - preambleLen - minIPv4HeaderLen
	a := newTestAQM(t, "packets=300")
	fillL4SQueue(t, a, 2*n, payload)

	a.ctrl.pp = a.ctrl.pCmax
	a.ctrl.pC = 0.2
	a.ctrl.pCL = 1.0
	a.ctrl.l4sDropOnOverload = true

	if !a.ctrl.L4SOverloaded() {
		t.Fatal("test setup: expected L4SOverloaded()=true")
	}

	drops := 0
	var marks int
	a.OnDrop = func(p Packet, reason DropReason) {
		if reason == DropReasonCongestion {
			drops++
		}
	}
	a.OnMark = func(p Packet, from QueueKind) { marks++ }

	for i := 0; i < n; i++ {
		if _, ok := a.Dequeue(); !ok {
			t.Fatalf("Dequeue() returned ok=false at iteration %d", i)
		}
	}

	// As in the Classic case, a drop keeps Dequeue() retrying
	// internally, so recur() runs once per packet actually pulled off
	// the ring: n returned plus whatever was dropped along the way.
	want := int(math.Floor(float64(n+drops) * 0.2))
	if drops != want {
		t.Fatalf("overload drops=%d, want floor((%d+%d)*0.2)=%d", drops, n, drops, want)
	}
	_ = marks
}

// TestNativeCouplingMarksWithoutOverload exercises the non-overloaded
// L4S dequeue branch: pp well under pCmax, so marking is driven by
// max(native, p_CL) rather than any drop.
func TestNativeCouplingMarksWithoutOverload(t *testing.T) {
	const n = 50
	const payload = 1000 - preambleLen - minIPv4HeaderLen
	a := newTestAQM(t, "packets=300")
	fillL4SQueue(t, a, 2*n, payload)

	a.ctrl.pp = 0
	a.ctrl.pC = 0
	a.ctrl.pCL = 0.3
	a.ctrl.l4sDropOnOverload = true // irrelevant: ClassicOverloaded() is false

	var drops, marks int
	a.OnDrop = func(p Packet, reason DropReason) { drops++ }
	a.OnMark = func(p Packet, from QueueKind) { marks++ }

	for i := 0; i < n; i++ {
		if _, ok := a.Dequeue(); !ok {
			t.Fatalf("Dequeue() returned ok=false at iteration %d", i)
		}
	}

	if drops != 0 {
		t.Fatalf("drops=%d, want 0 while Classic is not overloaded", drops)
	}
	want := int(math.Floor(float64(n) * 0.3))
	if marks != want {
		t.Fatalf("marks=%d, want floor(%d*0.3)=%d", marks, n, want)
	}
}

func TestStrictPriorityPrefersL4SAtAQMLevel(t *testing.T) {
	a := newTestAQM(t, "")
	a.Enqueue(ipv4Packet(ECNNotECT, 8))
	a.Enqueue(ipv4Packet(ECNECT1, 8))

	p, ok := a.Dequeue()
	if !ok {
		t.Fatal("Dequeue() returned ok=false")
	}
	if !classifyL4S(p.ECN()) {
		t.Fatal("first dequeued packet should be the L4S one under strict priority")
	}
}

func TestFIFOOrderPreservedThroughAQM(t *testing.T) {
	a := newTestAQM(t, "")
	for i := 0; i < 5; i++ {
		a.Enqueue(ipv4Packet(ECNNotECT, 8+i))
	}
	var lens []int
	for i := 0; i < 5; i++ {
		p, ok := a.Dequeue()
		if !ok {
			t.Fatalf("Dequeue() returned ok=false at %d", i)
		}
		lens = append(lens, p.Len())
	}
	for i := 1; i < len(lens); i++ {
		if lens[i] <= lens[i-1] {
			t.Fatalf("FIFO order violated: lens=%v", lens)
		}
	}
}

func TestSizeAccountingStaysWithinByteLimitBound(t *testing.T) {
	a := newTestAQM(t, "packets=10") // ByteLimit = 15000
	for i := 0; i < 30; i++ {
		a.Enqueue(ipv4Packet(ECNNotECT, 8))
	}
	if a.SizeBytes() > a.cfg.ByteLimit+mtu-1 {
		t.Fatalf("SizeBytes()=%d exceeds ByteLimit+mtu-1=%d", a.SizeBytes(), a.cfg.ByteLimit+mtu-1)
	}
	if a.SizeBytes() != a.l4s.SizeBytes()+a.classic.SizeBytes() {
		t.Fatal("AQM.SizeBytes() is not additive over its sub-queues")
	}
	if a.SizePackets() != a.l4s.SizePackets()+a.classic.SizePackets() {
		t.Fatal("AQM.SizePackets() is not additive over its sub-queues")
	}
}

func TestAQMStringIdentifiesQueueDiscipline(t *testing.T) {
	a := newTestAQM(t, "")
	if got := a.String(); got != "dualPI2" {
		t.Fatalf("String()=%q, want %q", got, "dualPI2")
	}
}
