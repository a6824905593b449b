package dualpi2

import "time"

// QueueKind identifies which of the two coupled sub-queues a packet
// belongs to, or that neither had anything to offer.
type QueueKind int

const (
	QueueNone QueueKind = iota
	QueueL4S
	QueueClassic
)

func (k QueueKind) String() string {
	switch k {
	case QueueL4S:
		return "L4S"
	case QueueClassic:
		return "Classic"
	default:
		return "None"
	}
}

// subQueue is the FIFO storage and bookkeeping shared by the Classic
// and L4S sub-queues: byte/packet accounting, sojourn-time lookups
// against the head packet, and the recur dithering accumulator.
type subQueue struct {
	ring       packetRing
	sizeBytes  int
	recurCount float64
}

func newSubQueue() subQueue {
	return subQueue{ring: newPacketRing(64)}
}

// Enqueue appends p, stamping its arrival time as now.
func (q *subQueue) Enqueue(p Packet, now time.Time) {
	p.arrivalTime = now
	q.sizeBytes += p.Len()
	q.ring.PushBack(p)
}

// Dequeue removes and returns the head packet. Callers must check
// Empty first.
func (q *subQueue) Dequeue() Packet {
	p := q.ring.PopFront()
	q.sizeBytes -= p.Len()
	return p
}

// QdelayMS returns the sojourn time of the head packet against ref, in
// truncated integer milliseconds, or 0 if the queue is empty.
func (q *subQueue) QdelayMS(ref time.Time) int64 {
	if q.ring.Empty() {
		return 0
	}
	d := ref.Sub(q.ring.Peek().arrivalTime)
	if d < 0 {
		return 0
	}
	return int64(d / time.Millisecond)
}

func (q *subQueue) SizeBytes() int   { return q.sizeBytes }
func (q *subQueue) SizePackets() int { return q.ring.Len() }
func (q *subQueue) Empty() bool      { return q.ring.Empty() }

func (q *subQueue) GetRecurCount() float64  { return q.recurCount }
func (q *subQueue) SetRecurCount(c float64) { q.recurCount = c }

// recur converts a probability into a deterministic, evenly-spaced
// pattern of true/false decisions: over N calls with a fixed
// likelihood p, the number of true results is floor(N*p + initial
// recurCount). This is the AQM's only source of randomness-like
// behavior, and it is fully reproducible.
func (q *subQueue) recur(likelihood float64) bool {
	c := q.recurCount + likelihood
	if c >= 1 {
		q.recurCount = c - 1
		return true
	}
	q.recurCount = c
	return false
}
