package main

import (
	"time"

	"github.com/MarcoPolo/dualpi2"
)

// deliveryItem carries a packet destined for the AQM once a simulated
// ingress latency has elapsed, adapted from the teacher repo's
// packetHeap (packetheap.go): a min-heap ordered by delivery time,
// breaking ties by arrival order so same-timestamp packets keep FIFO
// order instead of a heap-implementation-defined one.
type deliveryItem struct {
	packet       dualpi2.Packet
	order        int
	deliveryTime time.Time
}

// deliveryHeap implements heap.Interface, reordering packets that
// arrived with variable simulated latency back into delivery order
// before they reach the AQM's Enqueue.
type deliveryHeap []deliveryItem

func (h deliveryHeap) Len() int { return len(h) }

func (h deliveryHeap) Less(i, j int) bool {
	return h[i].deliveryTime.Before(h[j].deliveryTime) ||
		(h[i].deliveryTime.Equal(h[j].deliveryTime) && h[i].order < h[j].order)
}

func (h deliveryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deliveryHeap) Push(x any) {
	*h = append(*h, x.(deliveryItem))
}

func (h *deliveryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
