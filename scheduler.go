package dualpi2

// SchedulerKind selects which inter-queue scheduling policy an AQM
// uses, per the `sched` configuration option.
type SchedulerKind int

const (
	SchedStrictPriority SchedulerKind = iota
	SchedWRR
)

// scheduler selects which sub-queue to serve on each dequeue attempt.
// Both implementations are interchangeable from the AQM's point of
// view: it only ever calls SelectQueue and, after a packet is
// successfully returned (never after a drop-and-loop), ApplyCreditChange.
type scheduler interface {
	SelectQueue(l4sEmpty, classicEmpty bool) QueueKind
	ApplyCreditChange(served QueueKind)
}

// strictPriorityScheduler always prefers L4S traffic, falling back to
// Classic only when L4S has nothing queued.
type strictPriorityScheduler struct{}

func (strictPriorityScheduler) SelectQueue(l4sEmpty, classicEmpty bool) QueueKind {
	switch {
	case !l4sEmpty:
		return QueueL4S
	case !classicEmpty:
		return QueueClassic
	default:
		return QueueNone
	}
}

func (strictPriorityScheduler) ApplyCreditChange(QueueKind) {}

// wrrScheduler is a two-queue weighted round robin, modeled on the
// credit/quantum scheme FQ-CoDel uses to move between its new and old
// flow lists: serving a queue spends its quantum of credit, and
// credit is only ever spent by the queue actually selected.
//
// The credit is signed and shared between both queues: it decrements
// toward a negative bound while L4S is served and increments toward a
// positive bound while Classic is served. A non-negative credit
// prefers L4S when both queues are non-empty; a negative credit
// prefers Classic. Either queue is always served on its own when the
// other is empty.
type wrrScheduler struct {
	credit int

	l4sQuantum     int
	classicQuantum int
	maxCredit      int
	minCredit      int
}

func newWRRScheduler(l4sQuantum, classicQuantum int) *wrrScheduler {
	return &wrrScheduler{
		l4sQuantum:     l4sQuantum,
		classicQuantum: classicQuantum,
		maxCredit:      classicQuantum,
		minCredit:      -l4sQuantum,
	}
}

func (s *wrrScheduler) SelectQueue(l4sEmpty, classicEmpty bool) QueueKind {
	switch {
	case l4sEmpty && classicEmpty:
		return QueueNone
	case l4sEmpty:
		return QueueClassic
	case classicEmpty:
		return QueueL4S
	case s.credit >= 0:
		return QueueL4S
	default:
		return QueueClassic
	}
}

// ApplyCreditChange adjusts the shared credit by the quantum of
// whichever queue was actually served, and is invoked once per
// successful dequeue (never after a recur-driven drop, so drops don't
// consume WRR credit).
func (s *wrrScheduler) ApplyCreditChange(served QueueKind) {
	switch served {
	case QueueL4S:
		s.credit -= s.l4sQuantum
		if s.credit < s.minCredit {
			s.credit = s.minCredit
		}
	case QueueClassic:
		s.credit += s.classicQuantum
		if s.credit > s.maxCredit {
			s.credit = s.maxCredit
		}
	}
}

func newScheduler(kind SchedulerKind, l4sQuantum, classicQuantum int) scheduler {
	if kind == SchedWRR {
		return newWRRScheduler(l4sQuantum, classicQuantum)
	}
	return strictPriorityScheduler{}
}
