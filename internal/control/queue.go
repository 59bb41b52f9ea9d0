package control

// DefaultQueueSize is used when NewQueue is given a non-positive size.
const DefaultQueueSize = 64

// Queue is a bounded, non-blocking event queue. Input handlers push from
// any goroutine; the render loop drains it once at the start of a tick so
// no mutation is observed mid-tick.
type Queue struct {
	events chan Command
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{events: make(chan Command, size)}
}

// Push enqueues cmd and reports whether it was accepted. A full queue
// drops the command; the caller still owns any image it carries.
func (q *Queue) Push(cmd Command) bool {
	select {
	case q.events <- cmd:
		return true
	default:
		return false
	}
}

// Drain calls apply for every command queued at the time of the call.
// Commands pushed while draining wait for the next tick.
func (q *Queue) Drain(apply func(Command)) int {
	n := len(q.events)
	for i := 0; i < n; i++ {
		select {
		case cmd := <-q.events:
			apply(cmd)
		default:
			return i
		}
	}
	return n
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	return len(q.events)
}
