package scanmgr

import (
	"container/heap"
	"sync"
	"time"
)

// scheduler is a single-goroutine delay queue. One timer serves all
// scheduled tasks, which keeps shutdown deterministic: Stop drains
// everything and no per-object timers linger.
type scheduler struct {
	mu      sync.Mutex
	tasks   taskHeap
	pending map[string]*schedTask
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

type schedTask struct {
	id       string
	at       time.Time
	fn       func()
	canceled bool
	index    int
}

func newScheduler() *scheduler {
	s := &scheduler{
		pending: make(map[string]*schedTask),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule registers fn to run once at time at. Re-scheduling an existing
// id replaces the task.
func (s *scheduler) Schedule(id string, at time.Time, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old, ok := s.pending[id]; ok {
		old.canceled = true
	}
	t := &schedTask{id: id, at: at, fn: fn}
	heap.Push(&s.tasks, t)
	s.pending[id] = t
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel drops a pending task. Canceling an unknown id is a no-op.
func (s *scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[id]; ok {
		t.canceled = true
		delete(s.pending, id)
	}
}

// Stop halts the run loop. Pending tasks never fire.
func (s *scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.pending = map[string]*schedTask{}
	s.tasks = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next *schedTask
		now := time.Now()

		// Pop everything due, skipping canceled entries.
		var due []*schedTask
		for s.tasks.Len() > 0 {
			head := s.tasks[0]
			if head.canceled {
				heap.Pop(&s.tasks)
				continue
			}
			if !head.at.After(now) {
				heap.Pop(&s.tasks)
				delete(s.pending, head.id)
				due = append(due, head)
				continue
			}
			next = head
			break
		}
		s.mu.Unlock()

		for _, t := range due {
			t.fn()
		}

		wait := time.Hour
		if next != nil {
			wait = time.Until(next.at)
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

type taskHeap []*schedTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) { t := x.(*schedTask); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
