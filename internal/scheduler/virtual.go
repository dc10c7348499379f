package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a deterministic scheduler for tests. Time only moves on Advance.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	tasks  map[int]*virtualTask
}

type virtualTask struct {
	id     int
	due    time.Time
	period time.Duration
	fn     func()
}

// NewVirtual creates a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start, tasks: make(map[int]*virtualTask)}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration, fn func()) CancelFunc {
	return v.add(d, 0, fn)
}

func (v *Virtual) Every(d time.Duration, fn func()) CancelFunc {
	return v.add(d, d, fn)
}

func (v *Virtual) add(d, period time.Duration, fn func()) CancelFunc {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := v.nextID
	v.tasks[id] = &virtualTask{id: id, due: v.now.Add(d), period: period, fn: fn}
	return func() {
		v.mu.Lock()
		delete(v.tasks, id)
		v.mu.Unlock()
	}
}

// Pending returns the number of scheduled tasks.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.tasks)
}

// Advance moves the clock forward by d, running every task that falls due in
// order of due time. Callbacks run without the clock lock held, so they may
// schedule or cancel tasks.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		task := v.nextDueLocked(target)
		if task == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		v.now = task.due
		if task.period > 0 {
			task.due = task.due.Add(task.period)
		} else {
			delete(v.tasks, task.id)
		}
		fn := task.fn
		v.mu.Unlock()
		fn()
	}
}

func (v *Virtual) nextDueLocked(target time.Time) *virtualTask {
	due := make([]*virtualTask, 0, len(v.tasks))
	for _, t := range v.tasks {
		if !t.due.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})
	return due[0]
}
