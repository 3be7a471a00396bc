package dispatch

import "sync"

// Queue is a manually pumped Runner. Tests use it to control exactly
// when posted work runs.
type Queue struct {
	mu    sync.Mutex
	tasks []func()
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Post(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

// Pending reports how many tasks are waiting.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// RunOne runs the oldest task and reports whether there was one.
func (q *Queue) RunOne() bool {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.mu.Unlock()
	task()
	return true
}

// RunUntilIdle runs tasks, including ones posted while running, until the
// queue is empty. It returns the number of tasks run.
func (q *Queue) RunUntilIdle() int {
	n := 0
	for q.RunOne() {
		n++
	}
	return n
}

// Inline runs tasks synchronously on the posting goroutine.
type Inline struct{}

func (Inline) Post(task func()) {
	if task != nil {
		task()
	}
}
