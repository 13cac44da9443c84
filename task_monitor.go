package fieldstore

import "sync"

// TaskMonitor is a counting barrier. Work in flight captures it; tasks queued
// with WhenReady run once every capture has been released.
type TaskMonitor struct {
	mu      sync.Mutex
	working int
	order   []string
	tasks   map[string]func()
}

// NewTaskMonitor returns an idle monitor.
func NewTaskMonitor() *TaskMonitor {
	return &TaskMonitor{tasks: make(map[string]func())}
}

// Capture registers one unit of work in flight.
func (m *TaskMonitor) Capture() {
	m.mu.Lock()
	m.working++
	m.mu.Unlock()
}

// Release ends one unit of work. The count never drops below zero. When it
// reaches zero the queued tasks run in insertion order, each exactly once.
func (m *TaskMonitor) Release() {
	for _, task := range m.release() {
		task()
	}
}

func (m *TaskMonitor) release() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.working > 0 {
		m.working--
	}
	if m.working > 0 || len(m.order) == 0 {
		return nil
	}
	tasks := make([]func(), 0, len(m.order))
	for _, key := range m.order {
		tasks = append(tasks, m.tasks[key])
	}
	m.order = nil
	clear(m.tasks)
	return tasks
}

// IsWorking reports whether any capture is outstanding.
func (m *TaskMonitor) IsWorking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.working > 0
}

// WhenReady runs task immediately when idle. Otherwise the task is queued
// under key; queueing the same key again replaces the task but keeps its
// original position.
func (m *TaskMonitor) WhenReady(key string, task func()) {
	if task == nil {
		return
	}
	m.mu.Lock()
	if m.working == 0 {
		m.mu.Unlock()
		task()
		return
	}
	if _, queued := m.tasks[key]; !queued {
		m.order = append(m.order, key)
	}
	m.tasks[key] = task
	m.mu.Unlock()
}

// Pending returns the number of queued tasks.
func (m *TaskMonitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
