package fieldstore

import (
	"slices"
	"sync"
	"testing"
)

func TestTaskMonitorRunsImmediatelyWhenIdle(t *testing.T) {
	monitor := NewTaskMonitor()
	ran := false
	monitor.WhenReady("a", func() { ran = true })
	if !ran {
		t.Fatalf("expected task to run while idle")
	}
	if monitor.Pending() != 0 {
		t.Fatalf("expected nothing queued")
	}
}

func TestTaskMonitorCollapsesKeysAndKeepsOrder(t *testing.T) {
	monitor := NewTaskMonitor()
	monitor.Capture()
	monitor.Capture()

	var ran []string
	monitor.WhenReady("first", func() { ran = append(ran, "first:v1") })
	monitor.WhenReady("second", func() { ran = append(ran, "second") })
	monitor.WhenReady("first", func() { ran = append(ran, "first:v2") })
	monitor.WhenReady("nil", nil)

	if monitor.Pending() != 2 {
		t.Fatalf("expected two queued tasks, got %d", monitor.Pending())
	}

	monitor.Release()
	if len(ran) != 0 || !monitor.IsWorking() {
		t.Fatalf("expected tasks to wait for the last release")
	}
	monitor.Release()

	if want := []string{"first:v2", "second"}; !slices.Equal(ran, want) {
		t.Fatalf("expected %v, got %v", want, ran)
	}
	if monitor.IsWorking() || monitor.Pending() != 0 {
		t.Fatalf("expected idle monitor")
	}

	monitor.Release()
	if monitor.IsWorking() {
		t.Fatalf("count must not go negative")
	}
	monitor.Capture()
	if !monitor.IsWorking() {
		t.Fatalf("expected a single capture to count after extra releases")
	}
}

func TestTaskMonitorTaskMayQueueAgain(t *testing.T) {
	monitor := NewTaskMonitor()
	monitor.Capture()

	var ran []string
	monitor.WhenReady("outer", func() {
		ran = append(ran, "outer")
		monitor.WhenReady("inner", func() { ran = append(ran, "inner") })
	})
	monitor.Release()

	if want := []string{"outer", "inner"}; !slices.Equal(ran, want) {
		t.Fatalf("expected %v, got %v", want, ran)
	}
}

func TestTaskMonitorConcurrentCaptures(t *testing.T) {
	monitor := NewTaskMonitor()
	const workers = 32

	var wg sync.WaitGroup
	for range workers {
		monitor.Capture()
	}
	var mu sync.Mutex
	runs := 0
	monitor.WhenReady("done", func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			monitor.Release()
		}()
	}
	wg.Wait()

	if runs != 1 {
		t.Fatalf("expected the queued task to run exactly once, got %d", runs)
	}
}
