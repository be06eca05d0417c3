package scanmgr

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedulerFiresDueTask(t *testing.T) {
	s := newScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.Schedule("a", time.Now().Add(10*time.Millisecond), func() { fired.Add(1) })

	waitFor(t, func() bool { return fired.Load() == 1 })
}

func TestSchedulerCancelPreventsFiring(t *testing.T) {
	s := newScheduler()
	defer s.Stop()

	var fired atomic.Int32
	s.Schedule("a", time.Now().Add(20*time.Millisecond), func() { fired.Add(1) })
	s.Cancel("a")
	s.Cancel("a") // unknown id after first cancel, must be a no-op

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("canceled task fired %d times", fired.Load())
	}
}

func TestSchedulerRescheduleReplacesTask(t *testing.T) {
	s := newScheduler()
	defer s.Stop()

	var first, second atomic.Int32
	s.Schedule("a", time.Now().Add(15*time.Millisecond), func() { first.Add(1) })
	s.Schedule("a", time.Now().Add(15*time.Millisecond), func() { second.Add(1) })

	waitFor(t, func() bool { return second.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("replaced task still fired")
	}
}

func TestSchedulerFiresInDeadlineOrder(t *testing.T) {
	s := newScheduler()
	defer s.Stop()

	var mu []string
	done := make(chan struct{})
	s.Schedule("late", time.Now().Add(40*time.Millisecond), func() {
		mu = append(mu, "late")
		close(done)
	})
	s.Schedule("early", time.Now().Add(10*time.Millisecond), func() {
		mu = append(mu, "early")
	})

	<-done
	if len(mu) != 2 || mu[0] != "early" || mu[1] != "late" {
		t.Errorf("firing order = %v, want [early late]", mu)
	}
}

func TestSchedulerStopDropsPending(t *testing.T) {
	s := newScheduler()

	var fired atomic.Int32
	s.Schedule("a", time.Now().Add(20*time.Millisecond), func() { fired.Add(1) })
	s.Stop()
	s.Stop() // idempotent

	// Scheduling after Stop is a no-op.
	s.Schedule("b", time.Now(), func() { fired.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("tasks fired after Stop: %d", fired.Load())
	}
}
