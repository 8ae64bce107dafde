package runloop

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestLoop_PostOrder(t *testing.T) {
	l, _ := NewTest(epoch)
	var got []int
	for i := 1; i <= 3; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if n := l.RunPending(); n != 3 {
		t.Fatalf("RunPending() = %d, want 3", n)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLoop_MicrotasksRunBeforeNextTask(t *testing.T) {
	l, _ := NewTest(epoch)
	var got []string
	l.Post(func() {
		got = append(got, "task1")
		l.Defer(func() { got = append(got, "micro") })
	})
	l.Post(func() { got = append(got, "task2") })
	l.RunPending()

	want := []string{"task1", "micro", "task2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLoop_AdvanceFiresTimersInOrder(t *testing.T) {
	l, fc := NewTest(epoch)
	var got []string
	var at []time.Duration
	record := func(name string) func() {
		return func() {
			got = append(got, name)
			at = append(at, l.Now().Sub(epoch))
		}
	}
	l.AfterFunc(30*time.Millisecond, record("c"))
	l.AfterFunc(10*time.Millisecond, record("a"))
	l.AfterFunc(20*time.Millisecond, record("b"))

	l.Advance(25 * time.Millisecond)
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Fatalf("after 25ms (-want +got):\n%s", diff)
	}
	l.Advance(10 * time.Millisecond)
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Fatalf("after 35ms (-want +got):\n%s", diff)
	}
	wantAt := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	if diff := cmp.Diff(wantAt, at); diff != "" {
		t.Errorf("fire times (-want +got):\n%s", diff)
	}
	if fc.Now().Sub(epoch) != 35*time.Millisecond {
		t.Errorf("clock = %v, want 35ms", fc.Now().Sub(epoch))
	}
}

func TestLoop_TimerScheduledByTimer(t *testing.T) {
	l, _ := NewTest(epoch)
	var fired time.Duration
	l.AfterFunc(10*time.Millisecond, func() {
		l.AfterFunc(10*time.Millisecond, func() {
			fired = l.Now().Sub(epoch)
		})
	})
	l.Advance(50 * time.Millisecond)
	if fired != 20*time.Millisecond {
		t.Errorf("nested timer fired at %v, want 20ms", fired)
	}
}

func TestLoop_StopTimer(t *testing.T) {
	l, fc := NewTest(epoch)
	fired := false
	timer := l.AfterFunc(10*time.Millisecond, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop() = false, want true")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}
	l.Advance(time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if fc.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", fc.Pending())
	}
}

func TestLoop_PanicRecovered(t *testing.T) {
	var recovered any
	l, _ := NewTest(epoch, WithPanicHandler(func(r any, _ []byte) { recovered = r }))
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.RunPending()

	if recovered != "boom" {
		t.Errorf("recovered = %v, want boom", recovered)
	}
	if !ran {
		t.Error("task after panic did not run")
	}
	if _, panicked := l.Stats(); panicked != 1 {
		t.Errorf("panicked = %d, want 1", panicked)
	}
}

func TestLoop_RunRealClock(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
	}()
	l.AfterFunc(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timer task did not run")
	}
}
