package clock

import (
	"testing"
	"time"
)

func TestFake_AfterFuncFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []int
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, 2) })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, 1) })

	c.Advance(150 * time.Millisecond)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("after 150ms fired %v, want [1]", order)
	}
	c.Advance(50 * time.Millisecond)
	if len(order) != 2 || order[1] != 2 {
		t.Fatalf("after 200ms fired %v, want [1 2]", order)
	}
}

func TestFake_StopPreventsCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop should report the timer was pending")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("second Stop should return false")
	}
}

func TestFake_TickerDeliversAndDrops(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(3 * time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("expected a tick")
	}
	select {
	case <-tk.C():
		t.Fatal("buffered ticks should be dropped beyond capacity 1")
	default:
	}
}

func TestFake_CallbackSeesDeadlineTime(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewFake(start)
	var seen time.Time
	c.AfterFunc(time.Second, func() { seen = c.Now() })
	c.Advance(5 * time.Second)
	if !seen.Equal(start.Add(time.Second)) {
		t.Errorf("callback saw %v, want %v", seen, start.Add(time.Second))
	}
	if !c.Now().Equal(start.Add(5 * time.Second)) {
		t.Errorf("Now = %v after Advance", c.Now())
	}
}
