package clock

import (
	"testing"
	"time"
)

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	clk := NewFake()
	tm := clk.NewTimer(5 * time.Second)

	select {
	case <-tm.C():
		t.Fatal("timer fired before Advance")
	default:
	}

	clk.Advance(5 * time.Second)

	select {
	case at := <-tm.C():
		want := NewFake().Now().Add(5 * time.Second)
		if !at.Equal(want) {
			t.Errorf("fire time = %v, want %v", at, want)
		}
	default:
		t.Fatal("timer did not fire after Advance")
	}

	if got := clk.Armed(); got != 0 {
		t.Errorf("Armed() = %d after timer fired, want 0", got)
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	clk := NewFake()
	tk := clk.NewTicker(time.Second)

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		select {
		case <-tk.C():
		default:
			t.Fatalf("tick %d missing after Advance", i+1)
		}
	}

	if got := clk.Armed(); got != 1 {
		t.Errorf("Armed() = %d with live ticker, want 1", got)
	}

	tk.Stop()
	if got := clk.Armed(); got != 0 {
		t.Errorf("Armed() = %d after Stop, want 0", got)
	}

	clk.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeTimerStopAndReset(t *testing.T) {
	clk := NewFake()
	tm := clk.NewTimer(time.Second)

	if !tm.Stop() {
		t.Error("Stop() on armed timer = false, want true")
	}
	if tm.Stop() {
		t.Error("second Stop() = true, want false")
	}

	clk.Advance(time.Second)
	select {
	case <-tm.C():
		t.Fatal("stopped timer fired")
	default:
	}

	tm.Reset(2 * time.Second)
	if got := clk.Armed(); got != 1 {
		t.Errorf("Armed() = %d after Reset, want 1", got)
	}
	clk.Advance(2 * time.Second)
	select {
	case <-tm.C():
	default:
		t.Fatal("reset timer did not fire")
	}
}

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	clk := NewFake()
	late := clk.NewTimer(3 * time.Second)
	early := clk.NewTimer(time.Second)

	clk.Advance(5 * time.Second)

	var earlyAt, lateAt time.Time
	select {
	case earlyAt = <-early.C():
	default:
		t.Fatal("early timer did not fire")
	}
	select {
	case lateAt = <-late.C():
	default:
		t.Fatal("late timer did not fire")
	}
	if !earlyAt.Before(lateAt) {
		t.Errorf("fire order wrong: early at %v, late at %v", earlyAt, lateAt)
	}
	if got := clk.Now(); !got.Equal(NewFake().Now().Add(5 * time.Second)) {
		t.Errorf("Now() = %v after Advance, want start+5s", got)
	}
}
