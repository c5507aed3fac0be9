package pending

import (
	"errors"
	"testing"
	"time"

	"wirerpc/message"
)

type outcome struct {
	resp *message.Response
	err  error
}

func sinkTo(ch chan outcome) Sink {
	return func(resp *message.Response, err error) {
		ch <- outcome{resp, err}
	}
}

func TestRegisterResolve(t *testing.T) {
	table := NewTable(nil)
	ch := make(chan outcome, 1)

	if err := table.Register(1, time.Time{}, sinkTo(ch)); err != nil {
		t.Fatal(err)
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 pending, got %d", table.Len())
	}

	resp := &message.Response{CallID: 1, Status: message.StatusOK}
	if !table.Resolve(resp) {
		t.Fatal("resolve of registered id returned false")
	}
	got := <-ch
	if got.err != nil || got.resp.CallID != 1 {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if table.Len() != 0 {
		t.Fatalf("entry not removed, %d left", table.Len())
	}
}

func TestDuplicateCallID(t *testing.T) {
	table := NewTable(nil)
	if err := table.Register(5, time.Time{}, func(*message.Response, error) {}); err != nil {
		t.Fatal(err)
	}
	err := table.Register(5, time.Time{}, func(*message.Response, error) {})
	if !errors.Is(err, ErrDuplicateCallID) {
		t.Fatalf("expected ErrDuplicateCallID, got %v", err)
	}
}

func TestResolveUnknownIsNoOp(t *testing.T) {
	table := NewTable(nil)
	if table.Resolve(&message.Response{CallID: 404}) {
		t.Fatal("resolve of unknown id returned true")
	}
}

func TestExpire(t *testing.T) {
	table := NewTable(nil)
	now := time.Now()

	due := make(chan outcome, 1)
	later := make(chan outcome, 1)
	forever := make(chan outcome, 1)

	if err := table.Register(1, now.Add(-time.Millisecond), sinkTo(due)); err != nil {
		t.Fatal(err)
	}
	if err := table.Register(2, now.Add(time.Hour), sinkTo(later)); err != nil {
		t.Fatal(err)
	}
	if err := table.Register(3, time.Time{}, sinkTo(forever)); err != nil {
		t.Fatal(err)
	}

	if n := table.Expire(now); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got := <-due
	if !errors.Is(got.err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", got.err)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 still pending, got %d", table.Len())
	}
	select {
	case o := <-later:
		t.Fatalf("future deadline expired early: %+v", o)
	case o := <-forever:
		t.Fatalf("no-deadline call expired: %+v", o)
	default:
	}
}

func TestCancelAll(t *testing.T) {
	table := NewTable(nil)
	chans := make([]chan outcome, 3)
	for i := range chans {
		chans[i] = make(chan outcome, 1)
		if err := table.Register(uint64(i+1), time.Time{}, sinkTo(chans[i])); err != nil {
			t.Fatal(err)
		}
	}

	table.CancelAll(ErrCanceled)
	for i, ch := range chans {
		got := <-ch
		if !errors.Is(got.err, ErrCanceled) {
			t.Fatalf("call %d: expected ErrCanceled, got %v", i+1, got.err)
		}
	}
	if table.Len() != 0 {
		t.Fatalf("expected empty table, got %d", table.Len())
	}
}

func TestFailAndDrop(t *testing.T) {
	table := NewTable(nil)
	ch := make(chan outcome, 1)
	if err := table.Register(1, time.Time{}, sinkTo(ch)); err != nil {
		t.Fatal(err)
	}
	if !table.Fail(1, ErrCanceled) {
		t.Fatal("fail of registered id returned false")
	}
	got := <-ch
	if !errors.Is(got.err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", got.err)
	}
	if table.Fail(1, ErrCanceled) {
		t.Fatal("second fail should report unknown id")
	}

	if err := table.Register(2, time.Time{}, sinkTo(ch)); err != nil {
		t.Fatal(err)
	}
	if !table.Drop(2) {
		t.Fatal("drop of registered id returned false")
	}
	select {
	case o := <-ch:
		t.Fatalf("drop should not fire the sink: %+v", o)
	default:
	}
}

func TestLateResponseAfterExpiry(t *testing.T) {
	table := NewTable(nil)
	ch := make(chan outcome, 2)
	if err := table.Register(9, time.Now().Add(-time.Second), sinkTo(ch)); err != nil {
		t.Fatal(err)
	}
	table.Expire(time.Now())

	// The response arrives after the timeout already fired: dropped, sink
	// not invoked a second time.
	if table.Resolve(&message.Response{CallID: 9}) {
		t.Fatal("late response should not resolve")
	}
	if len(ch) != 1 {
		t.Fatalf("sink fired %d times, expected once", len(ch))
	}
}
