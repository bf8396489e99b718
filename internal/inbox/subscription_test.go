package inbox

import (
	"testing"

	"github.com/Avicted/courier/internal/user"
	"github.com/google/go-cmp/cmp"
)

func TestSubscribe_InitialSnapshot(t *testing.T) {
	r := newTestReconciler()
	r.Ingest([]ChangeEvent{added(from("A", 1, "a"))})

	sub := r.Subscribe()
	defer sub.Close()

	u := <-sub.Updates()
	if u.Seq != 1 {
		t.Fatalf("Seq = %d, want 1", u.Seq)
	}
	if d := cmp.Diff([]user.ID{"A"}, counterparts(u.List)); d != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", d)
	}
	if !u.Delta.Empty() {
		t.Fatalf("initial delta = %+v, want empty", u.Delta)
	}
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	r := newTestReconciler()
	sub := r.Subscribe()
	defer sub.Close()
	<-sub.Updates()

	r.Ingest([]ChangeEvent{added(from("A", 1, "a"))})
	u := <-sub.Updates()
	if u.Seq != 1 {
		t.Fatalf("Seq = %d, want 1", u.Seq)
	}
	if d := cmp.Diff(ListDelta{Inserted: []int{0}}, u.Delta); d != "" {
		t.Fatalf("delta mismatch (-want +got):\n%s", d)
	}

	// no-op changes are not published
	r.Delete("nobody")
	r.Ingest([]ChangeEvent{modified(from("Z", 1, "z"))})
	select {
	case u := <-sub.Updates():
		t.Fatalf("unexpected update %+v", u)
	default:
	}
}

func TestSubscribe_SlowReceiverKeepsLatest(t *testing.T) {
	r := newTestReconciler()
	sub := r.Subscribe()
	defer sub.Close()
	<-sub.Updates()

	r.Ingest([]ChangeEvent{added(from("A", 1, "a"))})
	r.Ingest([]ChangeEvent{added(from("B", 2, "b"))})
	r.Ingest([]ChangeEvent{added(from("C", 3, "c"))})

	u := <-sub.Updates()
	if u.Seq != 3 {
		t.Fatalf("Seq = %d, want 3", u.Seq)
	}
	if d := cmp.Diff([]user.ID{"C", "B", "A"}, counterparts(u.List)); d != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", d)
	}
}

func TestSubscription_Close(t *testing.T) {
	r := newTestReconciler()
	sub := r.Subscribe()
	<-sub.Updates()

	sub.Close()
	sub.Close()

	if _, ok := <-sub.Updates(); ok {
		t.Fatal("Updates channel should be closed")
	}
	// publishing after close must not panic
	r.Ingest([]ChangeEvent{added(from("A", 1, "a"))})
}

func TestSubscribe_Multiple(t *testing.T) {
	r := newTestReconciler()
	a, b := r.Subscribe(), r.Subscribe()
	defer a.Close()
	defer b.Close()
	<-a.Updates()
	<-b.Updates()

	r.Ingest([]ChangeEvent{added(from("A", 1, "a"))})
	if (<-a.Updates()).Seq != 1 || (<-b.Updates()).Seq != 1 {
		t.Fatal("both subscribers should see Seq 1")
	}
}
