package register

import (
	"testing"
	"time"
)

func TestWriteOnce(t *testing.T) {
	var w WriteOnce[string]
	if _, ok := w.TryRead(); ok {
		t.Fatal("TryRead before Write succeeded")
	}

	got := make(chan string)
	go func() { got <- w.Read() }()

	select {
	case v := <-got:
		t.Fatalf("Read returned %q before Write", v)
	case <-time.After(10 * time.Millisecond):
	}

	w.Write("addr")
	if v := <-got; v != "addr" {
		t.Errorf("Read = %q, want addr", v)
	}
	if w.TryWrite("other") {
		t.Error("second TryWrite succeeded")
	}
	if v, ok := w.TryRead(); !ok || v != "addr" {
		t.Errorf("TryRead = %q, %v", v, ok)
	}
}

func TestWriteOncePanics(t *testing.T) {
	var w WriteOnce[int]
	w.Write(1)
	defer func() {
		if recover() == nil {
			t.Error("second Write did not panic")
		}
	}()
	w.Write(2)
}
