package metrics

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testLabels struct {
	Interface string
	Method    string
	Remote    bool `lightrpc:"is_remote"`
}

func TestCounterMap(t *testing.T) {
	cm := NewCounterMap[testLabels]("test_counter_map")
	a := cm.Get(testLabels{Interface: "echo.Echo", Method: "Echo"})
	a.Inc()
	a.Add(2)
	if got := a.Value(); got != 3 {
		t.Fatalf("counter value: got %v, want 3", got)
	}
	if b := cm.Get(testLabels{Interface: "echo.Echo", Method: "Echo"}); b.impl != a.impl {
		t.Fatal("Get with equal labels returned a different metric")
	}

	snap := a.impl.Snapshot()
	want := map[string]string{"interface": "echo.Echo", "method": "Echo", "is_remote": "false"}
	if diff := cmp.Diff(want, snap.Labels); diff != "" {
		t.Fatalf("labels (-want +got):\n%s", diff)
	}
}

func TestGaugeSet(t *testing.T) {
	g := NewGauge("test_gauge")
	g.Add(4)
	g.Sub(1)
	if got := g.Value(); got != 3 {
		t.Fatalf("gauge value: got %v, want 3", got)
	}
	g.Set(10)
	if got := g.Value(); got != 10 {
		t.Fatalf("gauge value after Set: got %v, want 10", got)
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("test_histogram", []float64{1, 10, 100})
	for _, v := range []float64{0, 1, 5, 10, 50, 1000} {
		h.Put(v)
	}
	snap := h.impl.Snapshot()
	if diff := cmp.Diff([]uint64{1, 2, 2, 1}, snap.Counts); diff != "" {
		t.Fatalf("counts (-want +got):\n%s", diff)
	}
	if snap.Value != 1066 {
		t.Fatalf("sum: got %v, want 1066", snap.Value)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	NewCounter("test_duplicate")
	defer func() {
		if recover() == nil {
			t.Fatal("registering a duplicate name did not panic")
		}
	}()
	NewCounter("test_duplicate")
}

func TestBadLabels(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("non-struct labels did not panic")
		}
	}()
	NewCounterMap[int]("test_bad_labels")
}
