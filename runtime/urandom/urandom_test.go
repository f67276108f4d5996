package urandom

import "testing"

func TestUint64Distinct(t *testing.T) {
	seen := make(map[uint64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		v := Uint64()
		if _, ok := seen[v]; ok {
			t.Fatalf("Uint64 repeated value %d after %d draws", v, i)
		}
		seen[v] = struct{}{}
	}
}

func TestFloat64Range(t *testing.T) {
	for i := 0; i < 100; i++ {
		if f := Float64(); f < 0 || f >= 1 {
			t.Fatalf("Float64: got %v, want [0, 1)", f)
		}
	}
}
