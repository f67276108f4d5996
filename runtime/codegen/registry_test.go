package codegen

import (
	"reflect"
	"testing"
	"time"

	"github.com/kanengo/lightrpc/runtime/callback"
)

type catalogued interface {
	Ping() error
}

func init() {
	Register(Registration{
		Name:       "github.com/kanengo/lightrpc/runtime/codegen/catalogued",
		Identifier: 42,
		Iface:      reflect.TypeOf((*catalogued)(nil)).Elem(),
		Methods: []MethodConfig{
			{Name: "Ping", Mode: Sync{Timeout: time.Second}},
			{Name: "Pong", Mode: Async{NewCallback: func() callback.Callback { return callback.Func(nil) }}},
			{Name: "Quiet"},
		},
		ClientStubFn: func(Stub) any { return nil },
		ServerStubFn: func(any) Server { return nil },
	})
}

func TestCatalogFind(t *testing.T) {
	reg, ok := Find("github.com/kanengo/lightrpc/runtime/codegen/catalogued")
	if !ok || reg.Identifier != 42 {
		t.Fatalf("Find() = %v, %v", reg, ok)
	}
	byType, ok := FindByType(reflect.TypeOf((*catalogued)(nil)).Elem())
	if !ok || byType != reg {
		t.Fatal("FindByType did not return the same registration")
	}
	if got := reg.MethodIndex("Pong"); got != 1 {
		t.Errorf("MethodIndex(Pong) = %d; want 1", got)
	}
	if _, ok := reg.Method(3); ok {
		t.Error("Method(3) found a method")
	}
	for i, want := range []string{"sync", "async", "none"} {
		if got := ModeName(reg.Methods[i].Mode); got != want {
			t.Errorf("ModeName(method %d) = %q; want %q", i, got, want)
		}
	}
}

func TestCatalogScan(t *testing.T) {
	for _, test := range []struct {
		pkg  string
		want bool
	}{
		{"", true},
		{"github.com/kanengo/lightrpc/runtime/codegen", true},
		{"github.com/kanengo/lightrpc/runtime", true},
		{"github.com/kanengo/lightrpc/runtime/code", false},
		{"example.com/other", false},
	} {
		found := false
		for _, reg := range Scan(test.pkg) {
			if reg.Identifier == 42 {
				found = true
			}
		}
		if found != test.want {
			t.Errorf("Scan(%q) found=%v; want %v", test.pkg, found, test.want)
		}
	}
}

func TestCatalogDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()
	Register(Registration{
		Name:  "dup",
		Iface: reflect.TypeOf((*catalogued)(nil)).Elem(),
	})
}
