package dispatch

import "testing"

func TestRegistryFirstRegistrationWins(t *testing.T) {
	r := NewRegistry()
	first := mustDescriptor(t, Method{Name: "node.status", Func: func() string { return "first" }, Params: []string{}})
	second := mustDescriptor(t, Method{Name: "node.status", Func: func() string { return "second" }, Params: []string{}})

	r.Register(first)
	r.Register(second)

	got, ok := r.Lookup("node.status")
	if !ok {
		t.Fatal("expected node.status to be registered")
	}
	if got != first {
		t.Fatal("expected the first registration to win")
	}
	if len(r.All()) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(r.All()))
	}
}

func TestRegistryPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"zulu.last", "alpha.first", "mike.middle"}
	for _, name := range names {
		r.Register(mustDescriptor(t, Method{Name: name, Func: pingProbe, Params: []string{}}))
	}
	all := r.All()
	if len(all) != len(names) {
		t.Fatalf("expected %d descriptors, got %d", len(names), len(all))
	}
	for i, d := range all {
		if d.Name() != names[i] {
			t.Fatalf("expected %q at position %d, got %q", names[i], i, d.Name())
		}
	}
}

func TestRegistryLookupMiss(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("ghost.method"); ok {
		t.Fatal("expected lookup miss for unregistered method")
	}
}
