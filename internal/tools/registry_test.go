package tools

import (
	"encoding/json"
	"testing"
)

func TestRegistryRejectsInvalidSchema(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(&stubTool{def: Definition{
		Name:   "bad",
		Schema: json.RawMessage(`{"type": 12}`),
	}})
	if err == nil {
		t.Fatal("Register() with invalid schema should fail")
	}
}

func TestRegistryRejectsUnnamedTool(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&stubTool{def: Definition{}}); err == nil {
		t.Fatal("Register() without name should fail")
	}
}

func TestRegistryListSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := registry.Register(readOnlyTool(name)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	defs := registry.List()
	if len(defs) != 3 {
		t.Fatalf("List() = %d defs", len(defs))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Fatalf("List()[%d] = %q, want %q", i, def.Name, want[i])
		}
	}
}

func TestRegistryReplaceAndGet(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(readOnlyTool("echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	replacement := &stubTool{def: Definition{Name: "echo", Description: "v2", Annotations: Annotations{ReadOnly: true}}}
	if err := registry.Register(replacement); err != nil {
		t.Fatalf("Register(replacement) error = %v", err)
	}
	got, ok := registry.Get("echo")
	if !ok {
		t.Fatal("Get() not found")
	}
	if got.Metadata().Description != "v2" {
		t.Fatalf("replacement not applied: %q", got.Metadata().Description)
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatal("Get(missing) = true")
	}
}
