package provider

import "testing"

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := NewOpenAIAdapter("")
	r.Register("openai", a)

	got, err := r.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Identifier() != "openai" {
		t.Errorf("Identifier() = %q, want openai", got.Identifier())
	}
}

func TestRegistryGetUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("missing"); err == nil {
		t.Fatal("expected an error for an unregistered provider type")
	}
}

func TestRegistryTypes(t *testing.T) {
	r := NewRegistry()
	r.Register("openai", NewOpenAIAdapter(""))
	r.Register("claude", NewClaudeAdapter(""))

	types := r.Types()
	if len(types) != 2 {
		t.Fatalf("len(Types()) = %d, want 2", len(types))
	}
}
