package id

import "testing"

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 64 {
		v := New()
		if v == "" {
			t.Fatal("expected non-empty id")
		}
		if seen[v] {
			t.Fatalf("duplicate id: %s", v)
		}
		seen[v] = true
	}
}
