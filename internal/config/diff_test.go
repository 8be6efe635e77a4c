package config

import (
	"strings"
	"testing"
)

func TestDiffSerialized(t *testing.T) {
	oldData := []byte("debounceMs: 16\nhistoryLimit: 64\n")
	newData := []byte("debounceMs: 16\nhistoryLimit: 32\n")

	diff := DiffSerialized(oldData, newData)
	if diff == "" {
		t.Fatalf("expected diff, got empty string")
	}
	if !strings.Contains(diff, "historyLimit: 64") || !strings.Contains(diff, "historyLimit: 32") {
		t.Fatalf("expected diff to contain both lines, got %s", diff)
	}
	if DiffSerialized(oldData, oldData) != "" {
		t.Fatalf("identical payloads should not diff")
	}
}

func TestDiffConfigs(t *testing.T) {
	prev := Default()
	curr := Default()
	curr.Batch.DefaultSize = 4
	diff := Diff(prev, curr)
	if !strings.Contains(diff, "DefaultSize") {
		t.Fatalf("expected field-level diff, got %q", diff)
	}
	if Diff(prev, Default()) != "" {
		t.Fatalf("defaults should not diff")
	}
	if Diff(nil, curr) != "" {
		t.Fatalf("nil config should not diff")
	}
}
