package util

import (
	"testing"
)

func TestHideAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Long key", "sk-1234567890abcdef", "sk-1...cdef"},
		{"Medium key", "abcdef", "ab...ef"},
		{"Short key", "abc", "a...c"},
		{"Tiny key", "ab", "ab"},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HideAPIKey(tt.input); got != tt.expected {
				t.Errorf("HideAPIKey(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Empty", "", ""},
		{"No sensitive params", "q=bitcoin&top_k=3", "q=bitcoin&top_k=3"},
		{"API key masked", "api_key=sk-1234567890abcdef", "api_key=sk-1...cdef"},
		{"Mixed", "q=halving&key=secretvalue123", "q=halving&key=secr...e123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskSensitiveQuery(tt.input); got != tt.expected {
				t.Errorf("MaskSensitiveQuery(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResolveDataPath(t *testing.T) {
	if got, err := ResolveDataPath(""); err != nil || got != "" {
		t.Errorf("ResolveDataPath(\"\") = (%q, %v), want empty", got, err)
	}
	got, err := ResolveDataPath("./data/../kb.db")
	if err != nil {
		t.Fatalf("ResolveDataPath failed: %v", err)
	}
	if got != "kb.db" {
		t.Errorf("Expected cleaned path kb.db, got %q", got)
	}
}
