package middleware

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		// Static routes - no normalization
		{
			name:     "root path",
			path:     "/",
			expected: "/",
		},
		{
			name:     "rank endpoint",
			path:     "/v1/rank",
			expected: "/v1/rank",
		},
		{
			name:     "policies collection",
			path:     "/v1/policies",
			expected: "/v1/policies",
		},
		{
			name:     "optimizer run",
			path:     "/v1/optimizer/run",
			expected: "/v1/optimizer/run",
		},
		{
			name:     "health endpoint",
			path:     "/health",
			expected: "/health",
		},
		{
			name:     "ready endpoint",
			path:     "/ready",
			expected: "/ready",
		},
		{
			name:     "metrics endpoint",
			path:     "/metrics",
			expected: "/metrics",
		},

		// Policy patterns
		{
			name:     "policy by version",
			path:     "/v1/policies/v1.2.0",
			expected: "/v1/policies/{version}",
		},
		{
			name:     "policy activation",
			path:     "/v1/policies/v1.2.0/activate",
			expected: "/v1/policies/{version}/activate",
		},
		{
			name:     "policy activation for another version",
			path:     "/v1/policies/v10.0.3/activate",
			expected: "/v1/policies/{version}/activate",
		},

		// Edge cases
		{
			name:     "trailing slash on collection",
			path:     "/v1/policies/",
			expected: "/v1/policies/",
		},
		{
			name:     "unknown route",
			path:     "/unknown/path",
			expected: "/unknown/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizePath(tt.path)
			if result != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestNormalizePath_CardinalityControl(t *testing.T) {
	// Test that different versions normalize to the same pattern
	paths := []string{
		"/v1/policies/v1.0.0/activate",
		"/v1/policies/v1.1.0/activate",
		"/v1/policies/v2.0.0/activate",
		"/v1/policies/v10.14.3/activate",
	}

	expected := "/v1/policies/{version}/activate"
	seen := make(map[string]bool)

	for _, path := range paths {
		result := normalizePath(path)
		if result != expected {
			t.Errorf("normalizePath(%q) = %q, want %q", path, result, expected)
		}
		seen[result] = true
	}

	// Should all normalize to the same pattern (low cardinality)
	if len(seen) != 1 {
		t.Errorf("Expected all paths to normalize to single pattern, got %d patterns: %v", len(seen), seen)
	}
}
