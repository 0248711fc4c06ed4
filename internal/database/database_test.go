package database

import "testing"

func TestMigrationVersion(t *testing.T) {
	tests := []struct {
		name     string
		expected int
	}{
		{"001_initial_schema.sql", 1},
		{"012_usage_records.sql", 12},
		{"abc_bad.sql", 0},
		{"1.s", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := migrationVersion(tc.name); got != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, got)
			}
		})
	}
}
