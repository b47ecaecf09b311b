package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlan(t *testing.T) {
	up := []string{"m/000002_idempotency_keys.up.sql", "m/000001_init.up.sql"}
	down := []string{"m/000001_init.down.sql", "m/000002_idempotency_keys.down.sql"}

	versions := func(ms []migration) []string {
		out := make([]string, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.Version)
		}
		return out
	}

	tests := []struct {
		name      string
		files     []string
		applied   map[string]bool
		direction string
		steps     int
		want      []string
	}{
		{"fresh database", up, nil, "up", 0, []string{"000001_init", "000002_idempotency_keys"}},
		{"partially applied", up, map[string]bool{"000001_init": true}, "up", 0, []string{"000002_idempotency_keys"}},
		{"up with steps", up, nil, "up", 1, []string{"000001_init"}},
		{"nothing to apply", up, map[string]bool{"000001_init": true, "000002_idempotency_keys": true}, "up", 0, []string{}},
		{"down newest first", down, map[string]bool{"000001_init": true, "000002_idempotency_keys": true}, "down", 0, []string{"000002_idempotency_keys", "000001_init"}},
		{"down one step", down, map[string]bool{"000001_init": true, "000002_idempotency_keys": true}, "down", 1, []string{"000002_idempotency_keys"}},
		{"down skips unapplied", down, map[string]bool{"000001_init": true}, "down", 0, []string{"000001_init"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, versions(plan(tt.files, tt.applied, tt.direction, tt.steps)))
		})
	}
}

func TestPlan_DoesNotReorderInput(t *testing.T) {
	files := []string{"b.up.sql", "a.up.sql"}
	plan(files, nil, "up", 0)
	assert.Equal(t, []string{"b.up.sql", "a.up.sql"}, files)
}
