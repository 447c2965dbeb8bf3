package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixes(t *testing.T) {
	g := New()

	cases := map[string]func() string{
		"rm_":   g.GenerateMessageID,
		"rg_":   g.GenerateGenerationID,
		"rt_":   g.GenerateThoughtID,
		"rl_":   g.GenerateLogID,
		"rtu_":  g.GenerateToolUseID,
		"rreq_": g.GenerateRequestID,
	}
	for prefix, generate := range cases {
		id := generate()
		assert.True(t, len(id) > len(prefix), "id %q too short", id)
		assert.Equal(t, prefix, id[:len(prefix)])
	}
}

func TestUniqueness(t *testing.T) {
	g := New()

	seen := make(map[string]struct{})
	for i := 0; i < 10000; i++ {
		id := g.GenerateMessageID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q", id)
		seen[id] = struct{}{}
	}
}
