package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astranet/astranetctl/internal/config"
)

func TestParseConfigValue(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  any
		ok    bool
	}{
		{"sql_port", "26258", 26258, true},
		{"sql_port", "not-a-port", nil, false},
		{"domain", "node1.local", "node1.local", true},
		{"cluster_nodes", "a.local:26257, b.local:26257", []string{"a.local:26257", "b.local:26257"}, true},
		{"cluster_nodes", "", []string{}, true},
		{"admin_password", "s3cret", "s3cret", true},
		{"bogus_key", "x", nil, false},
	}
	for _, tt := range tests {
		got, err := parseConfigValue(tt.key, tt.value)
		if !tt.ok {
			assert.Error(t, err, tt.key)
			continue
		}
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, got, tt.key)
	}
}

func TestValidateMerged(t *testing.T) {
	cfg := config.Defaults()

	assert.NoError(t, validateMerged(cfg, map[string]any{"sql_port": 26258}))

	// Colliding ports are rejected before anything is written.
	assert.Error(t, validateMerged(cfg, map[string]any{"sql_port": cfg.HTTPPort}))

	assert.Error(t, validateMerged(cfg, map[string]any{"domain": ""}))
}
