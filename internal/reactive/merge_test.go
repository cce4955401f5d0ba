package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	database "reactive_kv_store/internal/kvstore"
)

func TestMergeValues(t *testing.T) {
	tests := []struct {
		name    string
		current any
		changes map[string]any
		want    map[string]any
	}{
		{
			name:    "into missing",
			current: nil,
			changes: map[string]any{"a": 1.0},
			want:    map[string]any{"a": 1.0},
		},
		{
			name:    "overwrite and add",
			current: map[string]any{"a": 1.0, "b": "x"},
			changes: map[string]any{"a": 2.0, "c": true},
			want:    map[string]any{"a": 2.0, "b": "x", "c": true},
		},
		{
			name:    "nested",
			current: map[string]any{"owner": map[string]any{"name": "a", "email": "a@b.c"}},
			changes: map[string]any{"owner": map[string]any{"name": "b"}},
			want:    map[string]any{"owner": map[string]any{"name": "b", "email": "a@b.c"}},
		},
		{
			name:    "nil deletes",
			current: map[string]any{"a": 1.0, "b": 2.0},
			changes: map[string]any{"b": nil},
			want:    map[string]any{"a": 1.0},
		},
		{
			name:    "scalar replaced",
			current: "scalar",
			changes: map[string]any{"a": 1.0},
			want:    map[string]any{"a": 1.0},
		},
		{
			name:    "arrays replaced",
			current: map[string]any{"tags": []any{"x", "y"}},
			changes: map[string]any{"tags": []any{"z"}},
			want:    map[string]any{"tags": []any{"z"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeValues(tt.current, tt.changes))
		})
	}
}

func TestMergeValues_DoesNotMutateCurrent(t *testing.T) {
	current := map[string]any{"nested": map[string]any{"a": 1.0}}
	mergeValues(current, map[string]any{"nested": map[string]any{"b": 2.0}})
	assert.Equal(t, map[string]any{"nested": map[string]any{"a": 1.0}}, current)
}

func TestStore_MergePersists(t *testing.T) {
	backend := database.NewInMemDataStore()
	s := newTestStore(t, backend)

	require.NoError(t, s.Set("policy_P1", map[string]any{"name": "Team", "rules": map[string]any{"max": 100}}))
	require.NoError(t, s.Merge("policy_P1", map[string]any{"rules": map[string]any{"min": 1}}))
	require.NoError(t, s.Merge("policy_P1", nil))

	s = reload(t, s, backend)
	value, _ := s.Get("policy_P1")
	assert.Equal(t, map[string]any{
		"name":  "Team",
		"rules": map[string]any{"max": float64(100), "min": float64(1)},
	}, value)

	assert.ErrorIs(t, s.Merge("", map[string]any{}), ErrEmptyKey)
}
