package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactive_kv_store/internal/keys"
	database "reactive_kv_store/internal/kvstore"
)

func TestVolatileKeys_DefaultEmpty(t *testing.T) {
	s := newTestStore(t, database.NewInMemDataStore())
	assert.Zero(t, s.VolatileKeys().Len())
	assert.False(t, s.IsVolatile("report_R1"))
}

func TestVolatileKeys_ReplacesWholeSet(t *testing.T) {
	s := newTestStore(t, database.NewInMemDataStore())

	s.SetVolatileKeys(keys.NewPatternSet(keys.CollectionReport, keys.CollectionPolicy))
	s.SetVolatileKeys(keys.NewPatternSet(keys.PersonalDetailsList))

	assert.True(t, s.VolatileKeys().Equal(keys.NewPatternSet(keys.PersonalDetailsList)))
	assert.False(t, s.IsVolatile("report_R1"))
	assert.True(t, s.IsVolatile("personalDetailsList"))
}

func TestVolatileKeys_CallerCannotMutate(t *testing.T) {
	s := newTestStore(t, database.NewInMemDataStore())

	set := keys.NewPatternSet(keys.CollectionReport)
	s.SetVolatileKeys(set)
	set[keys.CollectionPolicy] = struct{}{}

	got := s.VolatileKeys()
	delete(got, keys.CollectionReport)

	assert.True(t, s.VolatileKeys().Equal(keys.NewPatternSet(keys.CollectionReport)))
}

func TestVolatileKeys_WriteVisibleInMemoryButNotDurable(t *testing.T) {
	backend := database.NewInMemDataStore()
	s := newTestStore(t, backend)
	s.SetVolatileKeys(keys.NewPatternSet(keys.CollectionReport))

	require.NoError(t, s.Set("report_R1", map[string]any{"id": "R1"}))
	require.NoError(t, s.Set("policy_P1", map[string]any{"id": "P1"}))

	value, ok := s.Get("report_R1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "R1"}, value)

	s = reload(t, s, backend)

	_, ok = s.Get("report_R1")
	assert.False(t, ok, "volatile write must not survive reload")
	_, ok = s.Get("policy_P1")
	assert.True(t, ok, "non-volatile write must survive reload")
}

func TestVolatileKeys_NotMigratedWhenCleared(t *testing.T) {
	backend := database.NewInMemDataStore()
	s := newTestStore(t, backend)

	s.SetVolatileKeys(keys.NewPatternSet(keys.CollectionReport))
	require.NoError(t, s.Set("report_R1", map[string]any{"id": "R1"}))
	s.SetVolatileKeys(keys.NewPatternSet())
	require.NoError(t, s.Set("report_R2", map[string]any{"id": "R2"}))

	// both are in memory before the restart
	assert.Len(t, s.GetCollection(keys.CollectionReport), 2)

	s = reload(t, s, backend)
	assert.Equal(t, map[string]any{"report_R2": map[string]any{"id": "R2"}}, s.GetCollection(keys.CollectionReport))
}

func TestVolatileKeys_MergeRespectsMode(t *testing.T) {
	backend := database.NewInMemDataStore()
	s := newTestStore(t, backend)

	require.NoError(t, s.Set("report_R1", map[string]any{"id": "R1"}))
	flush(t, s)

	s.SetVolatileKeys(keys.NewPatternSet(keys.CollectionReport))
	require.NoError(t, s.Merge("report_R1", map[string]any{"total": 10}))

	value, _ := s.Get("report_R1")
	assert.Equal(t, map[string]any{"id": "R1", "total": float64(10)}, value)

	s = reload(t, s, backend)
	value, _ = s.Get("report_R1")
	assert.Equal(t, map[string]any{"id": "R1"}, value, "the durable copy predates the volatile merge")
}

func TestVolatileKeys_RemoveStillDeletesDurableCopy(t *testing.T) {
	backend := database.NewInMemDataStore()
	s := newTestStore(t, backend)

	require.NoError(t, s.Set("policy_P1", "old"))
	s.SetVolatileKeys(keys.NewPatternSet(keys.CollectionPolicy))
	require.NoError(t, s.Remove("policy_P1"))

	s = reload(t, s, backend)
	_, ok := s.Get("policy_P1")
	assert.False(t, ok)
}

func TestVolatileKeys_Stats(t *testing.T) {
	s := newTestStore(t, database.NewInMemDataStore())
	s.SetVolatileKeys(keys.NewPatternSet(keys.CollectionReport))

	require.NoError(t, s.Set("report_R1", 1))
	require.NoError(t, s.Set("report_R2", 2))
	require.NoError(t, s.Set("policy_P1", 3))
	flush(t, s)

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.SkippedWrites)
	assert.Equal(t, uint64(1), stats.PersistedWrites)
	assert.Equal(t, []string{"report_"}, stats.VolatileKeys)
}
