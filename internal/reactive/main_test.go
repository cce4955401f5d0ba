package reactive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	database "reactive_kv_store/internal/kvstore"
	"reactive_kv_store/internal/partition"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T, backend database.Store, opts ...Option) *Store {
	t.Helper()
	s, err := New(backend, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

// reload simulates a process restart: the old store is drained and closed,
// and a fresh store is loaded from the same durable backend.
func reload(t *testing.T, s *Store, backend database.Store) *Store {
	t.Helper()
	flush(t, s)
	require.NoError(t, s.Close())
	return newTestStore(t, backend, WithPartitioner(partition.NewModulo(3)))
}
