package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"reactive_kv_store/internal/keys"
	database "reactive_kv_store/internal/kvstore"
	"reactive_kv_store/internal/memorymode"
	"reactive_kv_store/internal/reactive"
)

type testEnv struct {
	store  *reactive.Store
	mode   *memorymode.Controller
	client *Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := reactive.New(database.NewInMemDataStore())
	require.NoError(t, err)
	mode, err := memorymode.NewController(store)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterStoreServer(srv, NewServer(store, mode, nil))
	go srv.Serve(lis)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		srv.Stop()
		store.Close()
	})
	return &testEnv{store: store, mode: mode, client: client}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServer_SetGetRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	require.NoError(t, env.client.Set(ctx, "report_R1", map[string]any{"id": "R1", "total": 4}))

	value, err := env.client.Get(ctx, "report_R1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "R1", "total": float64(4)}, value)

	local, ok := env.store.Get("report_R1")
	require.True(t, ok)
	assert.Equal(t, value, local)

	require.NoError(t, env.client.Remove(ctx, "report_R1"))
	_, err = env.client.Get(ctx, "report_R1")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_Merge(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	require.NoError(t, env.client.Set(ctx, "policy_P1", map[string]any{"name": "Team"}))
	require.NoError(t, env.client.Merge(ctx, "policy_P1", map[string]any{"owner": "a@b.c"}))

	value, err := env.client.Get(ctx, "policy_P1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Team", "owner": "a@b.c"}, value)
}

func TestServer_InvalidArguments(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	_, err := env.client.Get(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = env.client.Set(ctx, "", 1)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = env.client.Remove(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_MemoryOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	enabled, err := env.client.MemoryOnly(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = env.client.SetMemoryOnly(ctx, true)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.True(t, env.store.VolatileKeys().Equal(env.mode.Patterns()))

	enabled, err = env.client.SetMemoryOnly(ctx, false)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Zero(t, env.store.VolatileKeys().Len())
}

func TestServer_Subscribe(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, env.store.Set("report_R1", map[string]any{"id": "R1"}))

	changes := make(chan Change, 8)
	done := make(chan error, 1)
	go func() {
		done <- env.client.Subscribe(ctx, string(keys.CollectionReport), func(c Change) error {
			changes <- c
			return nil
		})
	}()

	// the initial value proves the subscription is registered
	first := <-changes
	assert.Equal(t, Change{Key: "report_R1", Value: map[string]any{"id": "R1"}}, first)

	require.NoError(t, env.store.Set("policy_P1", 1))
	require.NoError(t, env.store.Remove("report_R1"))

	second := <-changes
	assert.Equal(t, Change{Key: "report_R1", Deleted: true}, second)

	cancel()
	err := <-done
	assert.Equal(t, codes.Canceled, status.Code(err))
}

func TestServer_SubscribeLargeCollection(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 3 * streamBuffer
	for i := 0; i < n; i++ {
		require.NoError(t, env.store.Set(fmt.Sprintf("report_R%d", i), i))
	}

	changes := make(chan Change, n+1)
	done := make(chan error, 1)
	go func() {
		done <- env.client.Subscribe(ctx, string(keys.CollectionReport), func(c Change) error {
			changes <- c
			return nil
		})
	}()

	seen := make(map[string]any, n)
	for len(seen) < n {
		select {
		case c := <-changes:
			seen[c.Key] = c.Value
		case err := <-done:
			t.Fatalf("stream ended after %d values: %v", len(seen), err)
		}
	}
	assert.Equal(t, float64(n-1), seen[fmt.Sprintf("report_R%d", n-1)])

	require.NoError(t, env.store.Set("report_live", true))
	assert.Equal(t, Change{Key: "report_live", Value: true}, <-changes)

	cancel()
	assert.Equal(t, codes.Canceled, status.Code(<-done))
}

func TestServer_SubscribeStopsOnCallbackError(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)

	require.NoError(t, env.store.Set("isUsingMemoryOnlyKeys", false))

	stop := errors.New("stop")
	err := env.client.Subscribe(ctx, string(keys.IsUsingMemoryOnlyKeys), func(c Change) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}
