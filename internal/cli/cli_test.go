package cli

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"reactive_kv_store/internal/config"
	database "reactive_kv_store/internal/kvstore"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = backend
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data")
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	return cfg
}

// startApp serves app on a random local port and returns its gRPC address.
func startApp(t *testing.T, app *App) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serveOn(ctx, lis) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return lis.Addr().String()
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, name := range []string{"serve", "bench", "get", "set", "remove", "watch", "memory-only"} {
		assert.Contains(t, out, name)
	}
}

func TestRootCommand_BadConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "get", "k")
	assert.ErrorContains(t, err, "failed to read config")
}

func TestBench_MemoryOnlySkipsDurableWrites(t *testing.T) {
	out, err := execute(t, "bench", "--backend", database.BackendMemory, "-n", "50", "-w", "4")
	require.NoError(t, err)

	assert.Contains(t, out, "persisted writes:")
	assert.Contains(t, out, "memory-only writes:")
	// the mode flag is always persisted
	assert.Contains(t, out, "Persisted:      51")
	assert.Contains(t, out, "Persisted:      1\n")
	assert.Contains(t, out, "Skipped:        50")
}

func TestBench_InvalidFlags(t *testing.T) {
	_, err := execute(t, "bench", "-n", "0")
	assert.Error(t, err)
}

func TestNewApp_RestoresMemoryOnlyMode(t *testing.T) {
	cfg := testConfig(t, database.BackendLevelDB)

	app, err := NewApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, app.Mode.Enable())
	require.NoError(t, app.Close())

	app, err = NewApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer app.Close()

	assert.True(t, app.Mode.Enabled())
	assert.True(t, app.Store.IsVolatile("report_R1"))
	assert.True(t, app.Store.IsVolatile("personalDetailsList"))
	assert.False(t, app.Store.IsVolatile("session"))
}

func TestNewApp_EnableOnStart(t *testing.T) {
	cfg := testConfig(t, database.BackendMemory)
	cfg.MemoryOnly.EnableOnStart = true

	app, err := NewApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer app.Close()

	assert.True(t, app.Mode.Enabled())
	assert.True(t, app.Store.IsVolatile("policy_P1"))
}

func TestNewApp_CustomPatterns(t *testing.T) {
	cfg := testConfig(t, database.BackendMemory)
	cfg.MemoryOnly.Patterns = []string{"draft_"}
	cfg.MemoryOnly.EnableOnStart = true

	app, err := NewApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer app.Close()

	assert.True(t, app.Store.IsVolatile("draft_1"))
	assert.False(t, app.Store.IsVolatile("report_R1"))
}

func TestClientCommands(t *testing.T) {
	app, err := NewApp(testConfig(t, database.BackendMemory), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.Close()) })
	addr := startApp(t, app)

	_, err = execute(t, "set", "--addr", addr, "report_R1", `{"total": 5, "currency": "USD"}`)
	require.NoError(t, err)

	out, err := execute(t, "get", "--addr", addr, "report_R1")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 5`)

	_, err = execute(t, "set", "--addr", addr, "--merge", "report_R1", `{"total": 7}`)
	require.NoError(t, err)
	value, ok := app.Store.Get("report_R1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"total": float64(7), "currency": "USD"}, value)

	out, err = execute(t, "memory-only", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "memory only: off")

	out, err = execute(t, "memory-only", "enable", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "memory only: on")
	assert.True(t, app.Mode.Enabled())
	assert.True(t, app.Store.IsVolatile("report_R1"))

	out, err = execute(t, "memory-only", "disable", "--addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "memory only: off")
	assert.False(t, app.Store.IsVolatile("report_R1"))

	_, err = execute(t, "remove", "--addr", addr, "report_R1")
	require.NoError(t, err)

	_, err = execute(t, "get", "--addr", addr, "report_R1")
	assert.ErrorContains(t, err, "NotFound")
}

func TestClientCommands_ArgumentErrors(t *testing.T) {
	_, err := execute(t, "set", "--addr", "127.0.0.1:1", "k", "{not json")
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = execute(t, "set", "--addr", "127.0.0.1:1", "--merge", "k", "[1]")
	assert.ErrorContains(t, err, "requires a JSON object")

	_, err = execute(t, "memory-only", "toggle")
	assert.Error(t, err)
}
