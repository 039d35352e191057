package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcherInitialLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")
	writeConfigFile(t, path, minimalConfig)

	watcher, err := NewWatcher(path, func(*Config) {})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, watcher.Start(ctx))
	defer func() { _ = watcher.Stop() }()

	cfg := watcher.LastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
}

func TestWatcherReloadOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")
	writeConfigFile(t, path, minimalConfig)

	var mu sync.Mutex
	var reloaded *Config
	reloadCh := make(chan struct{}, 1)

	watcher, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		reloaded = cfg
		mu.Unlock()
		select {
		case reloadCh <- struct{}{}:
		default:
		}
	}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, watcher.Start(ctx))
	defer func() { _ = watcher.Stop() }()

	writeConfigFile(t, path, `
server:
  listenAddr: ":9191"
`)

	select {
	case <-reloadCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, reloaded)
	assert.Equal(t, ":9191", reloaded.Server.ListenAddr)
}

func TestWatcherInvalidChangeKeepsLastConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")
	writeConfigFile(t, path, minimalConfig)

	errCh := make(chan error, 1)
	watcher, err := NewWatcher(path, func(*Config) {
		t.Error("reload callback must not fire for invalid configuration")
	},
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case errCh <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, watcher.Start(ctx))
	defer func() { _ = watcher.Stop() }()

	writeConfigFile(t, path, "server: [broken")

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}

	cfg := watcher.LastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
}

func TestWatcherStartMissingFile(t *testing.T) {
	t.Parallel()

	watcher, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), func(*Config) {})
	require.NoError(t, err)

	assert.Error(t, watcher.Start(context.Background()))
}
