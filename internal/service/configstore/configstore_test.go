package configstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/toolgate/toolgate/pkg/testhelpers"
	"github.com/toolgate/toolgate/pkg/types"
)

type getter interface {
	Store
	Get(ctx context.Context, id string) (*types.ToolServerConfig, error)
}

func newStores(t *testing.T) map[string]getter {
	t.Helper()

	setup := testhelpers.SetupTestDB(t)
	t.Cleanup(setup.Cleanup)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]getter{
		"db":    NewDBStore(setup.DB, zaptest.NewLogger(t)),
		"redis": NewRedisStore(rdb, "", zaptest.NewLogger(t)),
	}
}

func sampleConfigs() []*types.ToolServerConfig {
	return []*types.ToolServerConfig{
		{
			ID:        "fs",
			Name:      "Files",
			Kind:      types.KindLocalProcess,
			Transport: types.TransportStdio,
			Command:   "npx",
			Args:      []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
			Env:       map[string]string{"DEBUG": "1"},
			Enabled:   true,
		},
		{
			ID:          "search",
			Name:        "Search",
			Kind:        types.KindRemote,
			Transport:   types.TransportHTTP,
			URL:         "https://search.example.com",
			BearerToken: "secret",
			Headers:     map[string]string{"X-Team": "tools"},
			TimeoutSec:  10,
			Enabled:     false,
		},
	}
}

func TestStoreSaveListDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, cfg := range sampleConfigs() {
				require.NoError(t, store.Save(ctx, cfg))
			}

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "fs", list[0].ID)
			assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"}, list[0].Args)
			assert.Equal(t, "1", list[0].Env["DEBUG"])
			assert.True(t, list[0].Enabled)
			assert.Equal(t, "search", list[1].ID)
			assert.Equal(t, "secret", list[1].BearerToken)
			assert.Equal(t, 10, list[1].TimeoutSec)
			assert.False(t, list[1].Enabled)

			require.NoError(t, store.Delete(ctx, "fs"))
			require.NoError(t, store.Delete(ctx, "never-saved"))
			list, err = store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "search", list[0].ID)

			_, err = store.Get(ctx, "fs")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreSaveReplaces(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			cfg := sampleConfigs()[1]
			require.NoError(t, store.Save(ctx, cfg))

			cfg.Transport = types.TransportSSE
			cfg.URL = "https://search.example.com/sse"
			cfg.Enabled = true
			require.NoError(t, store.Save(ctx, cfg))

			got, err := store.Get(ctx, "search")
			require.NoError(t, err)
			assert.Equal(t, types.TransportSSE, got.Transport)
			assert.Equal(t, "https://search.example.com/sse", got.URL)
			assert.True(t, got.Enabled)

			list, err := store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestStoreReAddAfterDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			cfg := sampleConfigs()[0]
			require.NoError(t, store.Save(ctx, cfg))
			require.NoError(t, store.Delete(ctx, cfg.ID))
			require.NoError(t, store.Save(ctx, cfg))

			got, err := store.Get(ctx, cfg.ID)
			require.NoError(t, err)
			assert.Equal(t, "npx", got.Command)
		})
	}
}

func TestStoreRejectsInProcess(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Save(ctx, &types.ToolServerConfig{ID: "shell", Kind: types.KindInProcess, Transport: types.TransportNone})
			assert.Error(t, err)
		})
	}
}

func TestRedisStoreSkipsCorruptEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb, "custom:key", zaptest.NewLogger(t))
	require.NoError(t, store.Save(context.Background(), sampleConfigs()[0]))
	mr.HSet("custom:key", "broken", "{not json")

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fs", list[0].ID)
}
