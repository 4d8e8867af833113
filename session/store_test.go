package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reagent/internal/testutil"
)

// Interface compliance (compile-time assertion)
var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)

func TestStores(t *testing.T) {
	stores := map[string]Store{
		"memory": NewInMemoryStore(),
		"file":   NewFileStore(t.TempDir()),
	}

	msgs := testutil.NewConversation().
		System("sys").
		User("weather in Ljubljana").
		Assistant("", testutil.Call("1", "get_weather", map[string]any{"location": "Ljubljana"})).
		Tool("1", "get_weather", `{"temp":18}`).
		Assistant("It is 18°C in Ljubljana").
		Build()

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Load(ctx, "agent/1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Save(ctx, "agent/1", msgs))
			got, err := store.Load(ctx, "agent/1")
			require.NoError(t, err)
			assert.Equal(t, msgs, got)
		})
	}
}

func TestInMemoryStore_CopiesOnSave(t *testing.T) {
	store := NewInMemoryStore()
	msgs := testutil.NewConversation().User("u").Build()
	require.NoError(t, store.Save(context.Background(), "k", msgs))

	msgs[0].Content = "changed"

	got, err := store.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "u", got[0].Content)
}

func TestFileStore_ConcurrentSave(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate stores share only the lock file.
			s := NewFileStore(dir)
			msgs := testutil.NewConversation().User(fmt.Sprintf("msg-%d", i)).Build()
			assert.NoError(t, s.Save(ctx, "shared", msgs))
		}(i)
	}
	wg.Wait()

	got, err := NewFileStore(dir).Load(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Content, "msg-")
	assert.FileExists(t, filepath.Join(dir, "shared.json.lock"))
}
