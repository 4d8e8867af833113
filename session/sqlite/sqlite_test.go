package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/session"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore_SaveLoad(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	msgs := []core.Message{
		core.SystemMessage("be brief"),
		core.UserMessage("hi"),
		core.AssistantMessage("", core.ToolCall{ID: "1", Name: "get_weather", Arguments: []byte(`{"city":"Ljubljana"}`)}),
		core.ToolMessage("1", "get_weather", `{"temperature":21}`),
	}
	require.NoError(t, s.Save(ctx, "assistant", msgs))

	got, err := s.Load(ctx, "assistant")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, core.RoleSystem, got[0].Role)
	assert.Equal(t, "get_weather", got[2].ToolCalls[0].Name)
	assert.Equal(t, "1", got[3].ToolCallID)
}

func TestStore_Overwrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "k", []core.Message{core.UserMessage("one")}))
	require.NoError(t, s.Save(ctx, "k", []core.Message{core.UserMessage("one"), core.AssistantMessage("two")}))

	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[1].Content)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}

func TestStore_NotFoundAndDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, s.Save(ctx, "gone", []core.Message{core.UserMessage("x")}))
	require.NoError(t, s.Delete(ctx, "gone"))
	_, err = s.Load(ctx, "gone")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStore_Reopen(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "persisted", []core.Message{core.UserMessage("hello")}))
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx, "persisted")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
}
