package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reagent/core"
	"github.com/hupe1980/reagent/session"
)

func newStore(t *testing.T, optFns ...func(o *Options)) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(append([]func(o *Options){func(o *Options) { o.URL = "redis://" + mr.Addr() }}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStore_SaveLoad(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	msgs := []core.Message{
		core.SystemMessage("be brief"),
		core.UserMessage("hi"),
		core.AssistantMessage("", core.ToolCall{ID: "1", Name: "get_weather", Arguments: []byte(`{"city":"Ljubljana"}`)}),
		core.ToolMessage("1", "get_weather", `{"temperature":21}`),
	}
	require.NoError(t, s.Save(ctx, "assistant", msgs))
	assert.True(t, mr.Exists(DefaultPrefix+"assistant"))

	got, err := s.Load(ctx, "assistant")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, core.RoleSystem, got[0].Role)
	assert.Equal(t, "get_weather", got[2].ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Ljubljana"}`, string(got[2].ToolCalls[0].Arguments))
	assert.Equal(t, "1", got[3].ToolCallID)
}

func TestStore_NotFound(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStore_TTLAndDelete(t *testing.T) {
	s, mr := newStore(t, func(o *Options) {
		o.Prefix = "test:"
		o.TTL = time.Minute
	})
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "k", []core.Message{core.UserMessage("hi")}))
	assert.Equal(t, time.Minute, mr.TTL("test:k"))

	mr.FastForward(2 * time.Minute)
	_, err := s.Load(ctx, "k")
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, s.Save(ctx, "k", []core.Message{core.UserMessage("hi")}))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Load(ctx, "k")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStore_ExistingClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, err := New(func(o *Options) { o.Client = client })
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// The store does not own the client, so it stays usable.
	require.NoError(t, client.Ping(context.Background()).Err())
}

func TestNew_Errors(t *testing.T) {
	_, err := New()
	assert.Error(t, err)

	_, err = New(func(o *Options) { o.URL = "://bad" })
	assert.Error(t, err)
}
