package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reagent/model"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(context.Context) (string, error) { return m.text, m.err }

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	assert.True(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_Provider(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{text: "dynamic"})
	assert.False(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dynamic", got)

	_, err = NewInstructionFromProvider(mockProvider{err: errors.New("unavailable")}).Resolve(context.Background())
	assert.EqualError(t, err, "unavailable")
}

func TestInstruction_Func(t *testing.T) {
	inst := NewInstructionFromFunc(func(context.Context) (string, error) { return "dynamic via func", nil })
	assert.False(t, inst.IsStatic())

	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dynamic via func", got)
}

func TestInstruction_ZeroValue(t *testing.T) {
	var inst Instruction
	assert.True(t, inst.IsStatic())
	got, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOptions_InvocationSnapshot(t *testing.T) {
	seed := int64(7)
	m := model.NewMockModel("mock").Reply("ok")

	a := newTestAgent(t, m,
		WithInvocationOptions(model.Options{Seed: &seed, Stop: []string{"END"}, MaxIterations: 3}),
		WithTemperature(0.3),
	)

	_, err := a.Invoke(context.Background(), "hi")
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	opts := reqs[0].Options
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.3, *opts.Temperature, 1e-9)
	require.NotNil(t, opts.Seed)
	assert.Equal(t, int64(7), *opts.Seed)
	assert.Equal(t, []string{"END"}, opts.Stop)

	// Mutating the snapshot returned by Options must not leak into the agent.
	snapshot := a.Options()
	*snapshot.Temperature = 1.5
	assert.InDelta(t, 0.3, *a.Options().Temperature, 1e-9)
}
