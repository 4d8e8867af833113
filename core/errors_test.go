package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("generate: %w", NewProviderError("openai", ProviderErrorTransport, cause))

	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, ProviderErrorTransport, pe.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[transport]")
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ProviderErrorAuth, ClassifyStatus(401))
	assert.Equal(t, ProviderErrorAuth, ClassifyStatus(403))
	assert.Equal(t, ProviderErrorModel, ClassifyStatus(404))
	assert.Equal(t, ProviderErrorModel, ClassifyStatus(500))
	assert.Equal(t, ProviderErrorTransport, ClassifyStatus(0))
}

func TestBuildError_WrapsSentinel(t *testing.T) {
	err := NewBuildError("register tool", fmt.Errorf("%w: get_weather", ErrDuplicateTool))
	assert.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, "build register tool: duplicate tool name: get_weather", err.Error())
}

func TestStructuredErrors(t *testing.T) {
	cause := errors.New("missing property")
	so := &StructuredOutputError{Content: "{}", Err: cause}
	de := &DeserializationError{Target: "Weather", Content: "{}", Err: cause}

	assert.ErrorIs(t, so, cause)
	assert.ErrorIs(t, de, cause)
	assert.Contains(t, de.Error(), "Weather")
}
