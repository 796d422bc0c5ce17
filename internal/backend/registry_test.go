package backend_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/sloreport/internal/backend"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
)

type testBackend struct {
	class string
}

func (t testBackend) Class() string { return t.class }

func TestRegistry(t *testing.T) {
	assert := assert.New(t)

	registry := backend.NewRegistry()
	registry.MustRegister("test", func(options map[string]string) (backend.Backend, error) {
		return testBackend{class: "test"}, nil
	})
	registry.MustRegister("other", func(options map[string]string) (backend.Backend, error) {
		return testBackend{class: "other"}, nil
	})

	b, err := registry.New("test", nil)
	require.NoError(t, err)
	assert.Equal("test", b.Class())

	assert.Equal([]string{"other", "test"}, registry.Classes())
}

func TestRegistryUnknownClass(t *testing.T) {
	assert := assert.New(t)

	registry := backend.NewRegistry()
	registry.MustRegister("test", func(options map[string]string) (backend.Backend, error) {
		return testBackend{class: "test"}, nil
	})

	_, err := registry.New("unknown", nil)
	assert.ErrorIs(err, commonerrors.ErrInvalidConfiguration)
	// The error names the available classes to ease fixing the config.
	assert.Contains(err.Error(), "test")
}

func TestRegistryDuplicatedClass(t *testing.T) {
	assert := assert.New(t)

	registry := backend.NewRegistry()
	factory := func(options map[string]string) (backend.Backend, error) {
		return testBackend{class: "test"}, nil
	}

	require.NoError(t, registry.Register("test", factory))
	assert.Error(registry.Register("test", factory))
}

func TestRegistryFactoryFailure(t *testing.T) {
	assert := assert.New(t)

	registry := backend.NewRegistry()
	registry.MustRegister("broken", func(options map[string]string) (backend.Backend, error) {
		return nil, fmt.Errorf("missing url option")
	})

	_, err := registry.New("broken", nil)
	assert.Error(err)
}
