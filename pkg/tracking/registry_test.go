package tracking

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/veil-org/veil/pkg/errors"
)

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	open := func(*url.URL) (Store, error) { return NewMemoryStore(), nil }

	require.NoError(t, r.Register("memory", open))
	assert.Error(t, r.Register("memory", open))
	assert.Equal(t, []string{"memory"}, r.Schemes())
}

func TestRegistry_OpenCachesPerURI(t *testing.T) {
	r := NewRegistry()
	opened := 0
	require.NoError(t, r.Register("memory", func(*url.URL) (Store, error) {
		opened++
		return NewMemoryStore(), nil
	}))

	a, err := r.Open("memory://a")
	require.NoError(t, err)
	again, err := r.Open("memory://a")
	require.NoError(t, err)
	b, err := r.Open("memory://b")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, opened)
}

func TestRegistry_OpenErrors(t *testing.T) {
	r := DefaultRegistry(0, "")
	assert.Equal(t, []string{"http", "https", "memory"}, r.Schemes())

	_, err := r.Open("s3://bucket")
	assert.True(t, verrors.IsCode(err, verrors.ErrTrackingURIUnsupported))

	_, err = r.Open("relative/path")
	assert.True(t, verrors.IsCode(err, verrors.ErrValidationInvalidURI))

	store, err := r.Open("http://localhost:5000")
	require.NoError(t, err)
	assert.IsType(t, &RESTStore{}, store)
}

func TestMemoryStore_CreateRunUnknownExperiment(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.CreateRun(context.Background(), CreateRunRequest{ExperimentID: "9"})
	assert.True(t, verrors.IsCode(err, verrors.ErrExperimentNotFound))
}

func TestMemoryStore_RunsInCreationOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for _, name := range []string{"a", "b", "a"} {
		_, err := m.CreateRun(ctx, CreateRunRequest{ExperimentID: DefaultExperimentID, Name: name})
		require.NoError(t, err)
	}

	runs := m.Runs()
	require.Len(t, runs, 3)
	assert.Equal(t, "a", runs[0].Info.Name)
	assert.Equal(t, "b", runs[1].Info.Name)
	assert.Len(t, m.RunsNamed("a"), 2)
	assert.Nil(t, m.Run("missing"))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	info, err := m.CreateRun(ctx, CreateRunRequest{ExperimentID: DefaultExperimentID})
	require.NoError(t, err)

	run := m.Run(info.ID)
	run.Tags["mutated"] = "yes"
	assert.NotContains(t, m.Run(info.ID).Tags, "mutated")
}

func TestMemoryStore_Experiments(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	assert.Equal(t, DefaultExperimentID, m.ExperimentByName(DefaultExperimentName).ID)
	assert.Nil(t, m.ExperimentByName("nope"))

	exp, err := m.CreateExperiment(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, "1", exp.ID)

	_, err = m.CreateExperiment(ctx, "exp")
	assert.Error(t, err)
}
