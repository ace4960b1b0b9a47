package autolog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-org/veil/pkg/tracking"
)

func TestDefault_ConvenienceAPI(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	f := newFixture(t)
	SetDefault(f.al)
	assert.Same(t, f.al, Default())

	SetAutologEnabled(false)
	assert.False(t, IsAutologEnabled())
	SetAutologEnabled(true)
	assert.True(t, IsAutologEnabled())

	require.NoError(t, SetTrackingURI("memory://test"))
	assert.Equal(t, "memory://test", TrackingURI())
	assert.Error(t, SetTrackingURI(""))

	require.NoError(t, SetExperimentName("convenience"))
	assert.Equal(t, "convenience", ExperimentName())

	r, err := NewRun(RunOptions{Name: "step"}, trainModel)
	require.NoError(t, err)

	ctx := context.Background()
	err = WithSession(ctx, "S", map[string]string{"team": "ml"}, func(ctx context.Context, s *Session) error {
		_, err := r.Invoke(ctx, Kw("k", "v"))
		return err
	})
	require.NoError(t, err)

	exp := f.store.ExperimentByName("convenience")
	require.NotNil(t, exp)
	child := f.store.RunsNamed("step")[0]
	assert.Equal(t, exp.ID, child.Info.ExperimentID)
	assert.Equal(t, "ml", child.Tags["team"])
	assert.Equal(t, tracking.StatusFinished, child.Info.Status)

	s, err := StartSession("manual", nil)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, s.State())
}

func TestDefault_LazyInstance(t *testing.T) {
	a := Default()
	require.NotNil(t, a)
	assert.Same(t, a, Default())
	assert.NotEmpty(t, a.TrackingURI())
}

func TestSetDefault_NilRebuildsLazily(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })
	t.Setenv(EnvTrackingURI, "memory://rebuilt")

	SetDefault(nil)
	a := Default()
	require.NotNil(t, a)
	assert.NotSame(t, prev, a)
	assert.Equal(t, "memory://rebuilt", TrackingURI())
	assert.True(t, IsAutologEnabled())
}
