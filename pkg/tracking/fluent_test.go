package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/veil-org/veil/pkg/errors"
)

func newTestFluent(t *testing.T) (*Fluent, *MemoryStore) {
	t.Helper()
	f, err := NewFluent("memory://test")
	require.NoError(t, err)
	store, ok := f.MemoryStore()
	require.True(t, ok)
	return f, store
}

func TestNewFluent_Defaults(t *testing.T) {
	f, _ := newTestFluent(t)

	assert.Equal(t, "memory://test", f.TrackingURI())
	assert.Equal(t, DefaultExperimentID, f.ActiveExperimentID())
	assert.Nil(t, f.ActiveRun())
}

func TestNewFluent_InvalidURI(t *testing.T) {
	_, err := NewFluent("")
	require.Error(t, err)
	assert.True(t, verrors.IsCode(err, verrors.ErrValidationEmptyValue))

	_, err = NewFluent("no-scheme")
	require.Error(t, err)
	assert.True(t, verrors.IsCode(err, verrors.ErrValidationInvalidURI))
}

func TestFluent_UnsupportedScheme(t *testing.T) {
	f, err := NewFluent("ftp://example.com")
	require.NoError(t, err)

	_, err = f.StartRun(context.Background(), StartRunOptions{})
	require.Error(t, err)
	assert.True(t, verrors.IsCode(err, verrors.ErrTrackingURIUnsupported))
}

func TestFluent_StartAndEndRun(t *testing.T) {
	ctx := context.Background()
	f, store := newTestFluent(t)

	h, err := f.StartRun(ctx, StartRunOptions{RunName: "train"})
	require.NoError(t, err)
	assert.Equal(t, "train", h.Name)
	assert.Equal(t, StatusRunning, h.Status)
	assert.Equal(t, DefaultExperimentID, h.ExperimentID)
	require.NotNil(t, f.ActiveRun())
	assert.Equal(t, h.ID, f.ActiveRun().ID)

	require.NoError(t, f.EndRun(ctx, ""))
	assert.Nil(t, f.ActiveRun())

	run := store.Run(h.ID)
	require.NotNil(t, run)
	assert.Equal(t, StatusFinished, run.Info.Status)
	assert.NotNil(t, run.Info.EndTime)
	assert.Equal(t, "train", run.Tags[TagRunName])
}

func TestFluent_GeneratedRunName(t *testing.T) {
	f, _ := newTestFluent(t)

	h, err := f.StartRun(context.Background(), StartRunOptions{})
	require.NoError(t, err)
	assert.Len(t, h.Name, len("run-")+8)
	assert.Len(t, h.ID, 32)
}

func TestFluent_StartRunWhileActive(t *testing.T) {
	ctx := context.Background()
	f, store := newTestFluent(t)

	parent, err := f.StartRun(ctx, StartRunOptions{RunName: "parent"})
	require.NoError(t, err)

	_, err = f.StartRun(ctx, StartRunOptions{RunName: "child"})
	require.Error(t, err)
	assert.True(t, verrors.IsCode(err, verrors.ErrRunAlreadyActive))

	child, err := f.StartRun(ctx, StartRunOptions{RunName: "child", Nested: true})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, parent.ID, store.Run(child.ID).ParentID())

	require.NoError(t, f.EndRun(ctx, StatusFailed))
	assert.Equal(t, parent.ID, f.ActiveRun().ID)
	assert.Equal(t, StatusFailed, store.Run(child.ID).Info.Status)
}

func TestFluent_ResumeRun(t *testing.T) {
	ctx := context.Background()
	f, store := newTestFluent(t)

	h, err := f.StartRun(ctx, StartRunOptions{RunName: "session"})
	require.NoError(t, err)
	require.NoError(t, f.EndRun(ctx, StatusRunning))
	assert.Nil(t, f.ActiveRun())
	assert.Nil(t, store.Run(h.ID).Info.EndTime)

	resumed, err := f.StartRun(ctx, StartRunOptions{RunID: h.ID})
	require.NoError(t, err)
	assert.Equal(t, h.ID, resumed.ID)
	assert.Equal(t, "session", resumed.Name)
	assert.Len(t, store.Runs(), 1)
}

func TestFluent_ResumeUnknownRun(t *testing.T) {
	f, _ := newTestFluent(t)

	_, err := f.StartRun(context.Background(), StartRunOptions{RunID: "missing"})
	require.Error(t, err)
	assert.True(t, verrors.IsCode(err, verrors.ErrRunNotFound))
	assert.Nil(t, f.ActiveRun())
}

func TestFluent_EndRunWithoutActiveRun(t *testing.T) {
	f, _ := newTestFluent(t)
	assert.NoError(t, f.EndRun(context.Background(), StatusFinished))
}

func TestFluent_EndRunUnknownStatus(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFluent(t)

	_, err := f.StartRun(ctx, StartRunOptions{})
	require.NoError(t, err)

	err = f.EndRun(ctx, RunStatus("DONE"))
	require.Error(t, err)
	assert.True(t, verrors.IsValidation(err))
	assert.NotNil(t, f.ActiveRun())
}

func TestFluent_TagsAndParams(t *testing.T) {
	ctx := context.Background()
	f, store := newTestFluent(t)

	assert.True(t, verrors.IsCode(f.SetTag(ctx, "k", "v"), verrors.ErrNoActiveRun))
	assert.True(t, verrors.IsCode(f.LogParam(ctx, "k", "v"), verrors.ErrNoActiveRun))

	h, err := f.StartRun(ctx, StartRunOptions{})
	require.NoError(t, err)

	require.NoError(t, f.SetTag(ctx, "team", "nlp"))
	require.NoError(t, f.SetTags(ctx, map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, f.LogParam(ctx, "lr", "0.1"))
	require.NoError(t, f.LogParam(ctx, "lr", "0.1"))

	err = f.LogParam(ctx, "lr", "0.2")
	assert.True(t, verrors.IsCode(err, verrors.ErrParamConflict))

	run := store.Run(h.ID)
	assert.Equal(t, "nlp", run.Tags["team"])
	assert.Equal(t, "1", run.Tags["a"])
	assert.Equal(t, "2", run.Tags["b"])
	assert.Equal(t, map[string]string{"lr": "0.1"}, run.Params)
}

func TestFluent_SetExperiment(t *testing.T) {
	ctx := context.Background()
	f, store := newTestFluent(t)

	exp, err := f.SetExperiment(ctx, ByName("sweeps"))
	require.NoError(t, err)
	assert.Equal(t, "1", exp.ID)
	assert.Equal(t, "1", f.ActiveExperimentID())

	again, err := f.SetExperiment(ctx, ByName("sweeps"))
	require.NoError(t, err)
	assert.Equal(t, exp.ID, again.ID)
	assert.Len(t, store.Experiments(), 2)

	h, err := f.StartRun(ctx, StartRunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1", h.ExperimentID)
	require.NoError(t, f.EndRun(ctx, ""))

	def, err := f.SetExperiment(ctx, ByID(DefaultExperimentID))
	require.NoError(t, err)
	assert.Equal(t, DefaultExperimentName, def.Name)

	_, err = f.SetExperiment(ctx, ByID("42"))
	assert.True(t, verrors.IsCode(err, verrors.ErrExperimentNotFound))
	assert.Equal(t, DefaultExperimentID, f.ActiveExperimentID())

	_, err = f.SetExperiment(ctx, ExperimentRef{})
	assert.True(t, verrors.IsValidation(err))
}

func TestFluent_MemoryStoreSharedPerURI(t *testing.T) {
	ctx := context.Background()
	registry := DefaultRegistry(0, "")

	a, err := NewFluent("memory://shared", WithRegistry(registry))
	require.NoError(t, err)
	b, err := NewFluent("memory://shared", WithRegistry(registry))
	require.NoError(t, err)

	h, err := a.StartRun(ctx, StartRunOptions{RunName: "x"})
	require.NoError(t, err)

	store, ok := b.MemoryStore()
	require.True(t, ok)
	assert.NotNil(t, store.Run(h.ID))

	require.NoError(t, b.SetTrackingURI("memory://other"))
	other, ok := b.MemoryStore()
	require.True(t, ok)
	assert.Nil(t, other.Run(h.ID))
}
