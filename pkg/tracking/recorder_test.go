package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordsCallsInOrder(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFluent(t)
	rec := NewRecorder(f)

	_, err := rec.StartRun(ctx, StartRunOptions{RunName: "r"})
	require.NoError(t, err)
	require.NoError(t, rec.SetTags(ctx, map[string]string{"b": "2", "a": "1"}))
	require.NoError(t, rec.LogParam(ctx, "x", "1"))
	require.NoError(t, rec.EndRun(ctx, StatusFinished))

	assert.Equal(t, []string{"StartRun", "SetTags", "LogParam", "EndRun"}, rec.Ops())
	assert.Equal(t, 1, rec.Count("LogParam"))

	calls := rec.Calls()
	assert.Equal(t, "SetTags(a,b)", calls[1].String())
	assert.Equal(t, "LogParam(x=1)", calls[2].String())
	assert.Equal(t, "EndRun(FINISHED)", calls[3].String())

	rec.Reset()
	assert.Empty(t, rec.Calls())
}

func TestRecorder_ForwardsState(t *testing.T) {
	f, _ := newTestFluent(t)
	rec := NewRecorder(f)

	require.NoError(t, rec.SetTrackingURI("memory://elsewhere"))
	assert.Equal(t, "memory://elsewhere", f.TrackingURI())
	assert.Equal(t, "memory://elsewhere", rec.TrackingURI())
	assert.Equal(t, []string{"SetTrackingURI", "TrackingURI"}, rec.Ops())
}
