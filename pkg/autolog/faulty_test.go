package autolog

import (
	"context"

	"github.com/veil-org/veil/pkg/tracking"
)

// faultyClient fails calls to the operation named by failOn. The first
// skip matching calls go through; after that every call fails, or only the
// next times calls when times is positive.
type faultyClient struct {
	tracking.Client
	failOn string
	err    error
	skip   int
	times  int
}

func (f *faultyClient) fails(op string) bool {
	if f.failOn != op {
		return false
	}
	if f.skip > 0 {
		f.skip--
		return false
	}
	if f.times > 0 {
		f.times--
		if f.times == 0 {
			f.failOn = ""
		}
	}
	return true
}

func (f *faultyClient) StartRun(ctx context.Context, opts tracking.StartRunOptions) (*tracking.RunHandle, error) {
	if f.fails("StartRun") {
		return nil, f.err
	}
	return f.Client.StartRun(ctx, opts)
}

func (f *faultyClient) EndRun(ctx context.Context, status tracking.RunStatus) error {
	if f.fails("EndRun") {
		return f.err
	}
	return f.Client.EndRun(ctx, status)
}

func (f *faultyClient) SetExperiment(ctx context.Context, ref tracking.ExperimentRef) (*tracking.Experiment, error) {
	if f.fails("SetExperiment") {
		return nil, f.err
	}
	return f.Client.SetExperiment(ctx, ref)
}

func (f *faultyClient) SetTags(ctx context.Context, tags map[string]string) error {
	if f.fails("SetTags") {
		return f.err
	}
	return f.Client.SetTags(ctx, tags)
}

func (f *faultyClient) LogParam(ctx context.Context, key, value string) error {
	if f.fails("LogParam") {
		return f.err
	}
	return f.Client.LogParam(ctx, key, value)
}
