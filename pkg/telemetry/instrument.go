package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/veil-org/veil/pkg/tracking"
)

const instrumentationName = "github.com/veil-org/veil/pkg/tracking"

// Attribute keys set on tracking spans.
const (
	AttrOp         = attribute.Key("veil.tracking.op")
	AttrRunID      = attribute.Key("veil.run.id")
	AttrRunName    = attribute.Key("veil.run.name")
	AttrRunStatus  = attribute.Key("veil.run.status")
	AttrExperiment = attribute.Key("veil.experiment")
	AttrTagKey     = attribute.Key("veil.tag.key")
	AttrParamKey   = attribute.Key("veil.param.key")
)

// Metric names.
const (
	MetricCalls  = "veil.tracking.calls"
	MetricErrors = "veil.tracking.errors"
)

// InstrumentedClient decorates a tracking.Client with one span per call and
// call/error counters keyed by operation.
type InstrumentedClient struct {
	tracking.Client
	tracer trace.Tracer
	calls  metric.Int64Counter
	errs   metric.Int64Counter
}

// InstrumentClient wraps client using tp and mp.
func InstrumentClient(client tracking.Client, tp trace.TracerProvider, mp metric.MeterProvider) (*InstrumentedClient, error) {
	meter := mp.Meter(instrumentationName)
	calls, err := meter.Int64Counter(MetricCalls,
		metric.WithDescription("Tracking client calls"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter(MetricErrors,
		metric.WithDescription("Tracking client calls that returned an error"))
	if err != nil {
		return nil, err
	}
	return &InstrumentedClient{
		Client: client,
		tracer: tp.Tracer(instrumentationName),
		calls:  calls,
		errs:   errs,
	}, nil
}

// Unwrap returns the decorated client.
func (c *InstrumentedClient) Unwrap() tracking.Client { return c.Client }

func (c *InstrumentedClient) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "tracking."+op, trace.WithAttributes(attrs...))
	defer span.End()

	opAttr := metric.WithAttributes(AttrOp.String(op))
	c.calls.Add(ctx, 1, opAttr)

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.errs.Add(ctx, 1, opAttr)
	}
	return err
}

func (c *InstrumentedClient) StartRun(ctx context.Context, opts tracking.StartRunOptions) (*tracking.RunHandle, error) {
	var (
		run   *tracking.RunHandle
		attrs []attribute.KeyValue
	)
	if opts.RunID != "" {
		attrs = append(attrs, AttrRunID.String(opts.RunID))
	}
	if opts.RunName != "" {
		attrs = append(attrs, AttrRunName.String(opts.RunName))
	}
	err := c.observe(ctx, "StartRun", attrs, func(ctx context.Context) error {
		var err error
		run, err = c.Client.StartRun(ctx, opts)
		if err == nil && run != nil {
			trace.SpanFromContext(ctx).SetAttributes(AttrRunID.String(run.ID))
		}
		return err
	})
	return run, err
}

func (c *InstrumentedClient) EndRun(ctx context.Context, status tracking.RunStatus) error {
	attrs := []attribute.KeyValue{AttrRunStatus.String(string(status))}
	if run := c.Client.ActiveRun(); run != nil {
		attrs = append(attrs, AttrRunID.String(run.ID))
	}
	return c.observe(ctx, "EndRun", attrs, func(ctx context.Context) error {
		return c.Client.EndRun(ctx, status)
	})
}

func (c *InstrumentedClient) SetExperiment(ctx context.Context, ref tracking.ExperimentRef) (*tracking.Experiment, error) {
	var exp *tracking.Experiment
	name := ref.Name
	if name == "" {
		name = ref.ID
	}
	err := c.observe(ctx, "SetExperiment", []attribute.KeyValue{AttrExperiment.String(name)}, func(ctx context.Context) error {
		var err error
		exp, err = c.Client.SetExperiment(ctx, ref)
		return err
	})
	return exp, err
}

func (c *InstrumentedClient) SetTag(ctx context.Context, key, value string) error {
	return c.observe(ctx, "SetTag", c.runAttrs(AttrTagKey.String(key)), func(ctx context.Context) error {
		return c.Client.SetTag(ctx, key, value)
	})
}

func (c *InstrumentedClient) SetTags(ctx context.Context, tags map[string]string) error {
	return c.observe(ctx, "SetTags", c.runAttrs(attribute.Int("veil.tag.count", len(tags))), func(ctx context.Context) error {
		return c.Client.SetTags(ctx, tags)
	})
}

func (c *InstrumentedClient) LogParam(ctx context.Context, key, value string) error {
	return c.observe(ctx, "LogParam", c.runAttrs(AttrParamKey.String(key)), func(ctx context.Context) error {
		return c.Client.LogParam(ctx, key, value)
	})
}

func (c *InstrumentedClient) runAttrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	if run := c.Client.ActiveRun(); run != nil {
		return append(extra, AttrRunID.String(run.ID))
	}
	return extra
}
