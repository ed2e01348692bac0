package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
	"github.com/capitalize-ai/model-middleware/pkg/metrics"
)

const tracerName = "github.com/capitalize-ai/model-middleware/internal/pipeline"

// Invoker calls the model. Errors are returned to the caller untouched.
type Invoker interface {
	Invoke(ctx context.Context, conv model.Conversation) (*model.Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, conv model.Conversation) (*model.Response, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, conv model.Conversation) (*model.Response, error) {
	return f(ctx, conv)
}

// Pipeline is an ordered, fixed list of middleware around one model invocation.
// It is safe for concurrent use when its middleware are.
type Pipeline struct {
	middlewares []Middleware
	invoker     Invoker
	logger      *logger.Logger
	tracer      trace.Tracer
}

// New creates a pipeline. The middleware order is fixed for its lifetime.
func New(invoker Invoker, log *logger.Logger, middlewares ...Middleware) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	mws := make([]Middleware, len(middlewares))
	copy(mws, middlewares)

	return &Pipeline{
		middlewares: mws,
		invoker:     invoker,
		logger:      log.Named("pipeline"),
		tracer:      otel.Tracer(tracerName),
	}
}

// Execution is the outcome of one pipeline run.
type Execution struct {
	Response *model.Response
	// Cached is true when a middleware supplied the response and the model
	// was not called.
	Cached bool
}

// Run executes the pipeline and returns the final response.
func (p *Pipeline) Run(ctx context.Context, conv model.Conversation) (*model.Response, error) {
	exec, err := p.Execute(ctx, conv)
	if err != nil {
		return nil, err
	}
	return exec.Response, nil
}

// Execute runs the pre-call phase, the model call and the post-call phase.
//
// BeforeModel hooks run in declaration order. A hook error aborts the run: the
// model is not called and no AfterModel hook runs. If a hook reports a cached
// response the remaining hooks still run but the model call is skipped.
// AfterModel hooks run in reverse declaration order.
func (p *Pipeline) Execute(ctx context.Context, conv model.Conversation) (*Execution, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.Int("pipeline.middlewares", len(p.middlewares)),
		attribute.Int("conversation.messages", len(conv)),
	))
	defer span.End()

	current := conv.Clone()
	tokens := make([]string, len(p.middlewares))
	var cached *model.Response

	for i, mw := range p.middlewares {
		res, err := mw.BeforeModel(ctx, current)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Warn("request rejected by middleware",
				zap.String("middleware", mw.Name()),
				zap.Error(err),
			)
			metrics.RecordPipelineRun("rejected", time.Since(start).Seconds())
			return nil, err
		}
		current = res.Conversation
		tokens[i] = res.Token
		if cached == nil && res.Cached != nil {
			cached = res.Cached
			span.AddEvent("cache_hit", trace.WithAttributes(attribute.String("middleware", mw.Name())))
		}
	}

	span.AddEvent("pre_call.done")

	outcome := "cache_hit"
	resp := cached
	if resp == nil {
		outcome = "success"
		var err error
		resp, err = p.invoker.Invoke(ctx, current)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Error("model invocation failed", zap.Error(err))
			metrics.RecordPipelineRun("model_error", time.Since(start).Seconds())
			return nil, err
		}
	}

	for i := len(p.middlewares) - 1; i >= 0; i-- {
		resp = p.middlewares[i].AfterModel(ctx, tokens[i], resp)
	}
	span.AddEvent("post_call.done")

	span.SetAttributes(attribute.String("pipeline.outcome", outcome))
	metrics.RecordPipelineRun(outcome, time.Since(start).Seconds())
	return &Execution{Response: resp, Cached: cached != nil}, nil
}

// AuthorizeTool asks each middleware's tool gate in declaration order. The
// first refusal is returned as an *AccessDeniedError.
func (p *Pipeline) AuthorizeTool(ctx context.Context, tool string, args map[string]any) error {
	for _, mw := range p.middlewares {
		d := mw.WrapToolCall(ctx, tool, args)
		if !d.Allowed {
			metrics.RecordToolDecision(false)
			return &AccessDeniedError{
				Middleware: mw.Name(),
				Tool:       tool,
				Reason:     d.Reason,
			}
		}
	}
	metrics.RecordToolDecision(true)
	return nil
}

// Middlewares returns the middleware in declaration order.
func (p *Pipeline) Middlewares() []Middleware {
	out := make([]Middleware, len(p.middlewares))
	copy(out, p.middlewares)
	return out
}

// Len returns the number of middleware.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Stats collects every middleware's counters keyed by name.
func (p *Pipeline) Stats() map[string]Stats {
	out := make(map[string]Stats, len(p.middlewares))
	for _, mw := range p.middlewares {
		if s := mw.Stats(); s != nil {
			out[mw.Name()] = s
		}
	}
	return out
}
