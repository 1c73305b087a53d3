// Package executor runs single task attempts. It dispatches by task kind
// (HTTP call, transform pipeline, host-registered inline handler), applies
// the task timeout and classifies failures into the engine error taxonomy.
// It never retries and never consults the circuit breaker; those concerns
// are layered on top by engine/resilience.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/transform"
)

// DefaultTimeout bounds a task attempt when neither the task spec nor the
// step sets one.
const DefaultTimeout = 30 * time.Second

// -----------------------------------------------------------------------------
// Request / Response
// -----------------------------------------------------------------------------

// HTTPRequest is a fully resolved outbound call. Templates in method, URL,
// headers and body have already been applied.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
}

// TransformRequest pairs a compiled pipeline with the resolved dataset it
// runs over.
type TransformRequest struct {
	Pipeline *transform.Pipeline
	Dataset  any
}

// Request is one unit of work with every template already resolved. The
// same request may be executed more than once by the retry layer, so it is
// treated as read-only here.
type Request struct {
	StepID    string
	TaskRef   string
	Type      task.Type
	HTTP      *HTTPRequest
	Transform *TransformRequest
	Handler   string
	Input     *core.Input
	// Timeout overrides the executor default when positive.
	Timeout time.Duration
}

// Response is the outcome of one attempt. Error nil means success.
type Response struct {
	Output      *core.Output `json:"output,omitempty"`
	Error       *core.Error  `json:"error,omitempty"`
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt time.Time    `json:"completedAt"`
}

// Success reports whether the attempt produced an output.
func (r *Response) Success() bool {
	return r != nil && r.Error == nil
}

// Duration returns how long the attempt ran.
func (r *Response) Duration() time.Duration {
	if r == nil || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// -----------------------------------------------------------------------------
// Executor
// -----------------------------------------------------------------------------

// Executor executes resolved task requests. Safe for concurrent use.
type Executor struct {
	client  *resty.Client
	clock   core.Clock
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

type Option func(*Executor)

// WithClient swaps the HTTP client, keeping any transport or TLS settings
// the host configured on it.
func WithClient(client *resty.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithTimeout changes the default attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock injects the time source used for result timestamps.
func WithClock(clock core.Clock) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New builds an executor. The default client carries no retry policy;
// retrying is owned by the resilience layer.
func New(opts ...Option) *Executor {
	e := &Executor{
		clock:    core.SystemClock(),
		timeout:  DefaultTimeout,
		handlers: map[string]Handler{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = resty.New().
			SetHeader("User-Agent", "dagrun/"+core.GetVersion()).
			SetHeader("Accept", "application/json")
	}
	return e
}

// Execute runs one attempt of req under its timeout and returns the shaped
// output or a classified failure, with attempt timestamps either way.
func (e *Executor) Execute(ctx context.Context, req *Request) *Response {
	started := e.clock.Now()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, execErr := e.dispatch(attemptCtx, req)
	completed := e.clock.Now()
	if execErr != nil {
		execErr.WithTiming(completed, completed.Sub(started))
	}
	recordExecution(ctx, req.Type, completed.Sub(started), execErr == nil)
	return &Response{
		Output:      output,
		Error:       execErr,
		StartedAt:   started,
		CompletedAt: completed,
	}
}

func (e *Executor) dispatch(ctx context.Context, req *Request) (*core.Output, *core.Error) {
	switch req.Type {
	case task.TypeHTTP:
		return e.executeHTTP(ctx, req)
	case task.TypeTransform:
		return e.executeTransform(ctx, req)
	case task.TypeInline:
		return e.executeInline(ctx, req)
	default:
		return nil, core.Errorf(core.ErrConfiguration, "task %s: unsupported task type %q", req.TaskRef, req.Type)
	}
}

func (e *Executor) executeTransform(ctx context.Context, req *Request) (*core.Output, *core.Error) {
	tr := req.Transform
	if tr == nil || tr.Pipeline == nil {
		return nil, core.Errorf(core.ErrConfiguration, "task %s: transform pipeline is missing", req.TaskRef)
	}
	result, err := tr.Pipeline.Apply(tr.Dataset)
	if err != nil {
		return nil, core.FromError(err)
	}
	// The pipeline is synchronous CPU work; surface a deadline that expired
	// while it ran instead of returning a late result.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, core.FromError(ctxErr)
	}
	return shapeOutput(result), nil
}

// shapeOutput normalizes a task value into an output map: objects pass
// through, anything else nests under the output key.
func shapeOutput(v any) *core.Output {
	if m, ok := v.(map[string]any); ok {
		out := core.Output(m)
		return &out
	}
	out := core.Output{"output": v}
	return &out
}
