package executor

import (
	"context"
	"fmt"

	"github.com/dagrun/dagrun/engine/core"
)

// Handler is a host-provided function backing an inline task. It receives
// the resolved input and must honor ctx cancellation.
type Handler func(ctx context.Context, input *core.Input) (*core.Output, error)

// Register installs a named inline handler. Names are unique; registering
// twice is a host wiring mistake and fails loudly.
func (e *Executor) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("inline handler name is required")
	}
	if handler == nil {
		return fmt.Errorf("inline handler %s: function is nil", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.handlers[name]; exists {
		return fmt.Errorf("inline handler %s is already registered", name)
	}
	e.handlers[name] = handler
	return nil
}

func (e *Executor) handler(name string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[name]
	return h, ok
}

func (e *Executor) executeInline(ctx context.Context, req *Request) (*core.Output, *core.Error) {
	if req.Handler == "" {
		return nil, core.Errorf(core.ErrConfiguration, "task %s: inline handler name is required", req.TaskRef)
	}
	h, ok := e.handler(req.Handler)
	if !ok {
		return nil, core.Errorf(core.ErrConfiguration, "task %s: inline handler %q is not registered", req.TaskRef, req.Handler)
	}
	out, err := h(ctx, req.Input)
	if err != nil {
		return nil, core.FromError(err)
	}
	if out == nil {
		out = &core.Output{}
	}
	return out, nil
}
