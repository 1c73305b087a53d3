package tplengine

// TaskState is the view a template has of another task's progress.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskCompleted
	TaskSkipped
)

// TaskView exposes one task to template resolution. Skipped tasks keep an
// empty output, so reading fields from them fails with a missing field.
type TaskView struct {
	State  TaskState
	Output map[string]any
}

// Context carries the roots addressable from template expressions: input,
// tasks, and any iteration variables in scope.
type Context struct {
	roots map[string]any
	tasks map[string]TaskView
}

func NewContext() *Context {
	return &Context{
		roots: map[string]any{},
		tasks: map[string]TaskView{},
	}
}

func (c *Context) WithInput(input map[string]any) *Context {
	if input == nil {
		input = map[string]any{}
	}
	c.roots["input"] = input
	return c
}

func (c *Context) WithTasks(tasks map[string]TaskView) *Context {
	for id, view := range tasks {
		c.tasks[id] = view
	}
	return c
}

func (c *Context) WithTask(id string, view TaskView) *Context {
	c.tasks[id] = view
	return c
}

// WithScope binds an arbitrary root name, e.g. a custom iteration variable.
func (c *Context) WithScope(name string, value any) *Context {
	c.roots[name] = value
	return c
}

// WithIteration binds one forEach frame: the item under itemVar, the index
// under indexVar, and both under the forEach root for default-name access.
func (c *Context) WithIteration(itemVar string, item any, indexVar string, index int) *Context {
	if itemVar == "" {
		itemVar = "item"
	}
	if indexVar == "" {
		indexVar = "index"
	}
	c.roots[itemVar] = item
	c.roots[indexVar] = index
	c.roots["forEach"] = map[string]any{"item": item, "index": index}
	return c
}

// Clone returns an independent context sharing the same values. Iteration
// frames clone the parent before binding their variables.
func (c *Context) Clone() *Context {
	out := NewContext()
	for k, v := range c.roots {
		out.roots[k] = v
	}
	for id, view := range c.tasks {
		out.tasks[id] = view
	}
	return out
}

func (c *Context) root(name string) (any, bool) {
	v, ok := c.roots[name]
	return v, ok
}

func (c *Context) task(id string) (TaskView, bool) {
	v, ok := c.tasks[id]
	return v, ok
}
