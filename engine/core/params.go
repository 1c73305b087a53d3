package core

import (
	"dario.cat/mergo"
	"github.com/mohae/deepcopy"
)

// -----------------------------------------------------------------------------
// Input
// -----------------------------------------------------------------------------

// Input carries the named parameters handed to a workflow or a task.
type Input map[string]any

func NewInput(m map[string]any) *Input {
	in := Input(m)
	return &in
}

func (i *Input) AsMap() map[string]any {
	if i == nil || *i == nil {
		return nil
	}
	out := make(map[string]any, len(*i))
	for k, v := range *i {
		out[k] = v
	}
	return out
}

func (i *Input) Prop(key string) any {
	if i == nil || *i == nil {
		return nil
	}
	return (*i)[key]
}

func (i *Input) Set(key string, value any) {
	if *i == nil {
		*i = make(Input)
	}
	(*i)[key] = value
}

// Merge combines i with other; existing values in i win, slices append.
func (i *Input) Merge(other *Input) (*Input, error) {
	if i == nil || *i == nil {
		return other, nil
	}
	if other == nil || *other == nil {
		return i, nil
	}
	merged, err := DeepCopy(*i)
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(&merged, *other, mergo.WithAppendSlice); err != nil {
		return nil, err
	}
	return &merged, nil
}

func (i *Input) Clone() (*Input, error) {
	if i == nil {
		return nil, nil
	}
	cloned, err := DeepCopy(*i)
	if err != nil {
		return nil, err
	}
	return &cloned, nil
}

// -----------------------------------------------------------------------------
// Output
// -----------------------------------------------------------------------------

// Output carries the values a task or workflow produced.
type Output map[string]any

func (o *Output) AsMap() map[string]any {
	if o == nil || *o == nil {
		return nil
	}
	out := make(map[string]any, len(*o))
	for k, v := range *o {
		out[k] = v
	}
	return out
}

func (o *Output) Prop(key string) any {
	if o == nil || *o == nil {
		return nil
	}
	return (*o)[key]
}

func (o *Output) Set(key string, value any) {
	if *o == nil {
		*o = make(Output)
	}
	(*o)[key] = value
}

// Merge combines o with other; values in other win.
func (o *Output) Merge(other Output) (Output, error) {
	if o == nil || *o == nil {
		merged := Output{}
		for k, v := range other {
			merged[k] = v
		}
		return merged, nil
	}
	merged, err := DeepCopy(*o)
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(&merged, other, mergo.WithOverride); err != nil {
		return nil, err
	}
	return merged, nil
}

func (o *Output) Clone() (*Output, error) {
	if o == nil {
		return nil, nil
	}
	cloned, err := DeepCopy(*o)
	if err != nil {
		return nil, err
	}
	return &cloned, nil
}

// -----------------------------------------------------------------------------
// EnvMap
// -----------------------------------------------------------------------------

type EnvMap map[string]string

func (e EnvMap) Clone() EnvMap {
	if e == nil {
		return nil
	}
	cloned, ok := deepcopy.Copy(e).(EnvMap)
	if !ok {
		out := make(EnvMap, len(e))
		for k, v := range e {
			out[k] = v
		}
		return out
	}
	return cloned
}
