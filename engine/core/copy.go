package core

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

func deepCopyMap(m map[string]any) (map[string]any, error) {
	copied, ok := deepcopy.Copy(m).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to copy map")
	}
	return copied, nil
}

// DeepCopy returns a deep copy of v. Input and Output (and their pointer
// forms) are reconstructed as their concrete types instead of devolving into
// the plain map the deepcopy library would return. Nil pointer Input/Output
// values are treated as absent and yield the zero value of T.
func DeepCopy[T any](v T) (T, error) {
	var zero T
	switch src := any(v).(type) {
	case Input:
		if src == nil {
			return zero, nil
		}
		copied, err := deepCopyMap(src)
		if err != nil {
			return zero, fmt.Errorf("failed to copy Input: %w", err)
		}
		return castCopy[T](Input(copied))
	case Output:
		if src == nil {
			return zero, nil
		}
		copied, err := deepCopyMap(src)
		if err != nil {
			return zero, fmt.Errorf("failed to copy Output: %w", err)
		}
		return castCopy[T](Output(copied))
	case *Input:
		if src == nil || *src == nil {
			return zero, nil
		}
		copied, err := deepCopyMap(*src)
		if err != nil {
			return zero, fmt.Errorf("failed to copy *Input: %w", err)
		}
		dst := Input(copied)
		return castCopy[T](&dst)
	case *Output:
		if src == nil || *src == nil {
			return zero, nil
		}
		copied, err := deepCopyMap(*src)
		if err != nil {
			return zero, fmt.Errorf("failed to copy *Output: %w", err)
		}
		dst := Output(copied)
		return castCopy[T](&dst)
	default:
		return castCopy[T](deepcopy.Copy(v))
	}
}

func castCopy[T any](v any) (T, error) {
	result, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("failed to cast copied value to type %T", zero)
	}
	return result, nil
}
