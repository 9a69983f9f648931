package core

import (
	"fmt"
	"maps"

	"github.com/mohae/deepcopy"
)

// CloneMap returns a shallow copy of src, or an empty map if src is nil —
// never a nil map, so callers can write into the result unconditionally.
func CloneMap[K comparable, V any](src map[K]V) map[K]V {
	if src == nil {
		return make(map[K]V)
	}
	return maps.Clone(src)
}

// DeepCopyContext deep-copies a flow session's context map so that a
// TTL-sweep snapshot, an audit step record, or a concurrent reader never
// observes a half-written map while executeStep mutates the live copy.
func DeepCopyContext(ctx map[string]any) (map[string]any, error) {
	if ctx == nil {
		return make(map[string]any), nil
	}
	copied, ok := deepcopy.Copy(ctx).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("core: deep copy context: unexpected type after copy")
	}
	return copied, nil
}

// DeepCopyValue deep-copies an arbitrary value (action params, connection
// config) before handing it to a handler, so handler-side mutation cannot
// corrupt the engine's own state.
func DeepCopyValue[T any](v T) (T, error) {
	var zero T
	copied, ok := deepcopy.Copy(v).(T)
	if !ok {
		return zero, fmt.Errorf("core: deep copy value: unexpected type %T after copy", v)
	}
	return copied, nil
}
