package core

import (
	"fmt"
	"maps"

	"dario.cat/mergo"
)

// Input and Output are the two map-of-any shapes that flow through the
// engine: handler parameters, flow block outputs, connection config, and
// session context values are all one of these two named types so call sites
// read as intent rather than bare map[string]any.
type (
	Input  map[string]any
	Output map[string]any
)

func NewInput(m map[string]any) Input {
	if m == nil {
		return make(Input)
	}
	return Input(m)
}

func NewOutput(m map[string]any) Output {
	if m == nil {
		return make(Output)
	}
	return Output(m)
}

// Merge overlays src onto i, with src values taking precedence and slice
// values appended rather than replaced.
func (i Input) Merge(src Input) (Input, error) {
	merged, err := mergeMaps(i, src, "input")
	if err != nil {
		return nil, err
	}
	return Input(merged), nil
}

func (i Input) AsMap() map[string]any {
	out := make(map[string]any, len(i))
	maps.Copy(out, i)
	return out
}

func (o Output) Merge(src Output) (Output, error) {
	merged, err := mergeMaps(o, src, "output")
	if err != nil {
		return nil, err
	}
	return Output(merged), nil
}

func (o Output) AsMap() map[string]any {
	out := make(map[string]any, len(o))
	maps.Copy(out, o)
	return out
}

func mergeMaps(dst, src map[string]any, kind string) (map[string]any, error) {
	result := make(map[string]any, len(dst))
	maps.Copy(result, dst)
	if len(src) == 0 {
		return result, nil
	}
	if err := mergo.Merge(&result, map[string]any(src), mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("core: merge %s: %w", kind, err)
	}
	return result, nil
}
