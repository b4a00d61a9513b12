package graph

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/mitchellh/mapstructure"
)

type resumeValueKey struct{}

type stepInfoKey struct{}

// resumeSlot holds the value a resumed step receives. The first Interrupt
// call of an execution takes it; later calls in the same execution suspend
// again.
type resumeSlot struct {
	mu    sync.Mutex
	value any
	set   bool
}

func (s *resumeSlot) take() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return nil, false
	}
	v := s.value
	s.value, s.set = nil, false
	return v, true
}

// WithResumeValue adds a resume value to the context.
// This value will be returned by Interrupt() when re-executing a node.
func WithResumeValue(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, resumeValueKey{}, &resumeSlot{value: value, set: true})
}

// GetResumeValue returns the resume value that the next Interrupt call would
// receive, without consuming it.
func GetResumeValue(ctx context.Context) any {
	slot, ok := ctx.Value(resumeValueKey{}).(*resumeSlot)
	if !ok {
		return nil
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.value
}

// StepInfo identifies the run and step a NodeFunc is executing for.
type StepInfo struct {
	RunID string
	Step  string
	// Attempt counts executions of this step within one call, starting at 1.
	Attempt int
}

func withStepInfo(ctx context.Context, info StepInfo) context.Context {
	return context.WithValue(ctx, stepInfoKey{}, info)
}

// StepInfoFromContext returns the run and step being executed.
func StepInfoFromContext(ctx context.Context) (StepInfo, bool) {
	info, ok := ctx.Value(stepInfoKey{}).(StepInfo)
	return info, ok
}

// Interrupt suspends the run until a caller resumes it. When the step is
// re-executed for a resume, Interrupt returns the resume value instead.
// The step should return the error unchanged.
//
// required names keys the resume value must contain; the runner rejects a
// resume missing any of them and the run stays suspended.
func Interrupt(ctx context.Context, payload any, required ...string) (any, error) {
	if slot, ok := ctx.Value(resumeValueKey{}).(*resumeSlot); ok {
		if v, ok := slot.take(); ok {
			return v, nil
		}
	}
	info, _ := StepInfoFromContext(ctx)
	return nil, &NodeInterrupt{Node: info.Step, Value: payload, Required: slices.Clone(required)}
}

// DecodeResume decodes a map-like resume value into target, which must be a
// pointer to a struct or map. Struct fields are matched by their json tag.
func DecodeResume(value any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if st, ok := value.(State); ok {
		value = map[string]any(st)
	}
	if err := dec.Decode(value); err != nil {
		return fmt.Errorf("failed to decode resume value: %w", err)
	}
	return nil
}

// resumeKeys returns the keys of a map-like resume value. ok is false when
// value is neither a map nor a struct.
func resumeKeys(value any) (map[string]bool, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case State:
		return keySet(v), true
	case map[string]any:
		return keySet(v), true
	}

	rv := reflect.Indirect(reflect.ValueOf(value))
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		keys := make(map[string]bool, rv.Len())
		for _, k := range rv.MapKeys() {
			keys[k.String()] = true
		}
		return keys, true
	case reflect.Struct:
		m := map[string]any{}
		if err := mapstructure.Decode(rv.Interface(), &m); err != nil {
			return nil, false
		}
		keys := keySet(m)
		// mapstructure keys on field names; also accept json tags.
		for i := 0; i < rv.NumField(); i++ {
			f := rv.Type().Field(i)
			if tag := jsonName(f); tag != "" {
				keys[tag] = true
			}
		}
		return keys, true
	}
	return nil, false
}

func keySet[M ~map[string]V, V any](m M) map[string]bool {
	keys := make(map[string]bool, len(m))
	for k := range maps.Keys(m) {
		keys[k] = true
	}
	return keys
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			tag = tag[:i]
			break
		}
	}
	if tag == "-" {
		return ""
	}
	return tag
}

// missingResumeKeys returns the required keys absent from value, or all of
// them when value is not map-like.
func missingResumeKeys(value any, required []string) []string {
	if len(required) == 0 {
		return nil
	}
	keys, ok := resumeKeys(value)
	if !ok {
		return slices.Clone(required)
	}
	var missing []string
	for _, r := range required {
		if !keys[r] {
			missing = append(missing, r)
		}
	}
	return missing
}
