package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// TypeRegistry maps Go types to stable names so that state values can be
// persisted and decoded back into the same concrete type.
type TypeRegistry struct {
	mu             sync.RWMutex
	typeNameToType map[string]reflect.Type
	typeToName     map[reflect.Type]string
}

// NewTypeRegistry creates a registry pre-populated with the builtin scalar,
// slice and map types.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		typeNameToType: make(map[string]reflect.Type),
		typeToName:     make(map[reflect.Type]string),
	}
	for _, v := range []any{
		"", false,
		int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0),
		[]string(nil), []int(nil), []int64(nil), []float64(nil), []bool(nil), []byte(nil),
		map[string]string(nil), map[string]int(nil), map[string]float64(nil), map[string]bool(nil),
		[]map[string]any(nil), map[string][]any(nil), map[string][]string(nil), [][]string(nil),
		time.Time{}, time.Duration(0),
	} {
		t := reflect.TypeOf(v)
		r.typeNameToType[TypeName(t)] = t
		r.typeToName[t] = TypeName(t)
	}
	return r
}

var globalTypeRegistry = NewTypeRegistry()

// GlobalTypeRegistry returns the registry used by EncodeState and DecodeState.
func GlobalTypeRegistry() *TypeRegistry {
	return globalTypeRegistry
}

// TypeName returns the name a type is registered under by default: the
// package path qualified name for named types, reflect's string form otherwise.
func TypeName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// RegisterType registers t under its default name in the global registry.
func RegisterType(t reflect.Type) error {
	return globalTypeRegistry.Register(t, TypeName(t))
}

// RegisterTypeWithValue is a convenience wrapper that registers the dynamic
// type of value.
//
// Example usage:
//
//	var c Classification
//	store.RegisterTypeWithValue(c)
func RegisterTypeWithValue(value any) error {
	return RegisterType(reflect.TypeOf(value))
}

// Register adds a type under the given name.
func (r *TypeRegistry) Register(t reflect.Type, typeName string) error {
	if t == nil {
		return fmt.Errorf("cannot register nil type")
	}
	switch t.Kind() {
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Errorf("type %s cannot be persisted", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingName, ok := r.typeToName[t]; ok && existingName != typeName {
		return fmt.Errorf("type %v already registered as %s", t, existingName)
	}
	if existing, ok := r.typeNameToType[typeName]; ok && existing != t {
		return fmt.Errorf("name %s already registered for type %v", typeName, existing)
	}

	r.typeNameToType[typeName] = t
	r.typeToName[t] = typeName
	return nil
}

// GetTypeByName returns the type registered under typeName.
func (r *TypeRegistry) GetTypeByName(typeName string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.typeNameToType[typeName]
	return t, ok
}

// GetTypeName returns the registered name for a type.
func (r *TypeRegistry) GetTypeName(t reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.typeToName[t]
	return name, ok
}

// Envelope names for values that are not looked up in the registry.
// typeJSON is only read: it marks plain JSON written by older versions.
const (
	typeNull    = "null"
	typeAnyList = "[]any"
	typeAnyMap  = "map[string]any"
	typeJSON    = "json"
)

// typedValue is the persisted form of one value.
type typedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalValue encodes value together with its type name. A type that is
// not registered yet is registered under its default name on first use.
// Slices and maps whose elements are interfaces are encoded element by
// element, so nested values keep their types too.
func (r *TypeRegistry) MarshalValue(value any) ([]byte, error) {
	tv, err := r.wrap(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tv)
}

func (r *TypeRegistry) wrap(value any) (typedValue, error) {
	switch v := value.(type) {
	case nil:
		return typedValue{Type: typeNull, Value: json.RawMessage("null")}, nil
	case []any:
		raw, err := r.wrapElements(reflect.ValueOf(v))
		if err != nil {
			return typedValue{}, err
		}
		return typedValue{Type: typeAnyList, Value: raw}, nil
	case map[string]any:
		raw, err := r.wrapElements(reflect.ValueOf(v))
		if err != nil {
			return typedValue{}, err
		}
		return typedValue{Type: typeAnyMap, Value: raw}, nil
	}

	t := reflect.TypeOf(value)
	name, err := r.nameFor(t)
	if err != nil {
		return typedValue{}, err
	}
	var raw []byte
	if walksElements(t) {
		raw, err = r.wrapElements(reflect.ValueOf(value))
	} else {
		raw, err = json.Marshal(value)
	}
	if err != nil {
		return typedValue{}, err
	}
	return typedValue{Type: name, Value: raw}, nil
}

// nameFor returns the registered name of t, registering it when needed.
func (r *TypeRegistry) nameFor(t reflect.Type) (string, error) {
	if name, ok := r.GetTypeName(t); ok {
		return name, nil
	}
	name := TypeName(t)
	if err := r.Register(t, name); err != nil {
		return "", fmt.Errorf("cannot persist value of type %s: %w", t, err)
	}
	return name, nil
}

// walksElements reports whether values of t are encoded element by element:
// slices, arrays and string-keyed maps holding interfaces at some depth.
func walksElements(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return holdsInterface(t.Elem())
	case reflect.Map:
		return t.Key().Kind() == reflect.String && holdsInterface(t.Elem())
	}
	return false
}

func holdsInterface(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface:
		return true
	case reflect.Slice, reflect.Array:
		return holdsInterface(t.Elem())
	case reflect.Map:
		return t.Key().Kind() == reflect.String && holdsInterface(t.Elem())
	}
	return false
}

// wrapElements encodes a slice, array or string-keyed map as a JSON list or
// object of typed values.
func (r *TypeRegistry) wrapElements(v reflect.Value) (json.RawMessage, error) {
	if v.Kind() == reflect.Array || v.Kind() == reflect.Slice {
		if v.Kind() == reflect.Slice && v.IsNil() {
			return json.RawMessage("null"), nil
		}
		items := make([]typedValue, v.Len())
		for i := range v.Len() {
			tv, err := r.wrap(v.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = tv
		}
		return json.Marshal(items)
	}

	if v.IsNil() {
		return json.RawMessage("null"), nil
	}
	fields := make(map[string]typedValue, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		tv, err := r.wrap(iter.Value().Interface())
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		fields[k] = tv
	}
	return json.Marshal(fields)
}

// UnmarshalValue decodes data produced by MarshalValue.
func (r *TypeRegistry) UnmarshalValue(data []byte) (any, error) {
	var tv typedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return nil, err
	}
	return r.unwrap(tv)
}

func (r *TypeRegistry) unwrap(tv typedValue) (any, error) {
	switch tv.Type {
	case typeNull, "":
		return nil, nil
	case typeAnyList:
		v, err := r.unwrapElements(reflect.TypeFor[[]any](), tv.Value)
		if err != nil {
			return nil, err
		}
		if v.([]any) == nil {
			return []any{}, nil
		}
		return v, nil
	case typeAnyMap:
		v, err := r.unwrapElements(reflect.TypeFor[map[string]any](), tv.Value)
		if err != nil {
			return nil, err
		}
		if v.(map[string]any) == nil {
			return map[string]any{}, nil
		}
		return v, nil
	case typeJSON:
		var v any
		if err := json.Unmarshal(tv.Value, &v); err != nil {
			return nil, err
		}
		return v, nil
	}

	t, ok := r.GetTypeByName(tv.Type)
	if !ok {
		return nil, fmt.Errorf("type %s not registered; register it with store.RegisterType before loading", tv.Type)
	}
	if walksElements(t) {
		return r.unwrapElements(t, tv.Value)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(tv.Value, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", tv.Type, err)
	}
	return ptr.Elem().Interface(), nil
}

// unwrapElements decodes data produced by wrapElements into a value of t.
func (r *TypeRegistry) unwrapElements(t reflect.Type, data json.RawMessage) (any, error) {
	out := reflect.New(t).Elem()
	if len(data) == 0 || string(data) == "null" {
		return out.Interface(), nil
	}

	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		var items []typedValue
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", t, err)
		}
		if t.Kind() == reflect.Slice {
			out.Set(reflect.MakeSlice(t, len(items), len(items)))
		} else if len(items) != t.Len() {
			return nil, fmt.Errorf("failed to decode %s: got %d elements", t, len(items))
		}
		for i, item := range items {
			v, err := r.unwrap(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			if err := assign(out.Index(i), v); err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
		}
		return out.Interface(), nil
	}

	var fields map[string]typedValue
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", t, err)
	}
	out.Set(reflect.MakeMapWithSize(t, len(fields)))
	for k, item := range fields {
		v, err := r.unwrap(item)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		elem := reflect.New(t.Elem()).Elem()
		if err := assign(elem, v); err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), elem)
	}
	return out.Interface(), nil
}

// assign stores v in dst. A nil v leaves dst at its zero value.
func assign(dst reflect.Value, v any) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(dst.Type()) {
		return fmt.Errorf("cannot use %s as %s", rv.Type(), dst.Type())
	}
	dst.Set(rv)
	return nil
}

// EncodeState encodes a state map with the global registry.
func EncodeState(state map[string]any) ([]byte, error) {
	if state == nil {
		state = map[string]any{}
	}
	return globalTypeRegistry.MarshalValue(state)
}

// DecodeState decodes data produced by EncodeState.
func DecodeState(data []byte) (map[string]any, error) {
	v, err := globalTypeRegistry.UnmarshalValue(data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("encoded state is %T, not a map", v)
	}
	return m, nil
}

// persistedSnapshot is the JSON layout shared by the file and redis stores and
// by the payload columns of the SQL stores.
type persistedSnapshot struct {
	RunID       string          `json:"run_id"`
	Status      Status          `json:"status"`
	CurrentStep string          `json:"current_step"`
	Pending     *persistedPend  `json:"pending,omitempty"`
	State       json.RawMessage `json:"state"`
	StepCount   int             `json:"step_count"`
	Version     int64           `json:"version"`
	LastError   string          `json:"last_error,omitempty"`
	Cancelled   bool            `json:"cancelled,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type persistedPend struct {
	Step      string          `json:"step"`
	Payload   json.RawMessage `json:"payload"`
	Required  []string        `json:"required,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EncodePending encodes a pending interrupt, keeping the payload's types.
func EncodePending(p *PendingInterrupt) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	payload, err := globalTypeRegistry.MarshalValue(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode interrupt payload: %w", err)
	}
	return json.Marshal(persistedPend{
		Step:      p.Step,
		Payload:   payload,
		Required:  p.Required,
		CreatedAt: p.CreatedAt,
	})
}

// DecodePending decodes data produced by EncodePending.
func DecodePending(data []byte) (*PendingInterrupt, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var pp persistedPend
	if err := json.Unmarshal(data, &pp); err != nil {
		return nil, err
	}
	return decodePend(&pp)
}

func decodePend(pp *persistedPend) (*PendingInterrupt, error) {
	if pp == nil {
		return nil, nil
	}
	payload, err := globalTypeRegistry.UnmarshalValue(pp.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode interrupt payload: %w", err)
	}
	return &PendingInterrupt{
		Step:      pp.Step,
		Payload:   payload,
		Required:  pp.Required,
		CreatedAt: pp.CreatedAt,
	}, nil
}

// MarshalSnapshot encodes a whole snapshot.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	state, err := EncodeState(s.State)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	var metadata json.RawMessage
	if s.Metadata != nil {
		metadata, err = globalTypeRegistry.MarshalValue(s.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}
	var pend *persistedPend
	if s.Pending != nil {
		raw, err := EncodePending(s.Pending)
		if err != nil {
			return nil, err
		}
		pend = &persistedPend{}
		if err := json.Unmarshal(raw, pend); err != nil {
			return nil, err
		}
	}
	return json.Marshal(persistedSnapshot{
		RunID:       s.RunID,
		Status:      s.Status,
		CurrentStep: s.CurrentStep,
		Pending:     pend,
		State:       state,
		StepCount:   s.StepCount,
		Version:     s.Version,
		LastError:   s.LastError,
		Cancelled:   s.Cancelled,
		Metadata:    metadata,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	})
}

// UnmarshalSnapshot decodes data produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var ps persistedSnapshot
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	state, err := DecodeState(ps.State)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	var metadata map[string]any
	if len(ps.Metadata) > 0 {
		v, err := globalTypeRegistry.UnmarshalValue(ps.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		metadata, _ = v.(map[string]any)
	}
	pending, err := decodePend(ps.Pending)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		RunID:       ps.RunID,
		Status:      ps.Status,
		CurrentStep: ps.CurrentStep,
		Pending:     pending,
		State:       state,
		StepCount:   ps.StepCount,
		Version:     ps.Version,
		LastError:   ps.LastError,
		Cancelled:   ps.Cancelled,
		Metadata:    metadata,
		CreatedAt:   ps.CreatedAt,
		UpdatedAt:   ps.UpdatedAt,
	}, nil
}
