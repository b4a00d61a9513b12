package graph

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store"
)

// State is the record of named fields a run carries from step to step.
type State map[string]any

// Clone returns a shallow copy. A nil state clones to an empty one.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Get returns the value of key as a T. ok is false when the key is absent
// or holds a value of another type.
func Get[T any](s State, key string) (T, bool) {
	v, ok := s[key].(T)
	return v, ok
}

// GetOr returns the value of key as a T, or def when absent or mistyped.
func GetOr[T any](s State, key string, def T) T {
	if v, ok := Get[T](s, key); ok {
		return v
	}
	return def
}

// Reducer defines how a field update is merged into the current value.
type Reducer func(current, update any) (any, error)

// OverwriteReducer replaces the old value with the new one.
func OverwriteReducer(_, update any) (any, error) {
	return update, nil
}

// AppendReducer appends update to the current slice. update may be a single
// element or a slice of elements. The result never shares a backing array
// with current, so previously committed states are not affected.
func AppendReducer(current, update any) (any, error) {
	if update == nil {
		return current, nil
	}
	newVal := reflect.ValueOf(update)
	if current == nil {
		if newVal.Kind() == reflect.Slice {
			out := reflect.MakeSlice(newVal.Type(), newVal.Len(), newVal.Len())
			reflect.Copy(out, newVal)
			return out.Interface(), nil
		}
		out := reflect.MakeSlice(reflect.SliceOf(newVal.Type()), 0, 1)
		return reflect.Append(out, newVal).Interface(), nil
	}

	currVal := reflect.ValueOf(current)
	if currVal.Kind() != reflect.Slice {
		return nil, fmt.Errorf("current value is %T, not a slice", current)
	}

	elem := currVal.Type().Elem()
	spread := newVal.Kind() == reflect.Slice &&
		(newVal.Type().AssignableTo(currVal.Type()) ||
			(newVal.Type().Elem().AssignableTo(elem) && !newVal.Type().AssignableTo(elem)))

	var extra []reflect.Value
	if spread {
		for i := 0; i < newVal.Len(); i++ {
			extra = append(extra, newVal.Index(i))
		}
	} else {
		extra = append(extra, newVal)
	}

	out := reflect.MakeSlice(currVal.Type(), currVal.Len(), currVal.Len()+len(extra))
	reflect.Copy(out, currVal)
	for _, v := range extra {
		if !v.IsValid() {
			v = reflect.Zero(elem)
		}
		if !v.Type().AssignableTo(elem) {
			return nil, fmt.Errorf("cannot append %s to %s", v.Type(), currVal.Type())
		}
		out = reflect.Append(out, v)
	}
	return out.Interface(), nil
}

// Field declares one entry of a Schema.
type Field struct {
	Name        string
	Description string
	// Type is the declared Go type. Updates must be assignable to it.
	Type reflect.Type
	// Elem is set for append fields: single elements of this type may be
	// appended as well as whole slices.
	Elem    reflect.Type
	Reducer Reducer
	// Default is the value the field starts with, or nil.
	Default any
}

// FieldOption configures a Field.
type FieldOption func(*Field)

// WithDefault sets the initial value of the field.
func WithDefault(v any) FieldOption {
	return func(f *Field) { f.Default = v }
}

// WithReducer replaces the field's merge rule.
func WithReducer(r Reducer) FieldOption {
	return func(f *Field) { f.Reducer = r }
}

// WithFieldDescription documents the field.
func WithFieldDescription(desc string) FieldOption {
	return func(f *Field) { f.Description = desc }
}

// FieldOf declares an overwrite field of type T. T is registered with the
// store type registry so persisted runs decode the field back into a T.
func FieldOf[T any](name string, opts ...FieldOption) *Field {
	t := reflect.TypeFor[T]()
	registerPersistable(t)
	f := &Field{Name: name, Type: t, Reducer: OverwriteReducer}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AppendField declares an append-only field holding a []T. Updates append a
// T or a []T; the existing entries are never replaced.
func AppendField[T any](name string, opts ...FieldOption) *Field {
	elem := reflect.TypeFor[T]()
	t := reflect.SliceOf(elem)
	registerPersistable(elem)
	registerPersistable(t)
	f := &Field{Name: name, Type: t, Elem: elem, Reducer: appendTo(t)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// appendTo starts an absent field as an empty slice of t so the first
// update already has the declared type.
func appendTo(t reflect.Type) Reducer {
	return func(current, update any) (any, error) {
		if current == nil {
			current = reflect.MakeSlice(t, 0, 0).Interface()
		}
		return AppendReducer(current, update)
	}
}

func registerPersistable(t reflect.Type) {
	switch t.Kind() {
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return
	}
	// A conflicting registration keeps the first name.
	if err := store.RegisterType(t); err != nil {
		log.Warn("field type %s: %v", t, err)
	}
}

func (f *Field) accepts(v any) error {
	if v == nil {
		switch f.Type.Kind() {
		case reflect.Interface, reflect.Map, reflect.Slice, reflect.Pointer:
			return nil
		}
		return fmt.Errorf("field %s: nil is not a %s", f.Name, f.Type)
	}
	vt := reflect.TypeOf(v)
	if vt.AssignableTo(f.Type) {
		return nil
	}
	if f.Elem != nil && vt.AssignableTo(f.Elem) {
		return nil
	}
	return fmt.Errorf("field %s: expected %s, got %s", f.Name, f.Type, vt)
}

// Schema declares the fields of a State and how updates merge into them.
type Schema struct {
	fields map[string]*Field
	order  []string
}

// NewSchema creates a schema from field declarations.
func NewSchema(fields ...*Field) *Schema {
	s := &Schema{fields: make(map[string]*Field)}
	for _, f := range fields {
		s.Add(f)
	}
	return s
}

// Add declares a field, replacing any earlier declaration of the same name.
func (s *Schema) Add(f *Field) *Schema {
	if _, ok := s.fields[f.Name]; !ok {
		s.order = append(s.order, f.Name)
	}
	s.fields[f.Name] = f
	return s
}

// Field returns the declaration of name.
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns the declarations in the order they were added.
func (s *Schema) Fields() []*Field {
	out := make([]*Field, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.fields[name])
	}
	return out
}

// Init returns a state holding the declared defaults.
func (s *Schema) Init() State {
	st := State{}
	if s == nil {
		return st
	}
	for _, f := range s.Fields() {
		if f.Default != nil {
			st[f.Name] = f.Default
		}
	}
	return st
}

// Check reports why update cannot be merged, or "" when it can.
func (s *Schema) Check(update State) string {
	if s == nil {
		return ""
	}
	var undeclared, problems []string
	for _, k := range slices.Sorted(maps.Keys(update)) {
		f, ok := s.fields[k]
		if !ok {
			undeclared = append(undeclared, k)
			continue
		}
		if err := f.accepts(update[k]); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(undeclared) > 0 {
		problems = append([]string{"undeclared fields: " + strings.Join(undeclared, ", ")}, problems...)
	}
	return strings.Join(problems, "; ")
}

// Merge applies update to a copy of current. Fields without a declaration
// (or every field, for a nil schema) are overwritten. current is not
// modified.
func (s *Schema) Merge(current, update State) (State, error) {
	result := current.Clone()
	for _, k := range slices.Sorted(maps.Keys(update)) {
		v := update[k]
		var f *Field
		if s != nil {
			f = s.fields[k]
		}
		if f == nil || f.Reducer == nil {
			result[k] = v
			continue
		}
		merged, err := f.Reducer(result[k], v)
		if err != nil {
			return nil, fmt.Errorf("failed to reduce key %s: %w", k, err)
		}
		result[k] = merged
	}
	return result, nil
}
