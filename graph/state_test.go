package graph

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

func TestGet(t *testing.T) {
	s := State{"name": "ada", "count": 3}

	name, ok := Get[string](s, "name")
	assert.True(t, ok)
	assert.Equal(t, "ada", name)

	_, ok = Get[string](s, "count")
	assert.False(t, ok)

	assert.Equal(t, 7, GetOr(s, "missing", 7))
	assert.Equal(t, 3, GetOr(s, "count", 0))
}

func TestStateClone(t *testing.T) {
	var nilState State
	assert.NotNil(t, nilState.Clone())

	s := State{"a": 1}
	c := s.Clone()
	c["a"] = 2
	assert.Equal(t, 1, s["a"])
}

func TestAppendReducer(t *testing.T) {
	t.Run("nil current adopts update", func(t *testing.T) {
		out, err := AppendReducer(nil, []string{"a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, out)

		out, err = AppendReducer(nil, "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, out)
	})

	t.Run("appends element and slice", func(t *testing.T) {
		out, err := AppendReducer([]int{1}, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, out)

		out, err = AppendReducer([]int{1}, []int{2, 3})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, out)
	})

	t.Run("never aliases current", func(t *testing.T) {
		current := make([]int, 1, 10)
		current[0] = 1
		a, err := AppendReducer(current, 2)
		require.NoError(t, err)
		b, err := AppendReducer(current, 3)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, a)
		assert.Equal(t, []int{1, 3}, b)
	})

	t.Run("rejects mismatched element", func(t *testing.T) {
		_, err := AppendReducer([]int{1}, "x")
		assert.Error(t, err)
	})

	t.Run("nil update keeps current", func(t *testing.T) {
		out, err := AppendReducer([]int{1}, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, out)
	})
}

func TestSchema(t *testing.T) {
	schema := NewSchema(
		FieldOf[string]("email"),
		FieldOf[int]("attempts", WithDefault(0)),
		AppendField[note]("notes"),
		FieldOf[any]("payload"),
	)

	t.Run("init uses defaults", func(t *testing.T) {
		assert.Equal(t, State{"attempts": 0}, schema.Init())
	})

	t.Run("check accepts declared types", func(t *testing.T) {
		assert.Empty(t, schema.Check(State{"email": "x", "attempts": 2}))
		assert.Empty(t, schema.Check(State{"notes": note{Text: "one"}}))
		assert.Empty(t, schema.Check(State{"notes": []note{{Text: "one"}}}))
		assert.Empty(t, schema.Check(State{"payload": 3.5, "notes": nil}))
	})

	t.Run("check rejects undeclared and mistyped fields", func(t *testing.T) {
		reason := schema.Check(State{"email": 42, "bogus": true})
		assert.Contains(t, reason, "undeclared fields: bogus")
		assert.Contains(t, reason, "field email: expected string, got int")

		assert.NotEmpty(t, schema.Check(State{"attempts": nil}))
	})

	t.Run("merge overwrites and appends", func(t *testing.T) {
		current := State{"email": "old", "attempts": 1}
		merged, err := schema.Merge(current, State{"email": "new", "notes": note{Text: "a"}})
		require.NoError(t, err)
		merged, err = schema.Merge(merged, State{"notes": []note{{Text: "b"}, {Text: "c"}}})
		require.NoError(t, err)

		assert.Equal(t, "new", merged["email"])
		assert.Equal(t, 1, merged["attempts"])
		assert.Equal(t, []note{{Text: "a"}, {Text: "b"}, {Text: "c"}}, merged["notes"])
		assert.Equal(t, "old", current["email"], "current is not modified")
	})

	t.Run("field types are registered for persistence", func(t *testing.T) {
		_, ok := store.GlobalTypeRegistry().GetTypeName(reflect.TypeFor[note]())
		assert.True(t, ok)
		_, ok = store.GlobalTypeRegistry().GetTypeName(reflect.TypeFor[[]note]())
		assert.True(t, ok)
	})

	t.Run("fields keep declaration order", func(t *testing.T) {
		var names []string
		for _, f := range schema.Fields() {
			names = append(names, f.Name)
		}
		assert.Equal(t, []string{"email", "attempts", "notes", "payload"}, names)
	})
}

func TestNilSchemaOverwrites(t *testing.T) {
	var schema *Schema
	assert.Empty(t, schema.Check(State{"anything": 1}))

	merged, err := schema.Merge(State{"a": []int{1}}, State{"a": []int{2}, "b": true})
	require.NoError(t, err)
	assert.Equal(t, State{"a": []int{2}, "b": true}, merged)
}

func TestCustomReducer(t *testing.T) {
	sum := func(current, update any) (any, error) {
		c, _ := current.(int)
		return c + update.(int), nil
	}
	schema := NewSchema(FieldOf[int]("total", WithReducer(sum)))

	merged, err := schema.Merge(State{}, State{"total": 2})
	require.NoError(t, err)
	merged, err = schema.Merge(merged, State{"total": 5})
	require.NoError(t, err)
	assert.Equal(t, 7, merged["total"])
}

type renamedTicket struct {
	ID string `json:"id"`
}

func TestFieldOf_ReportsRegistrationConflict(t *testing.T) {
	require.NoError(t, store.GlobalTypeRegistry().Register(reflect.TypeOf(renamedTicket{}), "tickets.v1"))

	var buf bytes.Buffer
	prev := log.GetDefaultLogger()
	log.SetDefaultLogger(log.NewCustomLogger(&buf, log.LogLevelDebug))
	t.Cleanup(func() { log.SetDefaultLogger(prev) })

	f := FieldOf[renamedTicket]("ticket")
	assert.Equal(t, reflect.TypeOf(renamedTicket{}), f.Type)
	assert.Contains(t, buf.String(), "already registered as tickets.v1")

	name, ok := store.GlobalTypeRegistry().GetTypeName(f.Type)
	require.True(t, ok)
	assert.Equal(t, "tickets.v1", name)
}
