package emitter

import (
	"slices"
	"sort"
	"testing"
)

func TestEmitter_EmitOrder(t *testing.T) {
	e := New[string](nil)

	var got []string
	e.On("a", func(v string) { got = append(got, "first:"+v) })
	e.On("a", func(v string) { got = append(got, "second:"+v) })
	e.On("b", func(v string) { got = append(got, "b:"+v) })

	if n := e.Emit("a", "x"); n != 2 {
		t.Errorf("Emit() = %d, want 2", n)
	}

	want := []string{"first:x", "second:x"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEmitter_OffAndClear(t *testing.T) {
	e := New[int](nil)
	calls := 0
	e.On("a", func(int) { calls++ })
	e.On("b", func(int) { calls++ })

	e.Off("a")
	if e.Has("a") {
		t.Error("Has(a) = true after Off")
	}
	e.Emit("a", 1)
	e.Emit("b", 1)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	e.Clear()
	if n := e.Emit("b", 1); n != 0 {
		t.Errorf("Emit() after Clear = %d, want 0", n)
	}
}

func TestEmitter_Executor(t *testing.T) {
	var tasks []func()
	e := New[int](func(task func()) { tasks = append(tasks, task) })

	got := 0
	e.On("a", func(v int) { got = v })
	e.Emit("a", 7)

	if got != 0 {
		t.Fatal("listener ran before executor task")
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	tasks[0]()
	if got != 7 {
		t.Errorf("got = %d, want 7", got)
	}
}

func TestEmitter_Events(t *testing.T) {
	e := New[int](nil)
	e.On("x", func(int) {})
	e.On("y", func(int) {})
	e.On("z", nil)

	names := e.Events()
	sort.Strings(names)
	if !slices.Equal(names, []string{"x", "y"}) {
		t.Errorf("Events() = %v", names)
	}
}
