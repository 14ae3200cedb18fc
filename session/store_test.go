package session

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/chazu/bytelox/vm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	globals := map[string]vm.Value{
		"n":    vm.Number(1.5),
		"t":    vm.Bool(true),
		"f":    vm.Bool(false),
		"none": vm.Nil,
		"s":    vm.String("hello"),
	}

	id, err := s.Save(ctx, "work", globals)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" {
		t.Fatal("Save returned an empty id")
	}

	got, err := s.Load(ctx, "work")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(globals) {
		t.Fatalf("Load returned %d globals, want %d", len(got), len(globals))
	}
	for name, want := range globals {
		if !got[name].Equal(want) {
			t.Errorf("%s = %#v, want %#v", name, got[name], want)
		}
	}
}

func TestSaveReplacesAndKeepsID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id1, err := s.Save(ctx, "work", map[string]vm.Value{"a": vm.Number(1), "b": vm.Number(2)})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Save(ctx, "work", map[string]vm.Value{"a": vm.Number(3)})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("session id changed across saves: %s -> %s", id1, id2)
	}

	got, err := s.Load(ctx, "work")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got["a"].Equal(vm.Number(3)) {
		t.Errorf("Load after resave = %v", got)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Save(ctx, "b", map[string]vm.Value{"x": vm.Nil}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, "a", nil); err != nil {
		t.Fatal(err)
	}

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "a" || infos[1].Name != "b" {
		t.Fatalf("List = %+v", infos)
	}
	if infos[0].Globals != 0 || infos[1].Globals != 1 {
		t.Errorf("global counts = %d, %d", infos[0].Globals, infos[1].Globals)
	}
	if infos[1].Updated.IsZero() {
		t.Error("Updated should be set")
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, "b"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Load(deleted) = %v, want ErrSessionNotFound", err)
	}
	if err := s.Delete(ctx, "b"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Delete(deleted) = %v, want ErrSessionNotFound", err)
	}
}

func TestSaveRequiresName(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Save(context.Background(), "", nil); err == nil {
		t.Error("Save with empty name should fail")
	}
}

func TestMemoryStore(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Save(ctx, "tmp", map[string]vm.Value{"a": vm.Number(1)}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx, "tmp")
	if err != nil || !got["a"].Equal(vm.Number(1)) {
		t.Errorf("Load = %v, %v", got, err)
	}
}

func TestValueEncoding(t *testing.T) {
	for _, v := range []vm.Value{vm.Nil, vm.Bool(true), vm.Bool(false), vm.Number(-2), vm.String("")} {
		row, err := encodeValue(v)
		if err != nil {
			t.Fatalf("encodeValue(%#v): %v", v, err)
		}
		back, err := decodeValue(row)
		if err != nil || !back.Equal(v) {
			t.Errorf("decodeValue(encodeValue(%#v)) = %#v, %v", v, back, err)
		}
	}
	if _, err := decodeValue(valueRow{kind: 42}); err == nil {
		t.Error("unknown kind should fail")
	}
}

func TestValueEncoding_NonFinite(t *testing.T) {
	tests := []struct {
		value float64
		check func(float64) bool
	}{
		{math.NaN(), math.IsNaN},
		{math.Inf(1), func(f float64) bool { return math.IsInf(f, 1) }},
		{math.Inf(-1), func(f float64) bool { return math.IsInf(f, -1) }},
	}
	for _, tt := range tests {
		row, err := encodeValue(vm.Number(tt.value))
		if err != nil {
			t.Fatalf("encodeValue(%v): %v", tt.value, err)
		}
		if row.num != 0 {
			t.Errorf("encodeValue(%v).num = %v, want 0", tt.value, row.num)
		}
		back, err := decodeValue(row)
		if err != nil || !back.IsNumber() || !tt.check(back.AsNumber()) {
			t.Errorf("decodeValue(encodeValue(%v)) = %#v, %v", tt.value, back, err)
		}
	}
	if _, err := decodeValue(valueRow{kind: int(vm.KindNumber), str: "huge"}); err == nil {
		t.Error("unknown number text should fail")
	}
}

func TestSaveNonFiniteGlobals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	globals := map[string]vm.Value{
		"x": vm.Number(math.NaN()),
		"y": vm.Number(1),
		"z": vm.Number(math.Inf(-1)),
	}
	if _, err := s.Save(ctx, "nan", globals); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "nan")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Load returned %d globals, want 3", len(got))
	}
	if !math.IsNaN(got["x"].AsNumber()) || got["y"].AsNumber() != 1 || !math.IsInf(got["z"].AsNumber(), -1) {
		t.Errorf("Load = %#v", got)
	}
}
