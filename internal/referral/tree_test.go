package referral

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
)

func TestBuildScenario(t *testing.T) {
	d := newMemDirectory()
	d.add("A", "")
	d.add("B", "A")
	d.add("C", "B")

	got, err := NewTreeBuilder(d).Build(context.Background(), ptr("A"), MaxDepth)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries want 2", len(got))
	}
	if got[0].ID != "B" || got[0].Level != 1 {
		t.Fatalf("first entry=%s@%d want B@1", got[0].ID, got[0].Level)
	}
	if got[1].ID != "C" || got[1].Level != 2 {
		t.Fatalf("second entry=%s@%d want C@2", got[1].ID, got[1].Level)
	}
}

func TestBuildDepthValidation(t *testing.T) {
	d := newMemDirectory()
	d.add("A", "")
	b := NewTreeBuilder(d)

	tests := []struct {
		name    string
		depth   int
		wantErr bool
	}{
		{"max", MaxDepth, false},
		{"one over", MaxDepth + 1, true},
		{"zero", 0, true},
		{"negative", -3, true},
		{"one", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), ptr("A"), tt.depth)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr && !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestBuildExcludesRootAndRespectsDepth(t *testing.T) {
	d := newMemDirectory()
	chain(d, 10)

	got, err := NewTreeBuilder(d).Build(context.Background(), ptr("u03"), 4)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{"u04", "u05", "u06", "u07"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.ID != want[i] || e.Level != i+1 {
			t.Fatalf("entry %d = %s@%d want %s@%d", i, e.ID, e.Level, want[i], i+1)
		}
	}
}

func TestBuildUnknownRoot(t *testing.T) {
	d := newMemDirectory()
	d.add("A", "")
	got, err := NewTreeBuilder(d).Build(context.Background(), ptr("nobody"), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d entries", len(got))
	}
}

func TestBuildForestRoots(t *testing.T) {
	d := newMemDirectory()
	d.add("R1", "")
	d.add("R2", "")
	d.add("R3", "")

	got, err := NewTreeBuilder(d).Build(context.Background(), nil, 5)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries want 3", len(got))
	}
	for i, want := range []string{"R1", "R2", "R3"} {
		if got[i].ID != want || got[i].Level != 1 {
			t.Fatalf("entry %d = %s@%d want %s@1", i, got[i].ID, got[i].Level, want)
		}
	}
}

func TestBuildForestLevelsRelativeToOwnRoot(t *testing.T) {
	d := newMemDirectory()
	d.add("R1", "")
	d.add("R2", "")
	d.add("a", "R1")
	d.add("b", "a")
	d.add("c", "R2")

	got, err := NewTreeBuilder(d).Build(context.Background(), nil, 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !reflect.DeepEqual(entryIDs(got), []string{"R1", "R2"}) {
		t.Fatalf("depth 1 = %v want only roots", entryIDs(got))
	}
	for _, e := range got {
		if e.Level != 1 {
			t.Fatalf("%s at level %d want 1", e.ID, e.Level)
		}
	}

	got, err = NewTreeBuilder(d).Build(context.Background(), nil, MaxDepth)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	levels := map[string]int{}
	for _, e := range got {
		levels[e.ID] = e.Level
	}
	want := map[string]int{"R1": 1, "R2": 1, "a": 2, "c": 2, "b": 3}
	if !reflect.DeepEqual(levels, want) {
		t.Fatalf("levels=%v want %v", levels, want)
	}
}

func TestBuildStableOrdering(t *testing.T) {
	d := newMemDirectory()
	d.add("root", "")
	d.add("x", "root")
	d.add("y", "root")
	d.add("x2", "x")
	d.add("x1", "x")
	d.add("y1", "y")
	b := NewTreeBuilder(d)

	first, err := b.Build(context.Background(), ptr("root"), MaxDepth)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	d.reverse = true
	second, err := b.Build(context.Background(), ptr("root"), MaxDepth)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := []string{"x", "y", "x1", "x2", "y1"}
	if !reflect.DeepEqual(entryIDs(first), want) {
		t.Fatalf("order=%v want %v", entryIDs(first), want)
	}
	if !reflect.DeepEqual(entryIDs(second), want) {
		t.Fatalf("order changed with store row order: %v", entryIDs(second))
	}
}

func TestBuildRandomForestLevels(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d := newMemDirectory()
	depthOf := map[string]int{}
	var ids []string
	for i := 0; i < 400; i++ {
		id := fmt.Sprintf("n%03d", i)
		if len(ids) == 0 || rng.Intn(10) == 0 {
			d.add(id, "")
			depthOf[id] = 1
		} else {
			parent := ids[rng.Intn(len(ids))]
			d.add(id, parent)
			depthOf[id] = depthOf[parent] + 1
		}
		ids = append(ids, id)
	}

	for _, depth := range []int{1, 3, 7, MaxDepth} {
		got, err := NewTreeBuilder(d).Build(context.Background(), nil, depth)
		if err != nil {
			t.Fatalf("build depth %d: %v", depth, err)
		}
		seen := map[string]bool{}
		prev := 0
		for _, e := range got {
			if seen[e.ID] {
				t.Fatalf("duplicate entry %s", e.ID)
			}
			seen[e.ID] = true
			if e.Level > depth {
				t.Fatalf("entry %s at level %d exceeds depth %d", e.ID, e.Level, depth)
			}
			if e.Level < prev {
				t.Fatalf("levels not non-decreasing at %s", e.ID)
			}
			prev = e.Level
			if e.Level != depthOf[e.ID] {
				t.Fatalf("entry %s level %d want %d", e.ID, e.Level, depthOf[e.ID])
			}
		}
		for id, dep := range depthOf {
			if dep <= depth && !seen[id] {
				t.Fatalf("depth %d: missing %s at level %d", depth, id, dep)
			}
		}
	}
}

func TestBuildStoreError(t *testing.T) {
	d := newMemDirectory()
	d.add("A", "")
	d.failFind["A"] = true

	_, err := NewTreeBuilder(d).Build(context.Background(), ptr("A"), 3)
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func entryIDs(es []TreeEntry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func TestBuildWideFrontierAcrossBatches(t *testing.T) {
	const width = 1200
	d := newMemDirectory()
	d.add("root", "")
	var children, grandchildren []string
	for i := 0; i < width; i++ {
		c := fmt.Sprintf("c%04d", i)
		g := fmt.Sprintf("g%04d", i)
		d.add(c, "root")
		d.add(g, c)
		children = append(children, c)
		grandchildren = append(grandchildren, g)
	}

	got, err := NewTreeBuilder(d).Build(context.Background(), ptr("root"), 3)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(got) != 2*width {
		t.Fatalf("got %d entries want %d", len(got), 2*width)
	}
	if !reflect.DeepEqual(entryIDs(got[:width]), children) {
		t.Fatalf("level 1 out of order")
	}
	if !reflect.DeepEqual(entryIDs(got[width:]), grandchildren) {
		t.Fatalf("level 2 not in sponsor order across batches")
	}
	for i, e := range got {
		want := 1
		if i >= width {
			want = 2
		}
		if e.Level != want {
			t.Fatalf("%s at level %d want %d", e.ID, e.Level, want)
		}
	}

	// One lookup for the root, three batches for each wider level.
	wantBatches := []int{1, 500, 500, 200, 500, 500, 200}
	if !reflect.DeepEqual(d.batches, wantBatches) {
		t.Fatalf("lookup batches=%v want %v", d.batches, wantBatches)
	}
}
