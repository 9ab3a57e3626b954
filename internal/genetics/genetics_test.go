package genetics

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"audiogene/internal/model"
)

// stuckSource always draws far outside any gene range.
type stuckSource struct {
	norm float64
}

func (s stuckSource) Float64() float64     { return 0 }
func (s stuckSource) NormFloat64() float64 { return s.norm }
func (s stuckSource) Intn(int) int         { return 0 }

func seedInstructions() model.Instructions {
	return model.Instructions{
		"A": model.NewInstruction("A", model.Expression{Min: 0, Max: 10, Current: 5, Round: true}),
		"B": model.NewInstruction("B", model.Expression{Min: 0, Max: 1, Current: 0.5}),
	}
}

func randomInstructions(rng *rand.Rand, n int) model.Instructions {
	out := make(model.Instructions, n)
	for i := 0; i < n; i++ {
		lo := rng.Float64()*200 - 100
		hi := lo + rng.Float64()*50
		round := rng.Intn(2) == 0
		if round {
			lo = math.Floor(lo)
			hi = math.Ceil(hi) + 1
		}
		cur := lo + rng.Float64()*(hi-lo)
		if round {
			cur = math.Round(cur)
		}
		name := string(rune('a' + i))
		out[name] = model.NewInstruction(name, model.Expression{Min: lo, Max: hi, Current: cur, Round: round})
	}
	return out
}

func TestNewRejectsInvalidProbability(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, p := range []float64{-0.1, 1.5, math.NaN()} {
		if _, err := New(rng, p); !errors.Is(err, ErrInvalidProbability) {
			t.Fatalf("p=%v: expected ErrInvalidProbability, got %v", p, err)
		}
	}
	if _, err := New(nil, 0.5); err == nil {
		t.Fatal("expected missing random source to fail")
	}
}

func TestCreateCopiesAndRounds(t *testing.T) {
	seed := model.Instructions{
		"A": model.NewInstruction("A", model.Expression{Min: 0, Max: 10, Current: 4.6, Round: true}),
		"B": model.NewInstruction("B", model.Expression{Min: 0, Max: 1, Current: 0.25}),
	}
	created := Create(seed)
	if created["A"].Expression().Current != 5 {
		t.Fatalf("expected rounded A=5, got %v", created["A"].Expression().Current)
	}
	if created["B"].Expression().Current != 0.25 {
		t.Fatalf("expected B copied unchanged, got %v", created["B"].Expression().Current)
	}
	if seed["A"].Expression().Current != 4.6 {
		t.Fatal("create must not touch the seed")
	}
}

func TestCreateRoundsWithinFractionalBounds(t *testing.T) {
	cases := []struct {
		name string
		expr model.Expression
		want float64
	}{
		{name: "near fractional max", expr: model.Expression{Min: 0, Max: 5.7, Current: 5.6, Round: true}, want: 5},
		{name: "near fractional min", expr: model.Expression{Min: 0.3, Max: 4, Current: 0.4, Round: true}, want: 1},
		{name: "single integer", expr: model.Expression{Min: 1.6, Max: 2.4, Current: 2.3, Round: true}, want: 2},
		{name: "already integral", expr: model.Expression{Min: 0.5, Max: 9.5, Current: 7, Round: true}, want: 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			created := Create(model.Instructions{"A": model.NewInstruction("A", tc.expr)})
			got := created["A"].Expression()
			if got.Current != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got.Current)
			}
			if got.Current < got.Min || got.Current > got.Max {
				t.Fatalf("created %v outside [%v, %v]", got.Current, got.Min, got.Max)
			}
		})
	}
}

func TestCreateKeepsBoundsForRandomSeeds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		lo := rng.Float64()*100 - 50
		hi := math.Ceil(lo) + rng.Float64()*10
		cur := lo + rng.Float64()*(hi-lo)
		expr := model.Expression{Min: lo, Max: hi, Current: cur, Round: true}
		got := Create(model.Instructions{"A": model.NewInstruction("A", expr)})["A"].Expression()
		if got.Current < lo || got.Current > hi {
			t.Fatalf("seed %+v: created %v outside bounds", expr, got.Current)
		}
		if got.Current != math.Trunc(got.Current) {
			t.Fatalf("seed %+v: created %v is not an integer", expr, got.Current)
		}
	}
}

func TestCombinePreservesGeneNames(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	g, err := New(rng, 0)
	if err != nil {
		t.Fatalf("new genetics: %v", err)
	}
	for trial := 0; trial < 200; trial++ {
		a := randomInstructions(rng, 6)
		b := make(model.Instructions, len(a))
		for name, ins := range a {
			expr := ins.Expression()
			expr.Current = expr.Min
			b[name] = model.NewInstruction(name, expr)
		}
		child, err := g.Combine(a, b)
		if err != nil {
			t.Fatalf("combine: %v", err)
		}
		if !reflect.DeepEqual(child.Names(), a.Names()) {
			t.Fatalf("child genes %v differ from parent genes %v", child.Names(), a.Names())
		}
		for name, ins := range child {
			cur := ins.Expression().Current
			if cur != a[name].Expression().Current && cur != b[name].Expression().Current {
				t.Fatalf("gene %s=%v came from neither parent", name, cur)
			}
		}
	}
}

func TestCombineDrawsFromBothParents(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	g, _ := New(rng, 0)
	a := model.Instructions{}
	b := model.Instructions{}
	for i := 0; i < 32; i++ {
		name := string(rune('A' + i))
		a[name] = model.NewInstruction(name, model.Expression{Min: 0, Max: 1, Current: 0})
		b[name] = model.NewInstruction(name, model.Expression{Min: 0, Max: 1, Current: 1})
	}
	child, err := g.Combine(a, b)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	fromA, fromB := 0, 0
	for _, ins := range child {
		if ins.Expression().Current == 0 {
			fromA++
		} else {
			fromB++
		}
	}
	if fromA == 0 || fromB == 0 {
		t.Fatalf("expected uniform crossover to mix parents, got fromA=%d fromB=%d", fromA, fromB)
	}
}

func TestCombineMismatchedParentsSkipsGenes(t *testing.T) {
	g, _ := New(rand.New(rand.NewSource(1)), 0)
	a := seedInstructions()
	b := model.Instructions{
		"A": model.NewInstruction("A", model.Expression{Min: 0, Max: 10, Current: 1}),
		"C": model.NewInstruction("C", model.Expression{Min: 0, Max: 10, Current: 1}),
	}
	child, err := g.Combine(a, b)
	if !errors.Is(err, ErrMismatchedParents) {
		t.Fatalf("expected ErrMismatchedParents, got %v", err)
	}
	if len(child) != 1 {
		t.Fatalf("expected only the shared gene, got %v", child.Names())
	}
	if _, ok := child["A"]; !ok {
		t.Fatal("expected shared gene A in child")
	}
}

func TestCombineDetectsExtraGenesInSecondParent(t *testing.T) {
	g, _ := New(rand.New(rand.NewSource(1)), 0)
	a := model.Instructions{"A": model.NewInstruction("A", model.Expression{Max: 1})}
	b := seedInstructions()
	if _, err := g.Combine(a, b); !errors.Is(err, ErrMismatchedParents) {
		t.Fatalf("expected ErrMismatchedParents, got %v", err)
	}
}

func TestMutateKeepsBoundsAndRounding(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	g, err := New(rng, 1)
	if err != nil {
		t.Fatalf("new genetics: %v", err)
	}
	for trial := 0; trial < 300; trial++ {
		in := randomInstructions(rng, 5)
		out := g.Mutate(in)
		if !reflect.DeepEqual(out.Names(), in.Names()) {
			t.Fatalf("mutation changed gene names: %v", out.Names())
		}
		for name, ins := range out {
			expr := ins.Expression()
			if expr.Current < expr.Min || expr.Current > expr.Max {
				t.Fatalf("gene %s out of bounds: %s", name, expr)
			}
			if expr.Round && expr.Current != math.Round(expr.Current) {
				t.Fatalf("gene %s not rounded: %v", name, expr.Current)
			}
			if expr.Min != in[name].Expression().Min || expr.Max != in[name].Expression().Max {
				t.Fatalf("gene %s bounds changed", name)
			}
		}
	}
}

func TestMutateZeroProbabilityPassesThrough(t *testing.T) {
	g, _ := New(rand.New(rand.NewSource(1)), 0)
	in := seedInstructions()
	out := g.Mutate(in)
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("expected unchanged genes, got %v", out)
	}
}

func TestMutateFullProbabilityChangesEveryContinuousGene(t *testing.T) {
	g, _ := New(rand.New(rand.NewSource(12)), 1)
	in := model.Instructions{
		"x": model.NewInstruction("x", model.Expression{Min: 0, Max: 1, Current: 0.5}),
		"y": model.NewInstruction("y", model.Expression{Min: -5, Max: 5, Current: 0}),
	}
	for i := 0; i < 50; i++ {
		out := g.Mutate(in)
		for name := range in {
			if out[name].Expression().Current == in[name].Expression().Current {
				t.Fatalf("gene %s unchanged under probability 1", name)
			}
		}
	}
}

func TestMutateFallsBackToClamp(t *testing.T) {
	g, _ := New(stuckSource{norm: 1000}, 1)
	in := model.Instructions{
		"x": model.NewInstruction("x", model.Expression{Min: 0, Max: 6, Current: 3}),
	}
	out := g.Mutate(in)
	if got := out["x"].Expression().Current; got != 6 {
		t.Fatalf("expected clamp to max 6, got %v", got)
	}

	g, _ = New(stuckSource{norm: -1000}, 1)
	out = g.Mutate(in)
	if got := out["x"].Expression().Current; got != 0 {
		t.Fatalf("expected clamp to min 0, got %v", got)
	}
}

func TestMutateDegenerateRange(t *testing.T) {
	g, _ := New(rand.New(rand.NewSource(1)), 1)
	in := model.Instructions{
		"fixed": model.NewInstruction("fixed", model.Expression{Min: 4, Max: 4, Current: 4}),
	}
	if got := g.Mutate(in)["fixed"].Expression().Current; got != 4 {
		t.Fatalf("expected degenerate gene to stay 4, got %v", got)
	}
}

func TestOperatorsDeterministicUnderFixedSeed(t *testing.T) {
	run := func() []model.Instructions {
		g, _ := New(rand.New(rand.NewSource(77)), 0.5)
		a := Create(seedInstructions())
		b := g.Mutate(a)
		var out []model.Instructions
		for i := 0; i < 10; i++ {
			child, err := g.Combine(a, b)
			if err != nil {
				t.Fatalf("combine: %v", err)
			}
			child = g.Mutate(child)
			out = append(out, child)
			a, b = b, child
		}
		return out
	}
	first, second := run(), run()
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected identical sequences under the same seed")
	}
}
