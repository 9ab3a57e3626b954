package genetics

import (
	"errors"
	"fmt"
	"math"

	"audiogene/internal/model"
	"audiogene/internal/numeric"
)

// MaxResampleAttempts bounds the rejection sampler in Mutate. When every draw
// lands outside the gene's range the last draw is clamped instead.
const MaxResampleAttempts = 1000

var (
	ErrMismatchedParents  = errors.New("parents do not share gene names")
	ErrInvalidProbability = errors.New("mutation probability must be in [0, 1]")
)

// Genetics holds the crossover and mutation operators. It is not safe for
// concurrent use because it draws from a single random source.
type Genetics struct {
	rng                 numeric.Source
	mutationProbability float64
}

func New(rng numeric.Source, mutationProbability float64) (*Genetics, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if math.IsNaN(mutationProbability) || mutationProbability < 0 || mutationProbability > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProbability, mutationProbability)
	}
	return &Genetics{rng: rng, mutationProbability: mutationProbability}, nil
}

func (g *Genetics) MutationProbability() float64 {
	return g.mutationProbability
}

// Create copies a seed gene set, rounding genes that require it. The copies
// are not mutated: a fresh population is identical to its seed.
func Create(seed model.Instructions) model.Instructions {
	out := make(model.Instructions, len(seed))
	for name, ins := range seed {
		out[name] = model.NewInstruction(name, roundWithin(ins.Expression()))
	}
	return out
}

// Combine performs uniform crossover: each gene of a is taken from a or b on
// an independent fair coin. When the gene names differ the mismatched genes
// are left out of the child and ErrMismatchedParents is returned with it.
func (g *Genetics) Combine(a, b model.Instructions) (model.Instructions, error) {
	child := make(model.Instructions, len(a))
	var missing []string
	for _, name := range a.Names() {
		other, ok := b[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if numeric.FlipCoin(g.rng) {
			child[name] = a[name]
		} else {
			child[name] = other
		}
	}
	if len(missing) > 0 || len(child) != len(b) {
		return child, fmt.Errorf("%w: only in first parent %v", ErrMismatchedParents, missing)
	}
	return child, nil
}

// Mutate resamples each gene with the configured probability. Genes that are
// not selected are shared with the input unchanged.
func (g *Genetics) Mutate(in model.Instructions) model.Instructions {
	out := make(model.Instructions, len(in))
	for _, name := range in.Names() {
		ins := in[name]
		if !numeric.EventOccurred(g.rng, g.mutationProbability) {
			out[name] = ins
			continue
		}
		out[name] = model.NewInstruction(name, g.mutateExpression(ins.Expression()))
	}
	return out
}

func (g *Genetics) mutateExpression(orig model.Expression) model.Expression {
	mutated := orig
	mutated.Current = g.resample(orig)
	return roundWithin(mutated)
}

// roundWithin rounds a gene that requires it to the nearest integer inside
// its bounds. Plain rounding can step past a fractional bound.
func roundWithin(expr model.Expression) model.Expression {
	if !expr.Round {
		return expr
	}
	expr.Current = math.Round(expr.Current)
	if expr.Current > expr.Max {
		expr.Current = math.Floor(expr.Max)
	}
	if expr.Current < expr.Min {
		expr.Current = math.Ceil(expr.Min)
	}
	return expr
}

// resample draws from Normal(current, range/6) until the draw lies inside the
// range, clamping the last draw once MaxResampleAttempts is exhausted.
func (g *Genetics) resample(expr model.Expression) float64 {
	if expr.Max <= expr.Min {
		return expr.Min
	}
	stddev := numeric.StdDev(expr.Min, expr.Max)
	var draw float64
	for attempt := 0; attempt < MaxResampleAttempts; attempt++ {
		draw = numeric.Normal(g.rng, expr.Current, stddev)
		if numeric.InRange(draw, expr.Min, expr.Max) {
			return draw
		}
	}
	return numeric.Clamp(draw, expr.Min, expr.Max)
}
