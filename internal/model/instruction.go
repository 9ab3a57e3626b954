package model

import (
	"fmt"
	"sort"
	"strings"
)

// Activation hints when the sound engine should apply a gene change.
type Activation string

const (
	// OnBar applies the change at the next bar.
	OnBar Activation = "OnBar"
	// OverBar ramps the change over the next bar.
	OverBar Activation = "OverBar"
)

// ParseActivation maps a config string to an Activation. Unknown or empty
// values fall back to OnBar.
func ParseActivation(s string) Activation {
	switch Activation(s) {
	case OverBar:
		return OverBar
	default:
		return OnBar
	}
}

// Expression is the value of one tunable parameter and its bounds.
type Expression struct {
	Min       float64
	Max       float64
	Current   float64
	Round     bool
	Activates Activation
}

func (e Expression) String() string {
	return fmt.Sprintf("current: %g, min: %g, max: %g", e.Current, e.Min, e.Max)
}

// Validate reports a configuration error when the bounds are inverted or the
// current value lies outside them.
func (e Expression) Validate() error {
	if e.Min > e.Max {
		return fmt.Errorf("min %g greater than max %g", e.Min, e.Max)
	}
	if e.Current < e.Min || e.Current > e.Max {
		return fmt.Errorf("current %g outside [%g, %g]", e.Current, e.Min, e.Max)
	}
	return nil
}

// Instruction is a named gene. It is never modified after construction.
type Instruction struct {
	name       string
	expression Expression
}

func NewInstruction(name string, expression Expression) Instruction {
	return Instruction{name: name, expression: expression}
}

func (i Instruction) Name() string {
	return i.name
}

func (i Instruction) Expression() Expression {
	return i.expression
}

func (i Instruction) String() string {
	return fmt.Sprintf("Instruction %s: %s", i.name, i.expression)
}

// Instructions maps gene names to genes.
type Instructions map[string]Instruction

// Names returns the gene names in sorted order so that operators consume
// random numbers in a reproducible sequence.
func (in Instructions) Names() []string {
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (in Instructions) Clone() Instructions {
	out := make(Instructions, len(in))
	for name, ins := range in {
		out[name] = ins
	}
	return out
}

// SameGenes reports whether both sets carry exactly the same gene names.
func (in Instructions) SameGenes(other Instructions) bool {
	if len(in) != len(other) {
		return false
	}
	for name := range in {
		if _, ok := other[name]; !ok {
			return false
		}
	}
	return true
}

func (in Instructions) String() string {
	var b strings.Builder
	for _, name := range in.Names() {
		b.WriteString("\t")
		b.WriteString(in[name].String())
		b.WriteString("\n")
	}
	return b.String()
}
