package model

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var ErrUnknownInstruction = errors.New("unknown instruction")

// Individual is one complete conductor. Its genes are never modified; genetic
// operators always produce a new Individual.
type Individual struct {
	id           uint64
	instructions Instructions
}

// NewIndividual takes ownership of instructions; callers must not modify the
// map afterwards.
func NewIndividual(id uint64, instructions Instructions) Individual {
	return Individual{id: id, instructions: instructions}
}

// ID is diagnostic only. It plays no part in equality or selection.
func (i Individual) ID() uint64 {
	return i.id
}

// Instructions returns a copy of the gene map.
func (i Individual) Instructions() Instructions {
	return i.instructions.Clone()
}

func (i Individual) Instruction(name string) (Instruction, error) {
	ins, ok := i.instructions[name]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: %s", ErrUnknownInstruction, name)
	}
	return ins, nil
}

func (i Individual) Len() int {
	return len(i.instructions)
}

func (i Individual) String() string {
	return fmt.Sprintf("Individual %d\n%s", i.id, i.instructions)
}

// IDGenerator hands out monotonically increasing individual ids. The zero
// value starts at 0.
type IDGenerator struct {
	next atomic.Uint64
}

func (g *IDGenerator) Next() uint64 {
	return g.next.Add(1) - 1
}
