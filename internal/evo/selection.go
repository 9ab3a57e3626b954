package evo

import (
	"fmt"

	"audiogene/internal/model"
	"audiogene/internal/numeric"
)

// Selector chooses two parents from the ranked survivors of a generation.
type Selector interface {
	Name() string
	PickParents(rng numeric.Source, survivors []ScoredIndividual) (model.Individual, model.Individual, error)
}

// UniquePairSelector draws two distinct survivors uniformly. A lone
// survivor is paired with itself.
type UniquePairSelector struct{}

func (UniquePairSelector) Name() string {
	return "unique_pair"
}

func (UniquePairSelector) PickParents(rng numeric.Source, survivors []ScoredIndividual) (model.Individual, model.Individual, error) {
	if rng == nil {
		return model.Individual{}, model.Individual{}, fmt.Errorf("random source is required")
	}
	if len(survivors) == 0 {
		return model.Individual{}, model.Individual{}, fmt.Errorf("no survivors to breed from")
	}
	first, second := numeric.UniquePair(rng, len(survivors))
	return survivors[first].Individual, survivors[second].Individual, nil
}

// TournamentSelector runs two tournaments of Size random survivors each and
// keeps the fitter entrant of each, never picking the same survivor twice
// when there is more than one.
type TournamentSelector struct {
	Size int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParents(rng numeric.Source, survivors []ScoredIndividual) (model.Individual, model.Individual, error) {
	if rng == nil {
		return model.Individual{}, model.Individual{}, fmt.Errorf("random source is required")
	}
	if len(survivors) == 0 {
		return model.Individual{}, model.Individual{}, fmt.Errorf("no survivors to breed from")
	}
	size := s.Size
	if size <= 0 {
		size = 2
	}
	first := tournament(rng, survivors, size, -1)
	second := first
	if len(survivors) > 1 {
		second = tournament(rng, survivors, size, first)
	}
	return survivors[first].Individual, survivors[second].Individual, nil
}

func tournament(rng numeric.Source, survivors []ScoredIndividual, size, exclude int) int {
	best := -1
	for drawn := 0; drawn < size; {
		idx := rng.Intn(len(survivors))
		if idx == exclude {
			continue
		}
		drawn++
		if best < 0 || survivors[idx].Fitness > survivors[best].Fitness {
			best = idx
		}
	}
	return best
}

// SelectorByName resolves a configured selection strategy. An empty name
// selects UniquePairSelector.
func SelectorByName(name string, tournamentSize int) (Selector, error) {
	switch name {
	case "", UniquePairSelector{}.Name():
		return UniquePairSelector{}, nil
	case TournamentSelector{}.Name():
		return TournamentSelector{Size: tournamentSize}, nil
	default:
		return nil, fmt.Errorf("unknown selection strategy: %s", name)
	}
}
