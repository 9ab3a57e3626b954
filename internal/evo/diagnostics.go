package evo

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"audiogene/internal/model"
)

type GenerationDiagnostics struct {
	Generation    int     `json:"generation"`
	BestFitness   float64 `json:"best_fitness"`
	MeanFitness   float64 `json:"mean_fitness"`
	MinFitness    float64 `json:"min_fitness"`
	StdDevFitness float64 `json:"stddev_fitness"`
	// Diversity counts distinct gene vectors in the population.
	Diversity int `json:"diversity"`
}

func summarizeGeneration(scored []ScoredIndividual, generation int) GenerationDiagnostics {
	if len(scored) == 0 {
		return GenerationDiagnostics{Generation: generation}
	}

	fitness := make([]float64, len(scored))
	minFitness := scored[0].Fitness
	fingerprints := make(map[string]struct{}, len(scored))
	for i, item := range scored {
		fitness[i] = item.Fitness
		if item.Fitness < minFitness {
			minFitness = item.Fitness
		}
		fingerprints[fingerprint(item.Individual)] = struct{}{}
	}

	mean, stddev := stat.MeanStdDev(fitness, nil)
	if len(fitness) < 2 {
		stddev = 0
	}
	return GenerationDiagnostics{
		Generation:    generation,
		BestFitness:   scored[0].Fitness,
		MeanFitness:   mean,
		MinFitness:    minFitness,
		StdDevFitness: stddev,
		Diversity:     len(fingerprints),
	}
}

func fingerprint(ind model.Individual) string {
	genes := ind.Instructions()
	var b strings.Builder
	for _, name := range genes.Names() {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(genes[name].Expression().Current, 'g', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}
