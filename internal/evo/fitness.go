package evo

import (
	"math"
	"sort"

	"audiogene/internal/model"
	"audiogene/internal/numeric"
)

type ScoredIndividual struct {
	Individual model.Individual
	Fitness    float64
}

// Similarity sums the per-gene similarity of ind to the audience's
// preferences. Genes without a preference are skipped and returned in
// missing, in name order.
func Similarity(ind model.Individual, prefs model.Preferences) (score float64, missing []string) {
	genes := ind.Instructions()
	for _, name := range genes.Names() {
		pref, ok := prefs[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		expr := genes[name].Expression()
		score += numeric.Similarity(pref.Current, expr.Current, expr.Min, expr.Max)
	}
	return score, missing
}

// Fitness is the mean per-gene similarity. Missing genes count as zero.
func Fitness(ind model.Individual, prefs model.Preferences) (float64, []string) {
	score, missing := Similarity(ind, prefs)
	if ind.Len() == 0 {
		return 0, missing
	}
	return score / float64(ind.Len()), missing
}

// rank scores every individual against prefs and sorts them best first.
// Equal scores keep their previous order and NaN scores sort last. The
// returned names are the union of genes that had no preference.
func rank(individuals []model.Individual, prefs model.Preferences) ([]ScoredIndividual, []string) {
	scored := make([]ScoredIndividual, len(individuals))
	missingSet := map[string]struct{}{}
	for i, ind := range individuals {
		fitness, missing := Fitness(ind, prefs)
		scored[i] = ScoredIndividual{Individual: ind, Fitness: fitness}
		for _, name := range missing {
			missingSet[name] = struct{}{}
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return fitterThan(scored[i].Fitness, scored[j].Fitness)
	})

	if len(missingSet) == 0 {
		return scored, nil
	}
	missing := make([]string, 0, len(missingSet))
	for name := range missingSet {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return scored, missing
}

func fitterThan(a, b float64) bool {
	if math.IsNaN(b) {
		return !math.IsNaN(a)
	}
	return a > b
}
