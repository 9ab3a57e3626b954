package model

import (
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord describes one performance: the configuration it started with and
// the seed conductor the population grew from.
type RunRecord struct {
	VersionedRecord
	ID                  string         `json:"id"`
	StartedAt           time.Time      `json:"started_at"`
	PopulationSize      int            `json:"population_size"`
	TopN                int            `json:"top_n"`
	MutationProbability float64        `json:"mutation_probability"`
	Selection           string         `json:"selection,omitempty"`
	Input               string         `json:"input,omitempty"`
	Seed                []GeneSnapshot `json:"seed"`
}

// GenerationRecord is the persisted outcome of one generational advance.
type GenerationRecord struct {
	VersionedRecord
	RunID        string         `json:"run_id"`
	Generation   int            `json:"generation"`
	RecordedAt   time.Time      `json:"recorded_at"`
	FittestID    uint64         `json:"fittest_id"`
	Fittest      []GeneSnapshot `json:"fittest"`
	BestFitness  float64        `json:"best_fitness"`
	MeanFitness  float64        `json:"mean_fitness"`
	MinFitness   float64        `json:"min_fitness"`
	StdDev       float64        `json:"stddev"`
	Diversity    int            `json:"diversity"`
	Stale        bool           `json:"stale"`
	MissingGenes []string       `json:"missing_genes,omitempty"`
}

// GeneSnapshot is the flattened, serializable form of an Instruction.
type GeneSnapshot struct {
	Name      string     `json:"name"`
	Min       float64    `json:"min"`
	Max       float64    `json:"max"`
	Current   float64    `json:"current"`
	Round     bool       `json:"round"`
	Activates Activation `json:"activates"`
}

// SnapshotGenes flattens an Individual's genes in name order.
func SnapshotGenes(ind Individual) []GeneSnapshot {
	out := make([]GeneSnapshot, 0, ind.Len())
	for _, name := range ind.instructions.Names() {
		ins := ind.instructions[name]
		expr := ins.Expression()
		out = append(out, GeneSnapshot{
			Name:      ins.Name(),
			Min:       expr.Min,
			Max:       expr.Max,
			Current:   expr.Current,
			Round:     expr.Round,
			Activates: expr.Activates,
		})
	}
	return out
}
