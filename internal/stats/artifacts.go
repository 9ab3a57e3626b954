package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"audiogene/internal/model"
)

const (
	runFile         = "run.json"
	generationsFile = "generations.json"
	seriesFile      = "fitness_series.csv"
)

var seriesHeader = []string{"generation", "best_fitness", "mean_fitness", "min_fitness", "stddev", "diversity", "stale"}

// SeriesPoint is one row of the exported fitness series.
type SeriesPoint struct {
	Generation int
	Best       float64
	Mean       float64
	Min        float64
	StdDev     float64
	Diversity  int
	Stale      bool
}

// WriteRunArtifacts exports a performance's history under outDir/<run id>
// and returns that directory.
func WriteRunArtifacts(outDir string, run model.RunRecord, generations []model.GenerationRecord) (string, error) {
	if run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(outDir, run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, runFile), run); err != nil {
		return "", err
	}
	if generations == nil {
		generations = []model.GenerationRecord{}
	}
	if err := writeJSON(filepath.Join(runDir, generationsFile), generations); err != nil {
		return "", err
	}
	if err := WriteFitnessSeries(runDir, generations); err != nil {
		return "", err
	}
	return runDir, nil
}

func WriteFitnessSeries(runDir string, generations []model.GenerationRecord) error {
	file, err := os.Create(filepath.Join(runDir, seriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(seriesHeader); err != nil {
		return err
	}
	for _, g := range generations {
		if err := writer.Write([]string{
			strconv.Itoa(g.Generation),
			formatFloat(g.BestFitness),
			formatFloat(g.MeanFitness),
			formatFloat(g.MinFitness),
			formatFloat(g.StdDev),
			strconv.Itoa(g.Diversity),
			strconv.FormatBool(g.Stale),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadFitnessSeries loads the series written by WriteFitnessSeries. A missing
// file reports ok=false.
func ReadFitnessSeries(runDir string) ([]SeriesPoint, bool, error) {
	file, err := os.Open(filepath.Join(runDir, seriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []SeriesPoint{}, true, nil
		}
		return nil, false, err
	}
	if len(header) != len(seriesHeader) {
		return nil, false, fmt.Errorf("fitness series header must have %d columns", len(seriesHeader))
	}

	series := make([]SeriesPoint, 0, 64)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, err
		}
		point, err := parsePoint(record)
		if err != nil {
			return nil, false, err
		}
		series = append(series, point)
	}
	return series, true, nil
}

func parsePoint(record []string) (SeriesPoint, error) {
	var (
		p   SeriesPoint
		err error
	)
	if p.Generation, err = strconv.Atoi(record[0]); err != nil {
		return SeriesPoint{}, err
	}
	floats := []*float64{&p.Best, &p.Mean, &p.Min, &p.StdDev}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(record[i+1], 64); err != nil {
			return SeriesPoint{}, err
		}
	}
	if p.Diversity, err = strconv.Atoi(record[5]); err != nil {
		return SeriesPoint{}, err
	}
	if p.Stale, err = strconv.ParseBool(record[6]); err != nil {
		return SeriesPoint{}, err
	}
	return p, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
