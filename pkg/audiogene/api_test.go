package audiogene

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"audiogene/internal/stats"
	"audiogene/internal/storage"
)

const performConfig = `
population_size = 4
keep_fittest = 2
mutation_prob = 0.5
freshness_timeout = "200ms"
seed = 11

[genes.tempo]
min = 60
max = 180
current = 120
round = true

[genes.density]
min = 0
max = 1
current = 0.25
`

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audiogene.toml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newMemoryClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Options{StoreKind: "memory", ExportsDir: filepath.Join(t.TempDir(), "exports")})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestClientPerformRunsHistoryAndExport(t *testing.T) {
	client := newMemoryClient(t)
	ctx := context.Background()

	summary, err := client.Perform(ctx, PerformRequest{
		ConfigPath:     writeConfig(t, performConfig),
		DryRunInterval: time.Millisecond,
		Generations:    3,
	})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if summary.RunID == "" || summary.Generations != 3 || len(summary.Fittest) != 2 {
		t.Fatalf("unexpected perform summary: %+v", summary)
	}

	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].Generations != 3 || runs[0].Input != "silent" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	history, err := client.History(ctx, HistoryRequest{Latest: true, Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Generation != 2 || history[1].Generation != 3 {
		t.Fatalf("unexpected history: %+v", history)
	}

	exported, err := client.Export(ctx, ExportRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	series, ok, err := stats.ReadFitnessSeries(exported.Directory)
	if err != nil || !ok || len(series) != 3 {
		t.Fatalf("unexpected exported series: %v ok=%t err=%v", series, ok, err)
	}
}

func TestClientHistoryRequiresRun(t *testing.T) {
	client := newMemoryClient(t)
	ctx := context.Background()
	if _, err := client.History(ctx, HistoryRequest{}); err == nil {
		t.Fatal("expected missing run id to fail")
	}
	if _, err := client.History(ctx, HistoryRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected run id with latest to fail")
	}
	if _, err := client.History(ctx, HistoryRequest{Latest: true}); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("expected ErrNoRuns, got %v", err)
	}
	if _, err := client.History(ctx, HistoryRequest{RunID: "missing"}); !errors.Is(err, storage.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := client.Export(ctx, ExportRequest{RunID: "missing"}); !errors.Is(err, storage.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound from export, got %v", err)
	}
}

func TestClientPerformRejectsBadConfig(t *testing.T) {
	client := newMemoryClient(t)
	if _, err := client.Perform(context.Background(), PerformRequest{}); err == nil {
		t.Fatal("expected missing config path to fail")
	}
	path := writeConfig(t, "population_size = 0\n")
	if _, err := client.Perform(context.Background(), PerformRequest{ConfigPath: path}); err == nil {
		t.Fatal("expected invalid config to fail")
	}
}

func TestValidate(t *testing.T) {
	summary, err := Validate(writeConfig(t, performConfig))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if summary.PopulationSize != 4 || summary.KeepFittest != 2 || summary.Input != "none" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Seed) != 2 || summary.Seed[0].Name != "density" || summary.Seed[1].Current != 120 {
		t.Fatalf("unexpected seed: %+v", summary.Seed)
	}
}

func TestNewRejectsUnknownStore(t *testing.T) {
	if _, err := New(Options{StoreKind: "postgres"}); err == nil {
		t.Fatal("expected unknown store to fail")
	}
}
