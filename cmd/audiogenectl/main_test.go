package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const cliConfig = `
population_size = 4
keep_fittest = 2
mutation_prob = 0.4
freshness_timeout = "200ms"
seed = 5

[genes.tempo]
min = 60
max = 180
current = 120
round = true
activates = "OnBar"
`

func writeCLIConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audiogene.toml")
	if err := os.WriteFile(path, []byte(cliConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunRequiresKnownCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("expected missing command error, got %v", err)
	}
	if err := run(context.Background(), []string{"conduct"}); err == nil || !strings.Contains(err.Error(), "unknown command: conduct") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"validate", "--config", writeCLIConfig(t)})
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "config ok: population=4 keep_fittest=2 input=none") {
		t.Fatalf("unexpected validate output: %q", out)
	}
	if !strings.Contains(out, "tempo current=120 min=60 max=180 round=true activates=OnBar") {
		t.Fatalf("expected seed gene in output: %q", out)
	}
	if err := run(context.Background(), []string{"validate"}); err == nil {
		t.Fatal("expected validate without --config to fail")
	}
}

func TestPerformCommandDryRun(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "perform.log")
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"perform",
			"--config", writeCLIConfig(t),
			"--store", "memory",
			"--dry-run-interval", "1ms",
			"--generations", "2",
			"--log", logPath,
			"--log-format", "json",
		})
	})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if !strings.Contains(out, "generations=2") || !strings.Contains(out, "tempo=") {
		t.Fatalf("unexpected perform output: %q", out)
	}
	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(logData), `"msg":"performance finished"`) {
		t.Fatalf("expected json log lines, got %s", logData)
	}
}

func TestPerformCommandRejectsBadFlags(t *testing.T) {
	configPath := writeCLIConfig(t)
	cases := [][]string{
		{"perform"},
		{"perform", "--config", configPath, "--generations", "-1"},
		{"perform", "--config", configPath, "--log-level", "loud"},
		{"perform", "--config", configPath, "--log-format", "xml"},
		{"perform", "--config", filepath.Join(t.TempDir(), "missing.toml")},
	}
	for _, args := range cases {
		if err := run(context.Background(), args); err == nil {
			t.Fatalf("expected %v to fail", args)
		}
	}
}

func TestRunsAndHistoryOnEmptyMemoryStore(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"runs", "--store", "memory"})
	})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if strings.TrimSpace(out) != "no runs found" {
		t.Fatalf("unexpected runs output: %q", out)
	}
	if err := run(context.Background(), []string{"history", "--store", "memory"}); err == nil {
		t.Fatal("expected history without run id to fail")
	}
	if err := run(context.Background(), []string{"history", "--store", "memory", "--latest"}); err == nil {
		t.Fatal("expected history --latest on an empty store to fail")
	}
	if err := run(context.Background(), []string{"runs", "--limit", "0"}); err == nil {
		t.Fatal("expected zero limit to fail")
	}
}

func TestNewLogger(t *testing.T) {
	logger, closeLog, err := newLogger("", "debug", "text")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if err := closeLog(); err != nil {
		t.Fatalf("close stderr logger: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger")
	}
	if _, _, err := newLogger("", "verbose", "text"); err == nil {
		t.Fatal("expected invalid level to fail")
	}
	if _, _, err := newLogger(filepath.Join(t.TempDir(), "missing", "x.log"), "info", "text"); err == nil {
		t.Fatal("expected unopenable log path to fail")
	}
}

func TestPerformLogPath(t *testing.T) {
	cases := []struct {
		name     string
		explicit string
		input    string
		want     string
	}{
		{name: "stderr by default", input: "none", want: ""},
		{name: "keyboard moves logs off the terminal", input: "keyboard", want: defaultKeyboardLog},
		{name: "explicit path wins", explicit: "run.log", input: "keyboard", want: "run.log"},
		{name: "midi keeps stderr", input: "midi", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := performLogPath(tc.explicit, tc.input); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}
