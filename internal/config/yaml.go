package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"audiogene/internal/audience"
)

// yamlConfig is the camel-cased YAML layout older audiogene installations
// use. Scalars are read as text, so quoted and bare numbers both load.
type yamlConfig struct {
	PopulationSize *int     `yaml:"populationSize"`
	KeepFittest    *int     `yaml:"keepFittest"`
	MutationProb   *float64 `yaml:"mutationProb"`
	SuperCollider  struct {
		Addr string `yaml:"addr"`
		Port string `yaml:"port"`
	} `yaml:"SuperCollider"`
	OSC struct {
		Port string `yaml:"port"`
	} `yaml:"OSC"`
	Genes map[string]map[string]string `yaml:"genes"`
	Input struct {
		Type string                       `yaml:"type"`
		Name string                       `yaml:"name"`
		Map  map[string]map[string]string `yaml:"map"`
	} `yaml:"input"`
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadYAML reads a YAML performance file over the defaults and validates it.
func LoadYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg, err := ParseYAML(data)
	if err != nil && !errors.Is(err, ErrInvalid) {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, err
}

// ParseYAML is LoadYAML for an in-memory document.
func ParseYAML(data []byte) (Config, error) {
	var doc yamlConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg := Default()
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}
	parseInt := func(key, text string, dst *int) {
		if text == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			invalid("%s: %q is not an integer", key, text)
			return
		}
		*dst = n
	}

	if doc.PopulationSize != nil {
		cfg.PopulationSize = *doc.PopulationSize
	}
	if doc.KeepFittest != nil {
		cfg.KeepFittest = *doc.KeepFittest
	}
	if doc.MutationProb != nil {
		cfg.MutationProb = *doc.MutationProb
	}
	if doc.SuperCollider.Addr != "" {
		cfg.SuperCollider.Addr = doc.SuperCollider.Addr
	}
	parseInt("SuperCollider.port", doc.SuperCollider.Port, &cfg.SuperCollider.Port)
	parseInt("OSC.port", doc.OSC.Port, &cfg.OSC.Port)

	if len(doc.Genes) > 0 {
		cfg.Genes = make(map[string]Gene, len(doc.Genes))
	}
	for name, fields := range doc.Genes {
		gene, err := yamlGene(fields)
		if err != nil {
			invalid("gene %s: %v", name, err)
			continue
		}
		cfg.Genes[name] = gene
	}

	if doc.Input.Type != "" {
		cfg.Input.Type = doc.Input.Type
		cfg.Input.Name = doc.Input.Name
	}
	if len(doc.Input.Map) > 0 {
		cfg.Input.Map = make(map[string]audience.KeyPair, len(doc.Input.Map))
	}
	for attr, directions := range doc.Input.Map {
		var pair audience.KeyPair
		for direction, key := range directions {
			switch direction {
			case "up":
				parseInt("input.map."+attr+".up", key, &pair.Up)
			case "down":
				parseInt("input.map."+attr+".down", key, &pair.Down)
			default:
				invalid("input.map.%s: unknown direction %q", attr, direction)
			}
		}
		cfg.Input.Map[attr] = pair
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func yamlGene(fields map[string]string) (Gene, error) {
	var gene Gene
	number := func(key string, dst *float64) error {
		text, ok := fields[key]
		if !ok {
			return fmt.Errorf("%s is required", key)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", key, text)
		}
		*dst = v
		return nil
	}
	if err := number("min", &gene.Min); err != nil {
		return Gene{}, err
	}
	if err := number("max", &gene.Max); err != nil {
		return Gene{}, err
	}
	if err := number("current", &gene.Current); err != nil {
		return Gene{}, err
	}
	for key, text := range fields {
		switch key {
		case "min", "max", "current":
		case "round":
			round, err := strconv.ParseBool(strings.TrimSpace(text))
			if err != nil {
				return Gene{}, fmt.Errorf("round: %q is not a boolean", text)
			}
			gene.Round = round
		case "activates":
			gene.Activates = text
		default:
			return Gene{}, fmt.Errorf("unknown key %q", key)
		}
	}
	return gene, nil
}
