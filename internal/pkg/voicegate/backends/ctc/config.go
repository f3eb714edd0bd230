package ctc

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"voicegate/internal/pkg/voicegate/audio"
)

const (
	FeatureRaw   = "raw"
	FeatureFbank = "fbank"
)

// ModelConfig is read from config.yaml in the model directory.
type ModelConfig struct {
	SampleRate    int      `yaml:"sample_rate"`
	Feature       string   `yaml:"feature"`
	InputName     string   `yaml:"input_name"`
	LengthName    string   `yaml:"length_name"`
	OutputName    string   `yaml:"output_name"`
	BlankID       int      `yaml:"blank_id"`
	NumMels       int      `yaml:"num_mels"`
	WordDelimiter string   `yaml:"word_delimiter"`
	Normalize     bool     `yaml:"normalize"`
	Languages     []string `yaml:"languages"`
}

func LoadModelConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}

	cfg := ModelConfig{
		SampleRate:    audio.ASRSampleRate,
		Feature:       FeatureRaw,
		OutputName:    "logits",
		NumMels:       80,
		WordDelimiter: "|",
		Languages:     []string{"zh"},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse model config %s: %w", path, err)
	}

	if cfg.InputName == "" {
		cfg.InputName = "input_values"
		if cfg.Feature == FeatureFbank {
			cfg.InputName = "speech"
		}
	}
	switch cfg.Feature {
	case FeatureRaw, FeatureFbank:
	default:
		return nil, fmt.Errorf("model config: unknown feature %q (want %s or %s)", cfg.Feature, FeatureRaw, FeatureFbank)
	}
	if cfg.SampleRate < audio.MinSampleRate || cfg.SampleRate > audio.MaxSampleRate {
		return nil, fmt.Errorf("model config: sample_rate %d out of range", cfg.SampleRate)
	}
	if cfg.NumMels <= 0 {
		return nil, fmt.Errorf("model config: num_mels must be positive")
	}
	return &cfg, nil
}

// Vocabulary maps output ids back to tokens.
type Vocabulary struct {
	tokens []string
}

// LoadVocabulary reads tokens.json, either a {"token": id} object or a plain
// array indexed by id.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("vocabulary %s is empty", path)
		}
		return &Vocabulary{tokens: list}, nil
	}

	var byToken map[string]int
	if err := json.Unmarshal(data, &byToken); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary JSON: %w", err)
	}
	if len(byToken) == 0 {
		return nil, fmt.Errorf("vocabulary %s is empty", path)
	}
	size := 0
	for _, id := range byToken {
		if id < 0 {
			return nil, fmt.Errorf("vocabulary has negative id %d", id)
		}
		if id+1 > size {
			size = id + 1
		}
	}
	tokens := make([]string, size)
	for tok, id := range byToken {
		tokens[id] = tok
	}
	return &Vocabulary{tokens: tokens}, nil
}

func (v *Vocabulary) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

func (v *Vocabulary) Size() int {
	return len(v.tokens)
}
