package kokoro

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"voicegate/internal/pkg/voicegate/audio"
	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/engine"
	"voicegate/internal/pkg/voicegate/model"
	"voicegate/internal/pkg/voicegate/preprocess"
)

const (
	Name = "kokoro"

	// maxTokens is the model's context length including the two pad ids.
	maxTokens = 512
)

var requiredFiles = []string{"model.onnx", "tokens.txt"}

var ErrNoSymbols = errors.New("text has no speakable symbols")

func init() {
	engine.Register(Name, capability.TTS, New)
}

type Engine struct {
	session    *ort.DynamicAdvancedSession
	voices     *VoiceStore
	normalizer *preprocess.Normalizer
	tokenizer  *Tokenizer
	fallback   string
}

// CheckModelDir reports the first required file missing from dir.
func CheckModelDir(dir string) error {
	for _, name := range requiredFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("model directory incomplete, need %v: %w", requiredFiles, err)
		}
	}
	return nil
}

func New(cfg engine.Config) (engine.Engine, error) {
	dev, err := model.ParseDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	if err := CheckModelDir(cfg.ModelDir); err != nil {
		return nil, err
	}

	tokenizer, err := LoadTokenizer(filepath.Join(cfg.ModelDir, "tokens.txt"))
	if err != nil {
		return nil, err
	}
	voices, err := LoadVoices(cfg.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load voices: %w", err)
	}

	if err := model.Acquire(); err != nil {
		return nil, err
	}
	session, err := model.NewSession(
		filepath.Join(cfg.ModelDir, "model.onnx"),
		[]string{"input_ids", "style", "speed"},
		[]string{"waveform"},
		dev,
	)
	if err != nil {
		model.Release()
		return nil, err
	}

	return &Engine{
		session:    session,
		voices:     voices,
		normalizer: preprocess.NewNormalizer(),
		tokenizer:  tokenizer,
		fallback:   voices.List()[0],
	}, nil
}

func (e *Engine) Synthesize(text string, opts engine.SynthesisOptions) (*audio.PCMBuffer, error) {
	speed := opts.Speed
	if speed == 0 {
		speed = 1
	}
	if speed < engine.MinSpeed || speed > engine.MaxSpeed {
		return nil, fmt.Errorf("speed %.2f outside %.1f-%.1f", speed, engine.MinSpeed, engine.MaxSpeed)
	}
	voice := opts.Voice
	if voice == "" {
		voice = e.fallback
	}

	tokens := e.tokenizer.Encode(e.normalizer.Process(text))
	if len(tokens) <= 2 {
		return nil, ErrNoSymbols
	}

	var samples []float32
	for _, chunk := range splitTokens(tokens, maxTokens) {
		style, err := e.voices.Style(voice, len(chunk)-2)
		if err != nil {
			return nil, err
		}
		out, err := e.run(chunk, style, speed)
		if err != nil {
			return nil, err
		}
		samples = append(samples, out...)
	}

	audio.Normalize(samples)
	return audio.NewPCMBuffer(samples, audio.TTSSampleRate), nil
}

func (e *Engine) run(tokens []int64, style []float32, speed float32) ([]float32, error) {
	inputIDs, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	styleTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(style))), style)
	if err != nil {
		return nil, fmt.Errorf("failed to create style tensor: %w", err)
	}
	defer styleTensor.Destroy()

	speedTensor, err := ort.NewTensor(ort.NewShape(1), []float32{speed})
	if err != nil {
		return nil, fmt.Errorf("failed to create speed tensor: %w", err)
	}
	defer speedTensor.Destroy()

	out, _, err := model.RunFloat32(e.session, []ort.Value{inputIDs, styleTensor, speedTensor})
	return out, err
}

// splitTokens cuts a pad-wrapped sequence into pad-wrapped pieces of at most
// limit ids each.
func splitTokens(tokens []int64, limit int) [][]int64 {
	body := tokens[1 : len(tokens)-1]
	step := limit - 2
	var chunks [][]int64
	for start := 0; start < len(body); start += step {
		end := start + step
		if end > len(body) {
			end = len(body)
		}
		chunk := make([]int64, 0, end-start+2)
		chunk = append(chunk, padID)
		chunk = append(chunk, body[start:end]...)
		chunks = append(chunks, append(chunk, padID))
	}
	return chunks
}

// Warmup synthesises the standard warm-up phrase, falling back to English
// when the vocabulary has no CJK symbols.
func (e *Engine) Warmup() error {
	_, err := e.Synthesize(engine.WarmupText, engine.SynthesisOptions{})
	if errors.Is(err, ErrNoSymbols) {
		_, err = e.Synthesize("hello world", engine.SynthesisOptions{})
	}
	return err
}

func (e *Engine) ListVoices() []string {
	return e.voices.List()
}

func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:       Name,
		Capability: capability.TTS,
		Languages:  []string{"en", "zh"},
		SampleRate: audio.TTSSampleRate,
	}
}

func (e *Engine) Close() error {
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return err
		}
		e.session = nil
	}
	return model.Release()
}
