// Package ctc is an ASR backend for single-pass CTC acoustic models exported
// to ONNX, fed either the raw waveform or log-mel features.
package ctc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"voicegate/internal/pkg/voicegate/audio"
	"voicegate/internal/pkg/voicegate/capability"
	"voicegate/internal/pkg/voicegate/engine"
	"voicegate/internal/pkg/voicegate/model"
)

const Name = "ctc"

var requiredFiles = []string{"config.yaml", "model.onnx", "tokens.json"}

func init() {
	engine.Register(Name, capability.ASR, New)
}

type Engine struct {
	session  *ort.DynamicAdvancedSession
	cfg      *ModelConfig
	vocab    *Vocabulary
	features *fbank
}

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

	mc, err := LoadModelConfig(filepath.Join(cfg.ModelDir, "config.yaml"))
	if err != nil {
		return nil, err
	}
	vocab, err := LoadVocabulary(filepath.Join(cfg.ModelDir, "tokens.json"))
	if err != nil {
		return nil, err
	}
	if mc.BlankID < 0 || mc.BlankID >= vocab.Size() {
		return nil, fmt.Errorf("blank_id %d outside vocabulary of %d", mc.BlankID, vocab.Size())
	}

	e := &Engine{cfg: mc, vocab: vocab}
	if mc.Feature == FeatureFbank {
		e.features = newFbank(mc.SampleRate, mc.NumMels)
	}

	if err := model.Acquire(); err != nil {
		return nil, err
	}
	inputs := []string{mc.InputName}
	if mc.LengthName != "" {
		inputs = append(inputs, mc.LengthName)
	}
	e.session, err = model.NewSession(filepath.Join(cfg.ModelDir, "model.onnx"), inputs, []string{mc.OutputName}, dev)
	if err != nil {
		model.Release()
		return nil, err
	}

	log.Debug().
		Str("feature", mc.Feature).
		Int("vocab", vocab.Size()).
		Int("sample_rate", mc.SampleRate).
		Msg("CTC model opened")
	return e, nil
}

// Transcribe accepts audio at any rate; it is resampled to the model rate
// when the caller has not already done so.
func (e *Engine) Transcribe(pcm *audio.PCMBuffer, language string) (engine.Transcription, error) {
	if err := pcm.Validate(); err != nil {
		return engine.Transcription{}, err
	}
	if pcm.SampleRate != e.cfg.SampleRate || pcm.Channels != 1 {
		resampled, err := audio.Resample(pcm, e.cfg.SampleRate)
		if err != nil {
			return engine.Transcription{}, err
		}
		pcm = resampled
	}

	input, frames, err := e.inputTensor(pcm.Samples)
	if err != nil {
		return engine.Transcription{}, err
	}
	if input == nil {
		return engine.Transcription{}, nil
	}
	defer input.Destroy()

	values := []ort.Value{input}
	if e.cfg.LengthName != "" {
		length, err := ort.NewTensor(ort.NewShape(1), []int64{frames})
		if err != nil {
			return engine.Transcription{}, fmt.Errorf("failed to create length tensor: %w", err)
		}
		defer length.Destroy()
		values = append(values, length)
	}

	logits, shape, err := model.RunFloat32(e.session, values)
	if err != nil {
		return engine.Transcription{}, err
	}
	if len(shape) == 0 {
		return engine.Transcription{}, fmt.Errorf("logits have no shape")
	}
	vocab := int(shape[len(shape)-1])
	if vocab != e.vocab.Size() {
		log.Warn().Int("model", vocab).Int("tokens", e.vocab.Size()).Msg("Vocabulary size mismatch")
	}

	text, conf := greedyDecode(logits, vocab, e.cfg.BlankID, e.vocab, e.cfg.WordDelimiter)
	return engine.Transcription{Text: text, Confidence: &conf}, nil
}

// inputTensor returns nil when the audio is too short to produce a frame.
func (e *Engine) inputTensor(samples []float32) (*ort.Tensor[float32], int64, error) {
	if e.features == nil {
		if e.cfg.Normalize {
			samples = normalizeWaveform(samples)
		}
		t, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create waveform tensor: %w", err)
		}
		return t, int64(len(samples)), nil
	}

	feats := e.features.Extract(samples)
	if len(feats) == 0 {
		return nil, 0, nil
	}
	flat := make([]float32, 0, len(feats)*e.cfg.NumMels)
	for _, row := range feats {
		flat = append(flat, row...)
	}
	t, err := ort.NewTensor(ort.NewShape(1, int64(len(feats)), int64(e.cfg.NumMels)), flat)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create feature tensor: %w", err)
	}
	return t, int64(len(feats)), nil
}

func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:       Name,
		Capability: capability.ASR,
		Languages:  e.cfg.Languages,
		SampleRate: e.cfg.SampleRate,
		Reentrant:  true,
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
