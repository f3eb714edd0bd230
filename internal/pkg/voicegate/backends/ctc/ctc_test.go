package ctc

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/pkg/voicegate/engine"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadModelConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadModelConfig(writeFile(t, t.TempDir(), "config.yaml", "blank_id: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.Equal(t, FeatureRaw, cfg.Feature)
	assert.Equal(t, "input_values", cfg.InputName)
	assert.Equal(t, "logits", cfg.OutputName)
	assert.Equal(t, "|", cfg.WordDelimiter)
	assert.Equal(t, []string{"zh"}, cfg.Languages)
}

func TestLoadModelConfig_Fbank(t *testing.T) {
	t.Parallel()

	cfg, err := LoadModelConfig(writeFile(t, t.TempDir(), "config.yaml", `
feature: fbank
num_mels: 40
length_name: speech_lengths
languages: [zh, en]
`))
	require.NoError(t, err)
	assert.Equal(t, "speech", cfg.InputName)
	assert.Equal(t, "speech_lengths", cfg.LengthName)
	assert.Equal(t, 40, cfg.NumMels)
	assert.Equal(t, []string{"zh", "en"}, cfg.Languages)
}

func TestLoadModelConfig_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"feature":     "feature: mfcc\n",
		"sample rate": "sample_rate: 4000\n",
		"mels":        "num_mels: 0\n",
		"syntax":      "feature: [unterminated\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadModelConfig(writeFile(t, t.TempDir(), "config.yaml", content))
			assert.Error(t, err)
		})
	}
}

func TestLoadVocabulary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v, err := LoadVocabulary(writeFile(t, dir, "map.json", `{"<blank>": 0, "|": 1, "a": 2, "b": 3}`))
	require.NoError(t, err)
	assert.Equal(t, 4, v.Size())
	assert.Equal(t, "a", v.Token(2))
	assert.Equal(t, "", v.Token(99))

	v, err = LoadVocabulary(writeFile(t, dir, "list.json", `["<blank>", "你", "好"]`))
	require.NoError(t, err)
	assert.Equal(t, "好", v.Token(2))

	_, err = LoadVocabulary(writeFile(t, dir, "empty.json", `{}`))
	assert.Error(t, err)
	_, err = LoadVocabulary(writeFile(t, dir, "bad.json", `{"a": -1}`))
	assert.Error(t, err)
	_, err = LoadVocabulary(writeFile(t, dir, "junk.json", `nope`))
	assert.Error(t, err)
}

// oneHot builds logits where each frame strongly prefers ids[t].
func oneHot(ids []int, vocab int) []float32 {
	out := make([]float32, len(ids)*vocab)
	for t, id := range ids {
		out[t*vocab+id] = 10
	}
	return out
}

func TestGreedyDecode(t *testing.T) {
	t.Parallel()

	v := &Vocabulary{tokens: []string{"<blank>", "|", "h", "i", "▁yo", "<unk>"}}

	text, conf := greedyDecode(oneHot([]int{0, 2, 2, 0, 3, 3, 1, 1, 2, 0, 2, 5}, 6), 6, 0, v, "|")
	assert.Equal(t, "hi hh", text)
	assert.Greater(t, conf, float32(0.99))
	assert.LessOrEqual(t, conf, float32(1))

	text, _ = greedyDecode(oneHot([]int{4, 0, 4}, 6), 6, 0, v, "|")
	assert.Equal(t, "yo yo", text)

	text, conf = greedyDecode(oneHot([]int{0, 0, 0}, 6), 6, 0, v, "|")
	assert.Equal(t, "", text)
	assert.Equal(t, float32(1), conf)
}

func TestGreedyDecode_Confidence(t *testing.T) {
	t.Parallel()

	v := &Vocabulary{tokens: []string{"_", "a", "b"}}
	text, conf := greedyDecode([]float32{0, 1, 0, 0, 0, 2}, 3, 0, v, "|")
	assert.Equal(t, "ab", text)

	pa := math.E / (math.E + 2)
	pb := math.Exp(2) / (math.Exp(2) + 2)
	assert.InDelta(t, (pa+pb)/2, conf, 1e-5)
}

func TestFbank_Frames(t *testing.T) {
	t.Parallel()

	fb := newFbank(16000, 80)
	assert.Nil(t, fb.Extract(make([]float32, 399)))

	pcm := make([]float32, 16000)
	for i := range pcm {
		pcm[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	feats := fb.Extract(pcm)
	require.Len(t, feats, (16000-400)/160+1)
	require.Len(t, feats[0], 80)

	for m := 0; m < 80; m += 20 {
		var sum float64
		for _, row := range feats {
			sum += float64(row[m])
		}
		assert.InDelta(t, 0, sum/float64(len(feats)), 1e-3, "features are mean normalised")
	}
}

func TestFFT(t *testing.T) {
	t.Parallel()

	x := make([]complex128, 8)
	for i := range x {
		x[i] = complex(math.Cos(2*math.Pi*float64(i)/8), 0)
	}
	fft(x)
	assert.InDelta(t, 4, real(x[1]), 1e-9)
	assert.InDelta(t, 4, real(x[7]), 1e-9)
	assert.InDelta(t, 0, real(x[0]), 1e-9)
}

func TestNormalizeWaveform(t *testing.T) {
	t.Parallel()

	out := normalizeWaveform([]float32{1, 3, 1, 3})
	assert.InDeltaSlice(t, []float32{-1, 1, -1, 1}, out, 1e-3)
	assert.Empty(t, normalizeWaveform(nil))
}

func TestNew_RejectsIncompleteModelDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := New(engine.Config{ModelDir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model directory incomplete")

	writeFile(t, dir, "config.yaml", "blank_id: 7\n")
	writeFile(t, dir, "model.onnx", "onnx")
	writeFile(t, dir, "tokens.json", `["_", "a"]`)
	_, err = New(engine.Config{ModelDir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blank_id")

	_, err = New(engine.Config{ModelDir: dir, Device: "gpu"})
	assert.Error(t, err)
}

func TestRegistered(t *testing.T) {
	t.Parallel()
	assert.True(t, engine.IsRegistered(Name))
}
