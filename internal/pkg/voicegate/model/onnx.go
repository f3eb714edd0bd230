package model

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

var ErrDevice = errors.New("device unavailable")

var (
	envMu   sync.Mutex
	envRefs int
)

func getOnnxRuntimeLibPath() string {
	envPath := os.Getenv("ONNXRUNTIME_LIB_PATH")
	if envPath != "" {
		return envPath
	}

	var paths []string
	fallback := "libonnxruntime.so"
	switch runtime.GOOS {
	case "linux":
		paths = []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"./libonnxruntime.so",
			"./lib/libonnxruntime.so",
		}
	case "windows":
		paths = []string{"onnxruntime.dll", "./lib/onnxruntime.dll"}
		fallback = "onnxruntime.dll"
	case "darwin":
		paths = []string{
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"./libonnxruntime.dylib",
		}
		fallback = "libonnxruntime.dylib"
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return fallback
}

// Acquire initialises the shared ONNX Runtime environment on first use.
// Both capabilities may live in one process, so the environment is reference
// counted and torn down by the last Release.
func Acquire() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !ort.IsInitialized() {
		libPath := getOnnxRuntimeLibPath()
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX runtime (%s): %w", libPath, err)
		}
		log.Debug().Str("lib", libPath).Msg("ONNX runtime initialized")
	}
	envRefs++
	return nil
}

func Release() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs > 0 {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX runtime: %w", err)
	}
	return nil
}

// Device is a parsed --device value: "cpu", "cuda" or "cuda:N".
type Device struct {
	Kind  string
	Index int
}

func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == "cpu":
		return Device{Kind: "cpu"}, nil
	case s == "cuda":
		return Device{Kind: "cuda"}, nil
	case strings.HasPrefix(s, "cuda:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(s, "cuda:"))
		if err != nil || idx < 0 {
			return Device{}, fmt.Errorf("%w: invalid device %q", ErrDevice, s)
		}
		return Device{Kind: "cuda", Index: idx}, nil
	}
	return Device{}, fmt.Errorf("%w: unknown device %q (want cpu, cuda or cuda:N)", ErrDevice, s)
}

func (d Device) String() string {
	if d.Kind == "cuda" {
		return fmt.Sprintf("cuda:%d", d.Index)
	}
	return "cpu"
}

// NewSession opens a model bound to the device. The caller owns the session
// and must Destroy it.
func NewSession(path string, inputs, outputs []string, dev Device) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	if dev.Kind == "cuda" {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDevice, err)
		}
		defer cuda.Destroy()

		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(dev.Index)}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDevice, err)
		}
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDevice, dev, err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", path, err)
	}
	return session, nil
}

// RunFloat32 runs a session whose single output is a float32 tensor and
// returns a copy of its data and shape.
func RunFloat32(session *ort.DynamicAdvancedSession, inputs []ort.Value) ([]float32, []int64, error) {
	outputs := make([]ort.Value, 1)
	if err := session.Run(inputs, outputs); err != nil {
		return nil, nil, fmt.Errorf("failed to run inference: %w", err)
	}
	if outputs[0] == nil {
		return nil, nil, fmt.Errorf("no output from model")
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("unexpected output tensor type")
	}
	data := tensor.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, []int64(tensor.GetShape()), nil
}
