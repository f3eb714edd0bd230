package kokoro

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const styleDim = 256

var ErrUnknownVoice = errors.New("unknown voice")

// VoiceStore holds style vectors per voice. A voice pack is a matrix of
// rows x styleDim; the row is picked by utterance length in tokens.
type VoiceStore struct {
	voices map[string][]float32
}

// LoadVoices reads voices.npz from dir, or every .npy file under dir/voices.
func LoadVoices(dir string) (*VoiceStore, error) {
	npz := filepath.Join(dir, "voices.npz")
	if _, err := os.Stat(npz); err == nil {
		return loadNPZ(npz)
	}
	return loadNPYDir(filepath.Join(dir, "voices"))
}

func loadNPZ(path string) (*VoiceStore, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NPZ file: %w", err)
	}
	defer r.Close()

	store := &VoiceStore{voices: make(map[string][]float32)}
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		err = store.add(strings.TrimSuffix(filepath.Base(f.Name), ".npy"), rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	return store.nonEmpty(path)
}

func loadNPYDir(dir string) (*VoiceStore, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read voices: %w", err)
	}

	store := &VoiceStore{voices: make(map[string][]float32)}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".npy") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		err = store.add(strings.TrimSuffix(e.Name(), ".npy"), f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return store.nonEmpty(dir)
}

func (v *VoiceStore) add(name string, r io.Reader) error {
	data, err := readNPY(r)
	if err != nil {
		return err
	}
	if len(data) < styleDim || len(data)%styleDim != 0 {
		return fmt.Errorf("voice has %d values, want a multiple of %d", len(data), styleDim)
	}
	v.voices[name] = data
	return nil
}

func (v *VoiceStore) nonEmpty(src string) (*VoiceStore, error) {
	if len(v.voices) == 0 {
		return nil, fmt.Errorf("no voices found in %s", src)
	}
	return v, nil
}

// Style returns the style vector for a voice and an utterance of n tokens.
func (v *VoiceStore) Style(name string, n int) ([]float32, error) {
	pack, ok := v.voices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, name)
	}
	rows := len(pack) / styleDim
	row := n
	if row >= rows {
		row = rows - 1
	}
	if row < 0 {
		row = 0
	}
	return pack[row*styleDim : (row+1)*styleDim], nil
}

func (v *VoiceStore) List() []string {
	names := make([]string, 0, len(v.voices))
	for name := range v.voices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// readNPY reads a little-endian float32 or float16 array. The shape is only
// used to size the data; callers interpret the layout.
func readNPY(r io.Reader) ([]float32, error) {
	var preamble [8]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return nil, fmt.Errorf("failed to read NPY preamble: %w", err)
	}
	if string(preamble[:6]) != "\x93NUMPY" {
		return nil, fmt.Errorf("invalid NPY magic number")
	}

	var headerLen uint32
	if preamble[6] == 1 {
		var hl uint16
		if err := binary.Read(r, binary.LittleEndian, &hl); err != nil {
			return nil, fmt.Errorf("failed to read header length: %w", err)
		}
		headerLen = uint32(hl)
	} else if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	h := string(header)

	count, err := shapeElements(h)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(h, "<f4"):
		out := make([]float32, count)
		if err := binary.Read(r, binary.LittleEndian, out); err != nil {
			return nil, fmt.Errorf("failed to read float32 data: %w", err)
		}
		return out, nil
	case strings.Contains(h, "<f2"):
		raw := make([]uint16, count)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return nil, fmt.Errorf("failed to read float16 data: %w", err)
		}
		out := make([]float32, count)
		for i, b := range raw {
			out[i] = float16ToFloat32(b)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported dtype in NPY header: %s", strings.TrimSpace(h))
}

func shapeElements(header string) (int, error) {
	start := strings.Index(header, "'shape': (")
	if start < 0 {
		return 0, fmt.Errorf("shape not found in NPY header")
	}
	rest := header[start+len("'shape': ("):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return 0, fmt.Errorf("invalid shape in NPY header")
	}

	count := 1
	for _, part := range strings.Split(rest[:end], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil || dim < 0 {
			return 0, fmt.Errorf("invalid dimension %q", part)
		}
		count *= dim
	}
	return count, nil
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h & 0x3FF)

	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3FF
	case exp == 31:
		return math.Float32frombits(sign | 0x7F800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}
