package ctc

import (
	"math"
	"math/cmplx"
)

const (
	windowSize  = 400 // 25 ms at 16 kHz
	hopSize     = 160 // 10 ms at 16 kHz
	fftSize     = 512
	preEmphasis = 0.97
	lowFreq     = 20.0
)

// fbank computes Kaldi-style log mel filterbank features followed by
// per-utterance mean and variance normalisation.
type fbank struct {
	numMels int
	window  []float64
	bank    [][]float64
}

func newFbank(sampleRate, numMels int) *fbank {
	window := make([]float64, windowSize)
	for i := range window {
		window[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(windowSize-1))
	}
	return &fbank{
		numMels: numMels,
		window:  window,
		bank:    melBank(numMels, sampleRate, lowFreq, float64(sampleRate)/2),
	}
}

func hzToMel(hz float64) float64  { return 1127 * math.Log(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Exp(mel/1127) - 1) }

func melBank(numMels, sampleRate int, lo, hi float64) [][]float64 {
	bins := fftSize/2 + 1
	loMel, hiMel := hzToMel(lo), hzToMel(hi)
	centers := make([]float64, numMels+2)
	for i := range centers {
		centers[i] = melToHz(loMel + (hiMel-loMel)*float64(i)/float64(numMels+1))
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		bank[m] = make([]float64, bins)
		left, center, right := centers[m], centers[m+1], centers[m+2]
		for k := 0; k < bins; k++ {
			f := float64(k) * float64(sampleRate) / fftSize
			switch {
			case f > left && f <= center:
				bank[m][k] = (f - left) / (center - left)
			case f > center && f < right:
				bank[m][k] = (right - f) / (right - center)
			}
		}
	}
	return bank
}

// Extract returns [frames][numMels] features, or nil when pcm is shorter
// than one window.
func (fb *fbank) Extract(pcm []float32) [][]float32 {
	if len(pcm) < windowSize {
		return nil
	}
	frames := (len(pcm)-windowSize)/hopSize + 1
	out := make([][]float32, frames)
	buf := make([]complex128, fftSize)

	for t := 0; t < frames; t++ {
		start := t * hopSize
		for i := range buf {
			buf[i] = 0
		}
		for i := 0; i < windowSize; i++ {
			s := float64(pcm[start+i])
			if i > 0 {
				s -= preEmphasis * float64(pcm[start+i-1])
			}
			buf[i] = complex(s*fb.window[i], 0)
		}
		fft(buf)

		row := make([]float32, fb.numMels)
		for m, weights := range fb.bank {
			var energy float64
			for k, w := range weights {
				if w != 0 {
					p := cmplx.Abs(buf[k])
					energy += w * p * p
				}
			}
			row[m] = float32(math.Log(math.Max(energy, 1e-10)))
		}
		out[t] = row
	}

	cmvn(out)
	return out
}

func cmvn(features [][]float32) {
	if len(features) == 0 {
		return
	}
	n := float64(len(features))
	for m := range features[0] {
		var sum, sq float64
		for _, row := range features {
			sum += float64(row[m])
		}
		mean := sum / n
		for _, row := range features {
			d := float64(row[m]) - mean
			sq += d * d
		}
		std := math.Max(math.Sqrt(sq/n), 1e-10)
		for _, row := range features {
			row[m] = float32((float64(row[m]) - mean) / std)
		}
	}
}

// fft is an in-place iterative radix-2 transform; len(x) must be a power of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				a, b := x[start+k], w*x[start+k+size/2]
				x[start+k], x[start+k+size/2] = a+b, a-b
				w *= step
			}
		}
	}
}

// normalizeWaveform scales samples to zero mean and unit variance, the
// convention for wav2vec2-style raw-waveform models.
func normalizeWaveform(pcm []float32) []float32 {
	if len(pcm) == 0 {
		return pcm
	}
	var sum float64
	for _, s := range pcm {
		sum += float64(s)
	}
	mean := sum / float64(len(pcm))
	var sq float64
	for _, s := range pcm {
		d := float64(s) - mean
		sq += d * d
	}
	std := math.Sqrt(sq/float64(len(pcm)) + 1e-7)
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32((float64(s) - mean) / std)
	}
	return out
}
