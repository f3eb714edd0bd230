package ctc

import (
	"math"
	"strings"
)

// greedyDecode takes row-major logits of shape [frames][vocab], keeps the
// best id per frame, collapses repeats and drops blanks. Confidence is the
// mean softmax probability of the emitted frames, or 1 when nothing was
// emitted.
func greedyDecode(logits []float32, vocab int, blank int, v *Vocabulary, delimiter string) (string, float32) {
	if vocab <= 0 {
		return "", 0
	}
	frames := len(logits) / vocab

	var (
		b       strings.Builder
		prev    = -1
		probSum float64
		emitted int
	)
	for t := 0; t < frames; t++ {
		row := logits[t*vocab : (t+1)*vocab]
		best, prob := argmaxSoftmax(row)
		if best != blank && best != prev {
			b.WriteString(tokenText(v.Token(best), delimiter))
			probSum += prob
			emitted++
		}
		prev = best
	}

	text := strings.Join(strings.Fields(b.String()), " ")
	if emitted == 0 {
		return text, 1
	}
	return text, float32(probSum / float64(emitted))
}

func argmaxSoftmax(row []float32) (int, float64) {
	best := 0
	for i, x := range row {
		if x > row[best] {
			best = i
		}
	}
	max := float64(row[best])
	var denom float64
	for _, x := range row {
		denom += math.Exp(float64(x) - max)
	}
	return best, 1 / denom
}

// tokenText maps special tokens to plain text: the word delimiter and
// sentencepiece's "▁" become spaces, "<...>" markers vanish.
func tokenText(tok, delimiter string) string {
	switch {
	case tok == "":
		return ""
	case tok == delimiter:
		return " "
	case strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">"):
		return ""
	}
	return strings.ReplaceAll(tok, "▁", " ")
}
