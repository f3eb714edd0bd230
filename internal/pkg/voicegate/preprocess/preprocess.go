package preprocess

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	urlRe        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	emailRe      = regexp.MustCompile(`\S+@\S+\.\S+`)
	currencyRe   = regexp.MustCompile(`\$(\d+)(?:\.(\d{2}))?`)
	ordinalRe    = regexp.MustCompile(`\b(\d+)(st|nd|rd|th)\b`)
	numberRe     = regexp.MustCompile(`\b\d{1,15}\b`)
)

// Normalizer prepares free text for a character-level TTS tokenizer.
// English number, currency and contraction expansion only applies to text
// that contains Latin letters or digits; CJK text passes through with only
// width folding and whitespace cleanup.
type Normalizer struct {
	steps []func(string) string
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		steps: []func(string) string{
			norm.NFC.String,
			width.Narrow.String,
			stripMarkup,
			stripControl,
			expandContractions,
			expandCurrency,
			expandOrdinals,
			expandNumbers,
			normalizeQuotes,
			normalizePunctuation,
		},
	}
}

func (n *Normalizer) Process(text string) string {
	for _, step := range n.steps {
		text = step(text)
	}
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func stripMarkup(text string) string {
	text = urlRe.ReplaceAllString(text, "")
	text = htmlTagRe.ReplaceAllString(text, "")
	return emailRe.ReplaceAllString(text, "")
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

var contractions = []struct{ from, to string }{
	{"won't", "will not"},
	{"can't", "cannot"},
	{"shan't", "shall not"},
	{"let's", "let us"},
	{"n't", " not"},
	{"'re", " are"},
	{"'ll", " will"},
	{"'ve", " have"},
	{"'m", " am"},
	{"'d", " would"},
}

func expandContractions(text string) string {
	if !strings.Contains(text, "'") {
		return text
	}
	for _, c := range contractions {
		text = replaceFold(text, c.from, c.to)
	}
	return text
}

// replaceFold replaces ASCII old case-insensitively, keeping the case of the
// first letter of each match.
func replaceFold(s, old, repl string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	i := 0
	for {
		j := strings.Index(lower[i:], old)
		if j < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		j += i
		b.WriteString(s[i:j])
		r := repl
		if unicode.IsUpper(rune(s[j])) && r != "" && r[0] != ' ' {
			r = strings.ToUpper(r[:1]) + r[1:]
		}
		b.WriteString(r)
		i = j + len(old)
	}
}

func expandCurrency(text string) string {
	return currencyRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := currencyRe.FindStringSubmatch(match)
		dollars, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return match
		}
		out := NumberToWords(dollars) + plural(dollars, " dollar")
		if parts[2] != "" && parts[2] != "00" {
			cents, _ := strconv.ParseInt(parts[2], 10, 64)
			out += " and " + NumberToWords(cents) + plural(cents, " cent")
		}
		return out
	})
}

func plural(n int64, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}

var ordinalWords = map[int64]string{
	1: "first", 2: "second", 3: "third", 4: "fourth", 5: "fifth",
	6: "sixth", 7: "seventh", 8: "eighth", 9: "ninth", 10: "tenth",
	11: "eleventh", 12: "twelfth", 20: "twentieth", 30: "thirtieth",
	40: "fortieth", 50: "fiftieth", 60: "sixtieth", 70: "seventieth",
	80: "eightieth", 90: "ninetieth",
}

func expandOrdinals(text string) string {
	return ordinalRe.ReplaceAllStringFunc(text, func(match string) string {
		n, err := strconv.ParseInt(ordinalRe.FindStringSubmatch(match)[1], 10, 64)
		if err != nil {
			return match
		}
		if w, ok := ordinalWords[n]; ok {
			return w
		}
		if n > 20 && n < 100 && n%10 != 0 {
			return tensWords[n/10] + " " + ordinalWords[n%10]
		}
		return NumberToWords(n) + "th"
	})
}

func expandNumbers(text string) string {
	return numberRe.ReplaceAllStringFunc(text, func(match string) string {
		n, err := strconv.ParseInt(match, 10, 64)
		if err != nil {
			return match
		}
		return NumberToWords(n)
	})
}

var onesWords = []string{
	"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
	"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen",
	"seventeen", "eighteen", "nineteen",
}

var tensWords = []string{
	"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
}

var scaleWords = []string{"", "thousand", "million", "billion", "trillion"}

func NumberToWords(n int64) string {
	if n == 0 {
		return "zero"
	}
	prefix := ""
	if n < 0 {
		prefix = "negative "
		n = -n
	}

	var parts []string
	for scale := 0; n > 0 && scale < len(scaleWords); scale++ {
		if chunk := int(n % 1000); chunk > 0 {
			words := chunkToWords(chunk)
			if scaleWords[scale] != "" {
				words += " " + scaleWords[scale]
			}
			parts = append([]string{words}, parts...)
		}
		n /= 1000
	}
	return prefix + strings.Join(parts, " ")
}

func chunkToWords(n int) string {
	switch {
	case n < 20:
		return onesWords[n]
	case n < 100:
		if n%10 == 0 {
			return tensWords[n/10]
		}
		return tensWords[n/10] + " " + onesWords[n%10]
	}
	out := onesWords[n/100] + " hundred"
	if n%100 != 0 {
		out += " " + chunkToWords(n%100)
	}
	return out
}

var quoteReplacer = strings.NewReplacer(
	"“", "\"", "”", "\"",
	"‘", "'", "’", "'",
	"«", "\"", "»", "\"",
)

func normalizeQuotes(text string) string {
	return quoteReplacer.Replace(text)
}

var punctuationReplacer = strings.NewReplacer(
	"—", ", ",
	"–", ", ",
	"…", "...",
	"•", ",",
	"、", ",",
	"､", ",",
	"。", ".",
	"｡", ".",
)

func normalizePunctuation(text string) string {
	return punctuationReplacer.Replace(text)
}
