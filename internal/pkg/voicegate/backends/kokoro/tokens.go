package kokoro

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const padID int64 = 0

// Tokenizer maps single symbols to model ids using a tokens.txt file with
// one "<symbol> <id>" pair per line. The symbol may itself be a space.
type Tokenizer struct {
	ids map[rune]int64
}

func LoadTokenizer(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tokens file: %w", err)
	}
	defer f.Close()

	t := &Tokenizer{ids: make(map[rune]int64)}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		cut := strings.LastIndexByte(text, ' ')
		if cut < 0 {
			return nil, fmt.Errorf("tokens file line %d: want \"<symbol> <id>\"", line)
		}
		id, err := strconv.ParseInt(text[cut+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tokens file line %d: %w", line, err)
		}
		symbol := []rune(text[:cut])
		if len(symbol) != 1 {
			// multi-rune entries (language tags and the like) are not addressable by a char tokenizer
			continue
		}
		t.ids[symbol[0]] = id
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens file: %w", err)
	}
	if len(t.ids) == 0 {
		return nil, fmt.Errorf("tokens file %s has no symbols", path)
	}
	return t, nil
}

// Encode returns pad-wrapped ids for the symbols of text the model knows.
// Unknown symbols are dropped.
func (t *Tokenizer) Encode(text string) []int64 {
	tokens := make([]int64, 0, len(text)+2)
	tokens = append(tokens, padID)
	for _, r := range text {
		if id, ok := t.ids[r]; ok {
			tokens = append(tokens, id)
		}
	}
	return append(tokens, padID)
}

func (t *Tokenizer) VocabSize() int {
	return len(t.ids)
}
