package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoJSON is returned when a model response contains no JSON object
var ErrNoJSON = errors.New("no JSON object found in response")

var (
	// jsonObject spans the first { to the last }, which also drops any
	// markdown fence around the object
	jsonObject    = regexp.MustCompile(`\{[\s\S]+\}`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// parseExtraction recovers the invoice JSON from a model response. Newlines
// and trailing commas are removed before decoding; numbers with more than two
// decimal places are rounded to two.
func parseExtraction(text string) (*Extraction, error) {
	text = strings.TrimSpace(text)

	block := jsonObject.FindString(text)
	if block == "" {
		return &Extraction{Raw: text}, ErrNoJSON
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(block)
	cleaned = trailingComma.ReplaceAllString(cleaned, "$1")

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		slog.Warn("Could not parse cleaned model response, keeping raw text", "error", err)
		return &Extraction{Raw: cleaned}, nil
	}
	if _, ok := doc.(map[string]any); !ok {
		return &Extraction{Raw: cleaned}, nil
	}

	record, err := json.Marshal(roundNumbers(doc))
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Extraction{Record: record}, nil
}

// roundNumbers walks a decoded document and rounds every number that carries
// more than two decimal places. Integer literals are left as written.
func roundNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = roundNumbers(item)
		}
	case []any:
		for i, item := range t {
			t[i] = roundNumbers(item)
		}
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil || d.Exponent() >= -2 {
			return t
		}
		return json.Number(d.Round(2).StringFixed(2))
	}
	return v
}
