package githubapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Language is one entry of the language breakdown.
type Language struct {
	Name  string
	Bytes int64
}

// Languages keeps the provider's key order, which decides the dominant
// language. encoding/json maps would lose it.
type Languages []Language

func (l *Languages) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*l = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("languages: expected object, got %v", tok)
	}
	out := Languages{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("languages: unexpected key %v", keyTok)
		}
		var n float64
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("languages: %s: %w", key, err)
		}
		out = append(out, Language{Name: key, Bytes: int64(n)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*l = out
	return nil
}

// Total sums bytes across all languages.
func (l Languages) Total() int64 {
	var total int64
	for _, lang := range l {
		total += lang.Bytes
	}
	return total
}
