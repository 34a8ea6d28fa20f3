package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrUnsortedSelections = errors.New("selections not sorted by token index")
	ErrDuplicateSelection = errors.New("token selected more than once")
	ErrUnknownToken       = errors.New("token index out of range")
	ErrNotExtractable     = errors.New("token is not extractable")
)

// NumericPattern captures a whole single value. It is the only pattern a
// NUMERIC payload compiles to, and its one group is always token 0.
const NumericPattern = `^(.*?)$`

// Selection binds an extractable token to a field name and an optional
// conversion tag. The conversion is opaque here.
type Selection struct {
	TokenIndex int    `json:"tokenIndex"`
	FieldName  string `json:"fieldName"`
	Conversion string `json:"conversion,omitempty"`
}

// Compile turns the selections into a pattern with one capture group per
// selection, in token order. Unselected tokens are skipped with non-capturing
// segments regardless of their content.
func Compile(tokens []Token, delim Delimiter, selections []Selection) (string, error) {
	if err := validateSelections(tokens, selections); err != nil {
		return "", err
	}
	if delim == NoDelimiter {
		return NumericPattern, nil
	}

	d := regexp.QuoteMeta(string(delim))
	final := len(tokens) - 1
	last := -1

	var b strings.Builder
	b.WriteString("^")
	for _, s := range selections {
		idx := s.TokenIndex
		switch skip := idx - last - 1; {
		case skip == 1:
			fmt.Fprintf(&b, "[^%s]*%s", d, d)
		case skip > 1:
			fmt.Fprintf(&b, "(?:[^%s]*%s){%d}", d, d, skip)
		}
		b.WriteString("(.*?)")
		if idx != final {
			b.WriteString(d)
		}
		last = idx
	}
	if last != final {
		b.WriteString(".*?")
	}
	b.WriteString("$")
	return b.String(), nil
}

// MustCompile is Compile for callers that already hold validated selections.
func MustCompile(tokens []Token, delim Delimiter, selections []Selection) string {
	pattern, err := Compile(tokens, delim, selections)
	if err != nil {
		panic(err)
	}
	return pattern
}

func (t Tokenized) Compile(selections []Selection) (string, error) {
	if t.Numeric {
		if err := validateSelections(t.Tokens, selections); err != nil {
			return "", err
		}
		return NumericPattern, nil
	}
	return Compile(t.Tokens, t.Delimiter, selections)
}

func validateSelections(tokens []Token, selections []Selection) error {
	last := -1
	for i, s := range selections {
		idx := s.TokenIndex
		if idx < 0 || idx >= len(tokens) {
			return fmt.Errorf("%w: %d", ErrUnknownToken, idx)
		}
		if !tokens[idx].Extractable {
			return fmt.Errorf("%w: %d (%q)", ErrNotExtractable, idx, tokens[idx].Raw)
		}
		if i > 0 {
			if idx == last {
				return fmt.Errorf("%w: %d", ErrDuplicateSelection, idx)
			}
			if idx < last {
				return fmt.Errorf("%w: %d after %d", ErrUnsortedSelections, idx, last)
			}
		}
		last = idx
	}
	return nil
}
