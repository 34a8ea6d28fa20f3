package extract

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

type Delimiter string

const (
	NoDelimiter = Delimiter("")
	Colon       = Delimiter(":")
	Space       = Delimiter(" ")
)

// Token is one delimiter bounded segment of a text payload, or the value of a
// numeric payload. Index counts all segments, extractable or not.
type Token struct {
	Index       int    `json:"index"`
	Raw         string `json:"raw"`
	Extractable bool   `json:"extractable"`
}

type Tokenized struct {
	Tokens    []Token   `json:"tokens"`
	Delimiter Delimiter `json:"delimiter"`
	Numeric   bool      `json:"numeric"`
}

func (t Tokenized) Len() int {
	return len(t.Tokens)
}

func (t Tokenized) Extractable() []Token {
	ret := make([]Token, 0, len(t.Tokens))
	for _, token := range t.Tokens {
		if token.Extractable {
			ret = append(ret, token)
		}
	}
	return ret
}

func (t Tokenized) HasExtractable() bool {
	return slices.ContainsFunc(t.Tokens, func(token Token) bool {
		return token.Extractable
	})
}

func (t Tokenized) token(idx int) (Token, bool) {
	if idx < 0 || idx >= len(t.Tokens) {
		return Token{}, false
	}
	return t.Tokens[idx], true
}

var DefaultPlaceholders = []string{"n/a"}

type Tokenizer struct {
	// Placeholders are literals that stand in for a missing number and are
	// still offered for extraction. Matched case sensitively.
	Placeholders []string
}

func NewTokenizer(placeholders ...string) *Tokenizer {
	if len(placeholders) == 0 {
		placeholders = DefaultPlaceholders
	}
	return &Tokenizer{Placeholders: placeholders}
}

var defaultTokenizer = NewTokenizer()

// Tokenize splits a payload with the default placeholders.
func Tokenize(p Payload) Tokenized {
	return defaultTokenizer.Tokenize(p)
}

func (t *Tokenizer) Tokenize(p Payload) Tokenized {
	switch v := p.(type) {
	case Numeric:
		return Tokenized{
			Tokens:    []Token{{Index: 0, Raw: v.Value, Extractable: true}},
			Delimiter: NoDelimiter,
			Numeric:   true,
		}
	case Text:
		delim := SniffDelimiter(v.Body)
		parts := strings.Split(v.Body, string(delim))
		tokens := make([]Token, len(parts))
		for i, part := range parts {
			tokens[i] = Token{
				Index:       i,
				Raw:         part,
				Extractable: t.IsNumericToken(part),
			}
		}
		return Tokenized{Tokens: tokens, Delimiter: delim}
	}
	return Tokenized{Tokens: []Token{}}
}

// SniffDelimiter picks ':' only when it strictly outnumbers spaces.
func SniffDelimiter(text string) Delimiter {
	colons := strings.Count(text, string(Colon))
	spaces := strings.Count(text, string(Space))
	if colons > spaces {
		return Colon
	}
	return Space
}

func (t *Tokenizer) IsNumericToken(s string) bool {
	return IsFloat(s) || slices.Contains(t.Placeholders, s)
}

var floatRegex = regexp.MustCompile(`^-?\d+(?:[.,]\d*)?$`)
var intRegex = regexp.MustCompile(`^\d+$`)

func IsFloat(s string) bool {
	if !floatRegex.MatchString(s) {
		return false
	}
	_, ok := ParseValue(s)
	return ok
}

func IsInt(s string) bool {
	if !intRegex.MatchString(s) {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

// ParseValue parses a numeric token, accepting ',' as decimal separator.
func ParseValue(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
