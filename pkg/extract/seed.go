package extract

import (
	"cmp"
	"fmt"
	"slices"
)

// Field is the stored shape of a selection on a source.
type Field struct {
	Field      int    `json:"field"`
	Name       string `json:"name"`
	Conversion string `json:"conversion,omitempty"`
}

func FieldsFromSelections(selections []Selection) []Field {
	ret := make([]Field, len(selections))
	for i, s := range selections {
		ret[i] = Field{
			Field:      s.TokenIndex,
			Name:       s.FieldName,
			Conversion: s.Conversion,
		}
	}
	return ret
}

func sortSelections(selections []Selection) {
	slices.SortStableFunc(selections, func(a, b Selection) int {
		return cmp.Compare(a.TokenIndex, b.TokenIndex)
	})
}

// SeedSelections projects stored fields onto a fresh tokenization of the same
// url. The stored pattern is never parsed; fields carry everything needed.
func SeedSelections(t Tokenized, fields []Field) ([]Selection, error) {
	ret := make([]Selection, 0, len(fields))
	for _, f := range fields {
		token, ok := t.token(f.Field)
		if !ok {
			return nil, fmt.Errorf("field %q: %w: %d", f.Name, ErrUnknownToken, f.Field)
		}
		if !token.Extractable {
			return nil, fmt.Errorf("field %q: %w: %d (%q)", f.Name, ErrNotExtractable, f.Field, token.Raw)
		}
		ret = append(ret, Selection{
			TokenIndex: f.Field,
			FieldName:  f.Name,
			Conversion: f.Conversion,
		})
	}
	sortSelections(ret)
	for i := 1; i < len(ret); i++ {
		if ret[i].TokenIndex == ret[i-1].TokenIndex {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateSelection, ret[i].TokenIndex)
		}
	}
	return ret, nil
}

func SeedBuilder(t Tokenized, fields []Field) (Builder, error) {
	selections, err := SeedSelections(t, fields)
	if err != nil {
		return NewBuilder(t), err
	}
	b := NewBuilder(t)
	b.selections = selections
	return b, nil
}
