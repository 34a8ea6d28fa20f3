package extract

import (
	"slices"
	"strings"
)

type Phase int

const (
	// Empty means no token is being edited.
	Empty Phase = iota
	// TokenChosen means a draft is collecting name and conversion for a token.
	TokenChosen
)

type Draft struct {
	TokenIndex int    `json:"tokenIndex"`
	FieldName  string `json:"fieldName"`
	Conversion string `json:"conversion,omitempty"`
}

// Builder is the field selection state for one preview. It is a value: every
// action returns a new Builder and never touches the receiver's selections.
type Builder struct {
	tokens     Tokenized
	selections []Selection
	phase      Phase
	draft      Draft
	hovered    int
}

func NewBuilder(t Tokenized) Builder {
	return Builder{
		tokens:     t,
		selections: []Selection{},
		phase:      Empty,
		hovered:    -1,
	}
}

type Action interface {
	apply(b Builder) Builder
}

type SelectToken struct{ Index int }
type SetFieldName struct{ Name string }
type SetConversion struct{ Conversion string }
type ConfirmAdd struct{}
type Cancel struct{}
type RemoveSelection struct{ Index int }

// Hover marks a token as hovered, or clears the mark when On is false.
type Hover struct {
	Index int
	On    bool
}

// Reset replaces the tokens and drops all selections, used when a new preview
// arrives or the builder is closed.
type Reset struct{ Tokens Tokenized }

func (b Builder) Apply(actions ...Action) Builder {
	for _, a := range actions {
		b = a.apply(b)
	}
	return b
}

func (a SelectToken) apply(b Builder) Builder {
	if b.IsSelected(a.Index) {
		return RemoveSelection(a).apply(b)
	}
	token, ok := b.tokens.token(a.Index)
	if !ok || !token.Extractable {
		return b
	}
	b.phase = TokenChosen
	b.draft = Draft{TokenIndex: a.Index}
	return b
}

func (a SetFieldName) apply(b Builder) Builder {
	if b.phase == TokenChosen {
		b.draft.FieldName = a.Name
	}
	return b
}

func (a SetConversion) apply(b Builder) Builder {
	if b.phase == TokenChosen {
		b.draft.Conversion = a.Conversion
	}
	return b
}

func (ConfirmAdd) apply(b Builder) Builder {
	if b.phase != TokenChosen || strings.TrimSpace(b.draft.FieldName) == "" {
		return b
	}
	selections := slices.DeleteFunc(slices.Clone(b.selections), func(s Selection) bool {
		return s.TokenIndex == b.draft.TokenIndex
	})
	selections = append(selections, Selection{
		TokenIndex: b.draft.TokenIndex,
		FieldName:  strings.TrimSpace(b.draft.FieldName),
		Conversion: b.draft.Conversion,
	})
	sortSelections(selections)
	b.selections = selections
	b.phase = Empty
	b.draft = Draft{}
	return b
}

func (Cancel) apply(b Builder) Builder {
	b.phase = Empty
	b.draft = Draft{}
	return b
}

func (a RemoveSelection) apply(b Builder) Builder {
	b.selections = slices.DeleteFunc(slices.Clone(b.selections), func(s Selection) bool {
		return s.TokenIndex == a.Index
	})
	return b
}

func (a Hover) apply(b Builder) Builder {
	if a.On {
		b.hovered = a.Index
	} else {
		b.hovered = -1
	}
	return b
}

func (a Reset) apply(_ Builder) Builder {
	return NewBuilder(a.Tokens)
}

func (b Builder) Tokens() Tokenized {
	return b.tokens
}

func (b Builder) Phase() Phase {
	return b.phase
}

func (b Builder) Selections() []Selection {
	return slices.Clone(b.selections)
}

// Pending returns the draft while a token is chosen.
func (b Builder) Pending() (Draft, bool) {
	return b.draft, b.phase == TokenChosen
}

func (b Builder) Hovered() (int, bool) {
	return b.hovered, b.hovered >= 0
}

func (b Builder) IsSelected(idx int) bool {
	return slices.ContainsFunc(b.selections, func(s Selection) bool {
		return s.TokenIndex == idx
	})
}

// CanSubmit reports whether a source with this name may be created from the
// current selections.
func (b Builder) CanSubmit(name string) bool {
	return len(b.selections) > 0 && strings.TrimSpace(name) != ""
}

func (b Builder) Pattern() (string, error) {
	return b.tokens.Compile(b.selections)
}

func (b Builder) Fields() []Field {
	return FieldsFromSelections(b.selections)
}
