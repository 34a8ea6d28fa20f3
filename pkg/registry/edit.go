package registry

import (
	"context"

	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/peek"
	"github.com/matst80/woof/pkg/types"
)

// EditSeed is what an editor needs to reopen a source: a fresh preview of its
// url and the stored fields projected onto the new tokens.
type EditSeed struct {
	Source     types.Source        `json:"source"`
	Preview    peek.Response       `json:"preview"`
	Tokens     extract.Tokenized   `json:"tokens"`
	Selections []extract.Selection `json:"selections"`
	Pattern    string              `json:"pattern,omitempty"`
	// Drift is set when the stored fields no longer fit the current body.
	Drift string `json:"drift,omitempty"`
}

func (r *Registry) EditSeed(ctx context.Context, id string, previewer Previewer) (EditSeed, error) {
	source, ok := r.Get(id)
	if !ok {
		return EditSeed{}, ErrNotFound
	}
	res, err := previewer.Fetch(ctx, source.Url)
	if err != nil {
		return EditSeed{}, err
	}
	return r.Seed(source, res), nil
}

// Seed projects the fields of source onto a preview without fetching.
func (r *Registry) Seed(source types.Source, res peek.Response) EditSeed {
	tokens := r.tokenizer.Tokenize(res.Payload())
	seed := EditSeed{
		Source:     source,
		Preview:    res,
		Tokens:     tokens,
		Selections: []extract.Selection{},
	}
	b, err := extract.SeedBuilder(tokens, source.Fields)
	if err != nil {
		seed.Drift = err.Error()
		return seed
	}
	seed.Selections = b.Selections()
	if pattern, err := b.Pattern(); err == nil {
		seed.Pattern = pattern
	}
	return seed
}
