package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/matst80/woof/pkg/conversion"
	"github.com/matst80/woof/pkg/extract"
	"github.com/matst80/woof/pkg/registry"
	"github.com/matst80/woof/pkg/types"
)

var (
	errQuit       = errors.New("quit")
	errNoPreview  = errors.New("peek a url first")
	errNotEditing = errors.New("not editing a source, use edit <id> first")
)

type sourceApi interface {
	Preview(ctx context.Context, url string) (previewResult, error)
	EditSeed(ctx context.Context, id string) (registry.EditSeed, error)
	Create(ctx context.Context, req registry.SourceRequest) (types.Source, error)
	Update(ctx context.Context, id string, req registry.SourceRequest) (types.Source, error)
}

type previewResult struct {
	Url    string
	Tokens extract.Tokenized
}

// session holds the builder for the source being put together in the
// terminal. Every command replaces the builder with the result of an action.
type session struct {
	api     sourceApi
	out     io.Writer
	builder extract.Builder
	url     string
	editing string
	name    string
}

func newSession(api sourceApi, out io.Writer) *session {
	return &session{
		api:     api,
		out:     out,
		builder: extract.NewBuilder(extract.Tokenized{}),
	}
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func index(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected a token index")
	}
	if !extract.IsInt(args[0]) {
		return 0, fmt.Errorf("%q is not a token index", args[0])
	}
	return strconv.Atoi(args[0])
}

// Run executes one command line. errQuit ends the session.
func (s *session) Run(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]
	switch cmd {
	case "peek":
		if len(args) != 1 {
			return errors.New("usage: peek <url>")
		}
		return s.peek(ctx, args[0])
	case "select":
		idx, err := index(args)
		if err != nil {
			return err
		}
		wasSelected := s.builder.IsSelected(idx)
		s.builder = s.builder.Apply(extract.SelectToken{Index: idx})
		if wasSelected {
			s.printf("removed token %d\n", idx)
			return nil
		}
		if _, ok := s.builder.Pending(); !ok {
			return fmt.Errorf("token %d can not be extracted", idx)
		}
		s.printf("token %d chosen, give it a name\n", idx)
	case "name":
		if _, ok := s.builder.Pending(); !ok {
			return errors.New("select a token first")
		}
		s.builder = s.builder.Apply(extract.SetFieldName{Name: strings.Join(args, " ")})
	case "conv":
		if _, ok := s.builder.Pending(); !ok {
			return errors.New("select a token first")
		}
		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		if !conversion.Valid(id) {
			return fmt.Errorf("%w: %s", conversion.ErrUnknownConversion, id)
		}
		s.builder = s.builder.Apply(extract.SetConversion{Conversion: id})
	case "add":
		draft, ok := s.builder.Pending()
		if !ok {
			return errors.New("select a token first")
		}
		s.builder = s.builder.Apply(extract.ConfirmAdd{})
		if _, ok := s.builder.Pending(); ok {
			return errors.New("the field needs a name")
		}
		s.printf("added %q from token %d\n", strings.TrimSpace(draft.FieldName), draft.TokenIndex)
	case "cancel":
		s.builder = s.builder.Apply(extract.Cancel{})
	case "remove":
		idx, err := index(args)
		if err != nil {
			return err
		}
		s.builder = s.builder.Apply(extract.RemoveSelection{Index: idx})
	case "show":
		s.show()
	case "create":
		return s.create(ctx, strings.Join(args, " "))
	case "update":
		return s.update(ctx, strings.Join(args, " "))
	case "edit":
		if len(args) != 1 {
			return errors.New("usage: edit <id>")
		}
		return s.edit(ctx, args[0])
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (s *session) peek(ctx context.Context, url string) error {
	res, err := s.api.Preview(ctx, url)
	if err != nil {
		return err
	}
	s.builder = s.builder.Apply(extract.Reset{Tokens: res.Tokens})
	s.url = res.Url
	s.editing = ""
	s.name = ""
	if !res.Tokens.HasExtractable() {
		s.printf("nothing in %s can be extracted\n", res.Url)
	}
	s.show()
	return nil
}

func (s *session) edit(ctx context.Context, id string) error {
	seed, err := s.api.EditSeed(ctx, id)
	if err != nil {
		return err
	}
	b, err := extract.SeedBuilder(seed.Tokens, seed.Source.Fields)
	if err != nil {
		s.printf("stored fields do not fit the current body: %v\n", err)
		b = extract.NewBuilder(seed.Tokens)
	}
	s.builder = b
	s.url = seed.Source.Url
	s.editing = seed.Source.Id
	s.name = seed.Source.Name
	s.show()
	return nil
}

func (s *session) request(name string) (registry.SourceRequest, error) {
	if s.url == "" {
		return registry.SourceRequest{}, errNoPreview
	}
	if !s.builder.CanSubmit(name) {
		return registry.SourceRequest{}, errors.New("a name and at least one field are required")
	}
	pattern, err := s.builder.Pattern()
	if err != nil {
		return registry.SourceRequest{}, err
	}
	return registry.SourceRequest{
		Url:     s.url,
		Name:    strings.TrimSpace(name),
		Fields:  s.builder.Fields(),
		Pattern: pattern,
	}, nil
}

func (s *session) create(ctx context.Context, name string) error {
	req, err := s.request(name)
	if err != nil {
		return err
	}
	source, err := s.api.Create(ctx, req)
	if err != nil {
		// keep the selections so the create can be retried
		return err
	}
	s.printf("created %s (%s)\n", source.Name, source.Id)
	s.builder = s.builder.Apply(extract.Reset{})
	s.url = ""
	return nil
}

func (s *session) update(ctx context.Context, name string) error {
	if s.editing == "" {
		return errNotEditing
	}
	if strings.TrimSpace(name) == "" {
		name = s.name
	}
	req, err := s.request(name)
	if err != nil {
		return err
	}
	source, err := s.api.Update(ctx, s.editing, req)
	if err != nil {
		return err
	}
	s.printf("updated %s (%s)\n", source.Name, source.Id)
	s.name = source.Name
	return nil
}

func (s *session) show() {
	tokens := s.builder.Tokens()
	if tokens.Len() == 0 {
		s.printf("no preview\n")
		return
	}
	names := make(map[int]string)
	for _, sel := range s.builder.Selections() {
		names[sel.TokenIndex] = sel.FieldName
	}
	draft, pending := s.builder.Pending()
	for _, t := range tokens.Tokens {
		marker := " "
		switch {
		case pending && draft.TokenIndex == t.Index:
			marker = ">"
		case names[t.Index] != "":
			marker = "*"
		case t.Extractable:
			marker = "+"
		}
		line := fmt.Sprintf("%s %3d  %s", marker, t.Index, t.Raw)
		if name, ok := names[t.Index]; ok {
			line += "  [" + name + "]"
		}
		s.printf("%s\n", line)
	}
	if pending {
		s.printf("draft: token %d name %q conversion %q\n", draft.TokenIndex, draft.FieldName, draft.Conversion)
	}
	if pattern, err := s.builder.Pattern(); err == nil && len(s.builder.Selections()) > 0 {
		s.printf("pattern: %s\n", pattern)
	}
}
