package extract

import "strings"

// PayloadKind tells the two preview shapes apart.
type PayloadKind int

const (
	KindNumeric PayloadKind = iota
	KindText
)

func (k PayloadKind) String() string {
	if k == KindNumeric {
		return "NUMERIC"
	}
	return "TEXT"
}

// Payload is the body of a preview fetch, either a bare number or a line of text.
type Payload interface {
	Kind() PayloadKind
	Raw() string
}

type Numeric struct {
	Value string
}

func (Numeric) Kind() PayloadKind { return KindNumeric }
func (n Numeric) Raw() string     { return n.Value }

type Text struct {
	Body string
}

func (Text) Kind() PayloadKind { return KindText }
func (t Text) Raw() string     { return t.Body }

// ParsePayload maps the peek wire discriminator onto a Payload.
// Anything that is not "NUMERIC" is treated as text.
func ParsePayload(typ, value string) Payload {
	if strings.EqualFold(typ, KindNumeric.String()) {
		return Numeric{Value: value}
	}
	return Text{Body: value}
}

// FirstLine returns the trimmed first line of a response body. Patterns are
// anchored with ^ and $ so both preview and extraction work on a single line.
func FirstLine(body string) string {
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}

// Classify decides the payload shape of a fetched body.
func Classify(body string) Payload {
	line := FirstLine(body)
	if IsFloat(line) {
		return Numeric{Value: line}
	}
	return Text{Body: line}
}
