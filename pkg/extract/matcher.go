package extract

import (
	"errors"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrNoMatch = errors.New("body does not match pattern")

// Matcher runs stored patterns against fetched bodies, keeping recently used
// patterns compiled.
type Matcher struct {
	cache *lru.Cache[string, *regexp.Regexp]
}

func NewMatcher(size int) *Matcher {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return &Matcher{cache: cache}
}

func (m *Matcher) Regexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := m.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.cache.Add(pattern, re)
	return re, nil
}

// Match returns the capture groups of pattern on the first line of body, in
// group order.
func (m *Matcher) Match(pattern, body string) ([]string, error) {
	re, err := m.Regexp(pattern)
	if err != nil {
		return nil, err
	}
	groups := re.FindStringSubmatch(FirstLine(body))
	if groups == nil {
		return nil, ErrNoMatch
	}
	return groups[1:], nil
}

// Groups reports the number of capture groups in pattern.
func (m *Matcher) Groups(pattern string) (int, error) {
	re, err := m.Regexp(pattern)
	if err != nil {
		return 0, err
	}
	return re.NumSubexp(), nil
}
