package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// MatchTimeout bounds a single backtracking match.
const MatchTimeout = 50 * time.Millisecond

var (
	ErrEmptyPattern = errors.New("empty pattern")

	// inlineCaseFlag matches (?i) tokens; case folding is always on.
	inlineCaseFlag = regexp.MustCompile(`\(\?i\)`)
	// literalForm matches /body/flags as written in JavaScript sources.
	literalForm = regexp.MustCompile(`^/(.+)/([a-z]*)$`)
)

// Matcher is one compiled pattern with the source it came from.
type Matcher struct {
	Source string
	re     *regexp2.Regexp
}

// Compile builds a case-insensitive matcher. Sources may be bare expressions
// or /body/flags literals; the m and s flags are honored, the rest ignored.
func Compile(src string) (*Matcher, error) {
	expr := strings.TrimSpace(src)
	opts := regexp2.RegexOptions(regexp2.IgnoreCase)

	if m := literalForm.FindStringSubmatch(expr); m != nil {
		expr = m[1]
		if strings.ContainsRune(m[2], 'm') {
			opts |= regexp2.Multiline
		}
		if strings.ContainsRune(m[2], 's') {
			opts |= regexp2.Singleline
		}
	}
	expr = inlineCaseFlag.ReplaceAllString(expr, "")
	if expr == "" {
		return nil, ErrEmptyPattern
	}

	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern %q: %w", src, err)
	}
	re.MatchTimeout = MatchTimeout
	return &Matcher{Source: src, re: re}, nil
}

// Match reports whether text contains a match. A timed-out match counts as
// no match.
func (m *Matcher) Match(text string) bool {
	ok, err := m.re.MatchString(text)
	return err == nil && ok
}

// CompileAll compiles every source, dropping the ones that fail.
func CompileAll(sources []string) ([]*Matcher, int) {
	out := make([]*Matcher, 0, len(sources))
	failed := 0
	for _, src := range sources {
		m, err := Compile(src)
		if err != nil {
			failed++
			continue
		}
		out = append(out, m)
	}
	return out, failed
}
