package suite

import (
	"regexp"
	"strings"
)

// matcher selects suites and tests by a "suite/test" pattern. Both halves are
// case-insensitive regular expressions. An empty half matches everything.
type matcher struct {
	suite   *regexp.Regexp
	test    *regexp.Regexp
	pattern string
}

func newMatcher(pattern string) (*matcher, error) {
	m := &matcher{pattern: pattern}
	if pattern == "" {
		return m, nil
	}
	parts := splitPattern(pattern)
	var err error
	if parts[0] != "" {
		if m.suite, err = regexp.Compile("(?i:" + parts[0] + ")"); err != nil {
			return nil, err
		}
	}
	if rest := strings.Join(parts[1:], "/"); rest != "" {
		if m.test, err = regexp.Compile("(?i:" + rest + ")"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// matchSuite reports whether any test of the suite can match.
func (m *matcher) matchSuite(suite string) bool {
	return m.suite == nil || m.suite.MatchString(suite)
}

func (m *matcher) match(suite, test string) bool {
	return m.matchSuite(suite) && (m.test == nil || m.test.MatchString(test))
}

// splitPattern splits s at slashes that are outside of brackets and
// parentheses, like package testing does for -run.
func splitPattern(s string) []string {
	var (
		parts []string
		depth int // parentheses
		class bool
		start int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\':
			i++
		case c == '[':
			class = true
		case c == ']':
			class = false
		case class:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '/' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
