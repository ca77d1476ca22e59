package helpers

import (
	"errors"
	"strings"
)

// ErrNoJSON reports that a model reply carried no complete JSON value.
var ErrNoJSON = errors.New("no JSON value found")

// ExtractJSON returns the first complete JSON object or array embedded in
// s. Model replies wrap their JSON in code fences, lead with prose or
// append explanations; this unwraps one fenced block when present, then
// scans for the first balanced value, ignoring braces inside string
// literals.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\uFEFF")
	if inner, ok := unfence(s); ok {
		s = strings.TrimSpace(inner)
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if end, ok := balancedEnd(s, i); ok {
				return s[i : end+1], nil
			}
		}
	}
	return "", ErrNoJSON
}

// unfence strips the first ``` or ~~~ fenced block, tolerating a language
// tag on the opening line. Input that does not start with a fence is
// returned untouched via ok=false.
func unfence(s string) (string, bool) {
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return "", false
		}
		rest = rest[nl+1:]
		if end := strings.Index(rest, fence); end >= 0 {
			return rest[:end], true
		}
		return "", false
	}
	return "", false
}

// balancedEnd walks s from the opener at start and returns the index of
// its matching close. String literals and escape sequences are skipped so
// quoted braces never unbalance the scan; a close of the wrong kind
// aborts.
func balancedEnd(s string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return 0, false
			}
			open := stack[len(stack)-1]
			if (open == '{' && c != '}') || (open == '[' && c != ']') {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
