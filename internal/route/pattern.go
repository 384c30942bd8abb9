package route

import (
	"fmt"
	"strings"
)

// pattern is an Ant-style path pattern: "?" matches one character, "*" any
// run of characters inside a segment and "**" any number of segments.
type pattern struct {
	raw      string
	tokens   []string
	wildcard bool
}

func compilePattern(raw string) (pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return pattern{}, fmt.Errorf("%w: %q must start with /", ErrInvalidPattern, raw)
	}

	return pattern{
		raw:      raw,
		tokens:   tokenize(raw),
		wildcard: strings.ContainsAny(raw, "*?"),
	}, nil
}

func (p pattern) match(path string) bool {
	if !p.wildcard {
		return path == p.raw
	}

	if !strings.HasPrefix(path, "/") {
		return false
	}

	if !matchTokens(p.tokens, tokenize(path)) {
		return false
	}

	// "/orders/*" does not match "/orders/5/"; a trailing "**" absorbs the slash.
	if n := len(p.tokens); n > 0 && p.tokens[n-1] == "**" {
		return true
	}
	return strings.HasSuffix(p.raw, "/") == strings.HasSuffix(path, "/")
}

func tokenize(s string) []string {
	parts := strings.Split(s, "/")
	tokens := parts[:0]
	for _, part := range parts {
		if part != "" {
			tokens = append(tokens, part)
		}
	}
	return tokens
}

func matchTokens(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			for i := 0; i <= len(segs); i++ {
				if matchTokens(rest, segs[i:]) {
					return true
				}
			}
			return false
		}

		if len(segs) == 0 || !matchSegment(pat[0], segs[0]) {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}

	return len(segs) == 0
}

func matchSegment(pat, s string) bool {
	p, i := 0, 0
	starP, starI := -1, 0

	for i < len(s) {
		switch {
		case p < len(pat) && (pat[p] == '?' || pat[p] == s[i]):
			p++
			i++
		case p < len(pat) && pat[p] == '*':
			starP, starI = p, i
			p++
		case starP >= 0:
			starI++
			p, i = starP+1, starI
		default:
			return false
		}
	}

	for p < len(pat) && pat[p] == '*' {
		p++
	}
	return p == len(pat)
}
