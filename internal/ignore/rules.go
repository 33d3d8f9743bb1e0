// Package ignore implements the ignore-rule engine (spec §3/§4.6): ordered
// glob-style include/exclude rules, evaluated last-match-wins against a
// root-relative, separator-normalized path.
package ignore

import (
	"fmt"
	"regexp"
	"strings"
)

// RuleType is the verdict a matching rule applies.
type RuleType int

const (
	// Exclude means a matching rule marks the path as ignored.
	Exclude RuleType = iota
	// Include means a matching rule marks the path as not ignored.
	Include
)

// Rule is one compiled ignore pattern (spec §3 "IgnoreRule").
type Rule struct {
	pattern      string
	ruleType     RuleType
	rootAnchored bool
	matcher      *regexp.Regexp
}

// Pattern returns the rule's original pattern string.
func (r Rule) Pattern() string { return r.pattern }

// Type returns whether a match includes or excludes the path.
func (r Rule) Type() RuleType { return r.ruleType }

// parseRule compiles one glob line (spec §4.6 "Glob semantics"):
//   - a leading '!' flips the rule to Include.
//   - a leading '/' (after any '!') marks the rule root-anchored.
//   - '*' matches a run of non-separator characters, '**' matches any run
//     including separators, '?' matches one non-separator character, and
//     '[...]' is a character class. Matching is case-insensitive.
func parseRule(pattern string) (Rule, error) {
	raw := pattern
	ruleType := Exclude
	if strings.HasPrefix(raw, "!") {
		ruleType = Include
		raw = raw[1:]
	}

	rootAnchored := strings.HasPrefix(raw, "/")
	if rootAnchored {
		raw = strings.TrimPrefix(raw, "/")
	}
	raw = strings.TrimSuffix(raw, "/")

	if raw == "" {
		return Rule{}, fmt.Errorf("ignore: empty pattern %q", pattern)
	}

	matcher, err := compileGlob(raw)
	if err != nil {
		return Rule{}, fmt.Errorf("ignore: invalid pattern %q: %w", pattern, err)
	}

	return Rule{
		pattern:      pattern,
		ruleType:     ruleType,
		rootAnchored: rootAnchored,
		matcher:      matcher,
	}, nil
}

// compileGlob translates a glob pattern into an anchored, case-insensitive
// regexp. No library in the retrieval corpus implements gitignore-style
// glob compilation (checked: no doublestar/gobwas-glob/gitignore hit
// anywhere in the examples), so this translates the grammar directly to
// stdlib regexp rather than risk misusing an unfamiliar third-party glob
// engine's exact "**"/anchoring semantics — see DESIGN.md.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("(?i)^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				sb.WriteString(".*")
				i++
				// Swallow an immediately following separator so
				// "**/foo" also matches "foo" at the root.
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		case '[':
			j := i + 1
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				sb.WriteString(regexp.QuoteMeta(string(r)))
				continue
			}
			sb.WriteString("[" + string(runes[i+1:j]) + "]")
			i = j
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '\\':
			sb.WriteString(regexp.QuoteMeta(string(r)))
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteString("$")

	return regexp.Compile(sb.String())
}

// Set is an ordered sequence of rules plus a normalized root prefix (spec
// §3 "IgnoreRuleSet"). It is immutable after construction and safe to share
// across walker workers (spec §5).
type Set struct {
	rules []Rule
	root  string
}

// NewSet parses patterns in order and normalizes root to a '/'-separated
// prefix with no trailing separator.
func NewSet(root string, patterns []string) (*Set, error) {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		rule, err := parseRule(p)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return &Set{
		rules: rules,
		root:  normalizeSeparators(strings.TrimSuffix(normalizeSeparators(root), "/")),
	}, nil
}

// normalizeSeparators converts Windows-style separators to '/'.
func normalizeSeparators(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// relativeTo strips the set's root prefix from an absolute/normalized path,
// returning the remainder and whether the path is inside the root at all.
func (s *Set) relativeTo(path string) (string, bool) {
	p := normalizeSeparators(path)
	if s.root == "" {
		return strings.TrimPrefix(p, "/"), true
	}
	if p == s.root {
		return "", true
	}
	if strings.HasPrefix(p, s.root+"/") {
		return p[len(s.root)+1:], true
	}
	return "", false
}

// Match evaluates path against the rule set (spec §4.6): rules are applied
// in declaration order, each match overwrites the current verdict, the
// initial verdict is Include, and the final verdict is returned. Match
// returns true when the final verdict is Exclude, i.e. the path should be
// ignored.
func (s *Set) Match(path string) bool {
	normalized := normalizeSeparators(path)
	rel, insideRoot := s.relativeTo(normalized)

	verdict := Include
	for _, rule := range s.rules {
		candidate := normalized
		if rule.rootAnchored {
			if !insideRoot {
				continue
			}
			candidate = rel
		} else {
			// Non-anchored patterns may match either the full path or
			// just its base name, mirroring .gitignore semantics.
			if rule.matcher.MatchString(candidate) || rule.matcher.MatchString(baseName(candidate)) {
				verdict = rule.ruleType
				continue
			}
			continue
		}

		if rule.matcher.MatchString(candidate) {
			verdict = rule.ruleType
		}
	}

	return verdict == Exclude
}

func baseName(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
