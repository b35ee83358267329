package rewrite

import (
	"slices"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"
)

// StripDisallowed removes every bracketed tag, opening or closing, whose name is not in
// allowed. Allowed tags keep their exact original text. With an empty allowed list every
// tag-like token is removed. Text between removed tags is left in place.
//
// Slashes are hidden behind a per-call sentinel while the tag pattern runs so that
// slashes inside surviving tags (URLs in attributes, self-closing "/]") are never
// touched, and closing-tag openers "[/" are protected from that substitution by a
// second sentinel.
func StripDisallowed(content string, allowed []string) string {
	if !strings.Contains(content, "[") {
		return content
	}

	closing := newSentinel(content)
	slash := newSentinel(content, closing)

	out := strings.ReplaceAll(content, "[/", closing)
	out = strings.ReplaceAll(out, "/", slash)
	out = strings.ReplaceAll(out, closing, "[/")

	if stripped, err := disallowedTagRegexp(allowed, slash).Replace(out, "", -1, -1); err == nil {
		out = stripped
	}

	return strings.ReplaceAll(out, slash, "/")
}

// disallowedTagRegexp matches "[" or "[/", a tag body and "]" (optionally preceded by
// a self-closing slash), unless the tag name is one of allowed. An allowed name must be
// the whole tag name, so it has to be followed by a character that cannot appear in a
// name or by the slash sentinel. The outer bracket of an escaped allowed tag ("[[name]]")
// is not treated as the start of a tag either.
func disallowedTagRegexp(allowed []string, slash string) *regexp2.Regexp {
	if len(allowed) == 0 {
		return regexp2.MustCompile(`(?:\[/?)[^/\]]+/?\]`, regexp2.Singleline)
	}

	names := make([]string, 0, len(allowed))
	for _, name := range allowed {
		if name == "" {
			continue
		}
		names = append(names, regexp2.Escape(name))
	}
	if len(names) == 0 {
		return disallowedTagRegexp(nil, slash)
	}

	kept := `(?:` + strings.Join(names, "|") + `)(?:[\x00-\x20\]=<>&\[]|` + regexp2.Escape(slash) + `)`
	pattern := `(?:\[/?)(?!` + kept + `)(?!\[` + kept + `)[^/\]]+/?\]`
	return regexp2.MustCompile(pattern, regexp2.Singleline)
}

// newSentinel returns a token that does not occur in content and differs from taken.
// Tokens are the hex digits of a version 7 UUID, which combines a millisecond timestamp
// with random bits, so every call gets a fresh one.
func newSentinel(content string, taken ...string) string {
	for {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		token := strings.ReplaceAll(id.String(), "-", "")
		if strings.Contains(content, token) || slices.Contains(taken, token) {
			continue
		}
		return token
	}
}
