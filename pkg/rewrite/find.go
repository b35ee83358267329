package rewrite

import (
	"regexp"
	"slices"
	"strings"
)

// tagOpenerRe matches "[" followed by a tag name. Closing tags ("[/name]") never match
// because "/" is not a name character.
var tagOpenerRe = regexp.MustCompile(`\[([^<>&/\[\]\x00-\x20=]+)`)

// FindPresentTags returns the sorted, de-duplicated names from registered that occur as
// tag openers in content. It returns nil when none do.
func FindPresentTags(content string, registered map[string]struct{}) []string {
	if len(registered) == 0 || !strings.Contains(content, "[") {
		return nil
	}

	var present []string
	seen := make(map[string]struct{})
	for _, m := range tagOpenerRe.FindAllStringSubmatch(content, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := registered[name]; ok {
			present = append(present, name)
		}
	}
	slices.Sort(present)
	return present
}
