package tags

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/CTAG07/Inserter/pkg/rewrite"
)

// Capture groups of the tag pattern.
const (
	groupEscapeOpen = 1
	groupName       = 2
	groupAttrs      = 3
	groupSelfClose  = 4
	groupContent    = 5
	groupEscapeEnd  = 6
)

var attrRe = regexp.MustCompile(`([\w-]+)\s*=\s*"([^"]*)"(?:\s|$)|([\w-]+)\s*=\s*'([^']*)'(?:\s|$)|([\w-]+)\s*=\s*([^\s'"]+)(?:\s|$)|"([^"]*)"(?:\s|$)|'([^']*)'(?:\s|$)|(\S+)(?:\s|$)`)

// tagRegexp builds the pattern matching any of names in its enclosing, self-closing and
// escaped ("[[name]]") forms. The closing tag must repeat the opening name.
func tagRegexp(names []string) *regexp2.Regexp {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp2.Escape(n)
	}
	pattern := `\[(\[?)(` + strings.Join(quoted, "|") + `)(?![\w-])` +
		`([^\]/]*(?:/(?!\])[^\]/]*)*?)` +
		`(?:(/)\]|\](?:((?>[^\[]*)(?>(?:\[(?!/\2\])(?>[^\[]*))*))\[/\2\])?)` +
		`(\]?)`
	return regexp2.MustCompile(pattern, regexp2.None)
}

// Expand replaces every registered tag in content with its handler's output. A tag
// written as "[[name]]" is left as the literal "[name]". Handlers run without any
// table lock held, so they may call Expand themselves for nested content.
func (t *Table) Expand(content string) string {
	if !strings.Contains(content, "[") {
		return content
	}

	handlers := t.Snapshot()
	present := rewrite.FindPresentTags(content, handlers.Names())
	if len(present) == 0 {
		return content
	}

	logger := t.currentLogger()
	out, err := tagRegexp(present).ReplaceFunc(content, func(m regexp2.Match) string {
		whole := m.String()
		open := m.GroupByNumber(groupEscapeOpen).String()
		end := m.GroupByNumber(groupEscapeEnd).String()
		if open == "[" && end == "]" {
			return whole[1 : len(whole)-1]
		}

		name := m.GroupByNumber(groupName).String()
		h, ok := handlers[name]
		if !ok {
			return whole
		}
		attrs := ParseAttrs(m.GroupByNumber(groupAttrs).String())
		body := m.GroupByNumber(groupContent).String()

		rendered, err := render(h, attrs, body)
		if err != nil {
			logger.Error("Shortcode handler failed", "tag", name, "error", err)
		}
		return open + rendered + end
	}, -1, -1)
	if err != nil {
		logger.Error("Failed to expand shortcodes", "error", err)
		return content
	}
	return out
}

// render calls the handler, turning a panic into an error and empty output.
func render(h Handler, attrs map[string]string, content string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Render(attrs, content), nil
}

// ParseAttrs parses the attribute text of a tag. Named attributes are keyed by their
// lower-cased name; bare and quoted values without a name are keyed by position.
func ParseAttrs(text string) map[string]string {
	attrs := make(map[string]string)
	text = strings.NewReplacer("\u00a0", " ", "\u200b", " ").Replace(text)
	text = strings.TrimSpace(text)
	if text == "" {
		return attrs
	}

	pos := 0
	positional := func(v string) {
		attrs[strconv.Itoa(pos)] = v
		pos++
	}
	for _, m := range attrRe.FindAllStringSubmatch(text, -1) {
		switch {
		case m[1] != "":
			attrs[strings.ToLower(m[1])] = m[2]
		case m[3] != "":
			attrs[strings.ToLower(m[3])] = m[4]
		case m[5] != "":
			attrs[strings.ToLower(m[5])] = m[6]
		case strings.HasPrefix(m[0], `"`):
			positional(m[7])
		case strings.HasPrefix(m[0], `'`):
			positional(m[8])
		default:
			positional(m[9])
		}
	}
	return attrs
}
