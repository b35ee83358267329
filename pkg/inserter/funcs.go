package inserter

import (
	"fmt"
	"html/template"
	"reflect"
	"strings"

	"github.com/CTAG07/Inserter/pkg/tags"
)

func makeFuncMap(table *tags.Table) template.FuncMap {
	return template.FuncMap{
		// Nested tags
		"shortcodes": func(content any) template.HTML {
			return template.HTML(table.Expand(fmt.Sprint(content)))
		},

		// Attributes
		"attr":  attr,
		"isSet": isSet,

		// Strings
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"trim":  strings.TrimSpace,
		"split": split,

		// Logic & arithmetic
		"repeat": repeat,
		"list":   list,
		"add":    add,
		"sub":    sub,
		"inc":    inc,
		"and":    and,
		"or":     or,
		"not":    not,
	}
}

// attr returns attrs[key], or def when the attribute is missing or blank.
func attr(attrs map[string]string, key string, def ...string) string {
	if v := strings.TrimSpace(attrs[strings.ToLower(key)]); v != "" {
		return v
	}
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

// split splits s on sep, trimming each part and dropping empty ones.
func split(sep, s string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// isSet returns true if a value is not its zero value.
func isSet(val any) bool {
	v := reflect.ValueOf(val)
	if !v.IsValid() {
		return false
	}
	return !v.IsZero()
}

// repeat returns a slice of integers from 0 to count-1.
func repeat(count int) []int {
	if count < 0 {
		return []int{}
	}
	s := make([]int, count)
	for i := range s {
		s[i] = i
	}
	return s
}

// list returns a slice containing all the arguments passed to it.
func list(args ...any) []any {
	return args
}

func add(a, b int) int { return a + b }
func sub(a, b int) int { return a - b }
func inc(i int) int    { return i + 1 }

// and returns true only if all arguments are true.
func and(args ...bool) bool {
	for _, arg := range args {
		if !arg {
			return false
		}
	}
	return true
}

// or returns true if any argument is true.
func or(args ...bool) bool {
	for _, arg := range args {
		if arg {
			return true
		}
	}
	return false
}

func not(arg bool) bool {
	return !arg
}
