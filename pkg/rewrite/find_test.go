package rewrite

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func names(n ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(n))
	for _, v := range n {
		set[v] = struct{}{}
	}
	return set
}

func TestFindPresentTags(t *testing.T) {
	registered := names("alert", "gallery", "url-tag", "quote")

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "empty content", content: "", want: nil},
		{name: "no bracket", content: "plain text with alert and gallery", want: nil},
		{name: "single tag", content: "before [alert]x[/alert] after", want: []string{"alert"}},
		{name: "attributes and self closing", content: `[gallery ids="1,2"/] [url-tag link="http://x/y"]`, want: []string{"gallery", "url-tag"}},
		{name: "duplicates collapse", content: "[quote][quote][quote]", want: []string{"quote"}},
		{name: "closing tag alone is not an opener", content: "text [/alert] text", want: nil},
		{name: "unregistered ignored", content: "[unknown] [alert]", want: []string{"alert"}},
		{name: "name stops at equals and whitespace", content: "[alert=1][gallery\n]", want: []string{"alert", "gallery"}},
		{name: "name must match exactly", content: "[alerts] [galleryx]", want: nil},
		{name: "escaped form still detected", content: "[[alert]]", want: []string{"alert"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FindPresentTags(tt.content, registered)); diff != "" {
				t.Errorf("FindPresentTags(%q) mismatch (-want +got):\n%s", tt.content, diff)
			}
		})
	}
}

func TestFindPresentTags_NoRegisteredNames(t *testing.T) {
	if got := FindPresentTags("[alert]", nil); got != nil {
		t.Errorf("expected nil with no registered names, got %v", got)
	}
	if got := FindPresentTags("", names("alert")); got != nil {
		t.Errorf("expected nil for empty content, got %v", got)
	}
}
