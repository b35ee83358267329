package shortcode

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// headerReadLimit is how much of a code file is searched for header fields.
const headerReadLimit = 8 * 1024

const (
	headerDisplayName    = "Shortcode Name"
	headerInsertTemplate = "Shortcode Tinymce Template"
)

var (
	headerDisplayNameRe    = headerFieldRegexp(headerDisplayName)
	headerInsertTemplateRe = headerFieldRegexp(headerInsertTemplate)
	headerCommentEndRe     = regexp.MustCompile(`\s*(?:\*/|\}\}).*`)
)

func headerFieldRegexp(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?mi)^[ \t/*#@{]*` + regexp.QuoteMeta(key) + `:(.*)$`)
}

// Collision records a name that was discovered more than once within a kind.
// Winner is the path kept in the catalog.
type Collision struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Loser  string `json:"loser"`
	Winner string `json:"winner"`
}

// DiscoverResult is the outcome of scanning the search roots for one kind.
type DiscoverResult struct {
	Bundles    map[string]Bundle
	Collisions []Collision
}

// Header holds the metadata fields of a code file.
type Header struct {
	DisplayName    string
	InsertTemplate string
}

// NameFromPath derives a shortcode name from a file path: the base name up to
// its first dot.
func NameFromPath(path string) string {
	base := filepath.Base(filepath.ToSlash(path))
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// Discover expands every pattern with the kind's extension appended and indexes the
// matching files by name. Later matches overwrite earlier ones with the same name.
// Patterns that are malformed or match nothing contribute nothing.
func Discover(kind Kind, patterns []string, logger *slog.Logger) DiscoverResult {
	res := DiscoverResult{Bundles: make(map[string]Bundle)}
	ext := kind.Extension()
	if ext == "" {
		return res
	}

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		paths, err := filepath.Glob(pattern + ext)
		if err != nil {
			logger.Warn("Skipping malformed shortcode glob", "pattern", pattern+ext, "error", err)
			continue
		}

		for _, path := range paths {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			name := NameFromPath(path)
			if name == "" {
				continue
			}

			b := Bundle{Name: name, Kind: kind, Path: path}
			if kind == KindCode {
				h, err := ReadHeader(path)
				if err != nil {
					logger.Warn("Failed to read shortcode header", "path", path, "error", err)
				}
				b.DisplayName = h.DisplayName
				b.InsertTemplate = h.InsertTemplate
			}

			if prev, ok := res.Bundles[name]; ok {
				res.Collisions = append(res.Collisions, Collision{Name: name, Kind: kind, Loser: prev.Path, Winner: path})
				logger.Warn("Duplicate shortcode name, later path wins", "name", name, "kind", kind, "previous", prev.Path, "path", path)
			}
			res.Bundles[name] = b
		}
	}
	return res
}

// ReadHeader extracts the metadata fields from the top of a code file.
// Fields that are absent come back empty. The error is non-nil only when the
// file itself could not be read.
func ReadHeader(path string) (Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	data, err := io.ReadAll(io.LimitReader(file, headerReadLimit))
	if err != nil {
		return Header{}, err
	}
	return ParseHeader(string(data)), nil
}

// ParseHeader extracts the metadata fields from the given text.
func ParseHeader(text string) Header {
	text = strings.ReplaceAll(text, "\r", "\n")
	return Header{
		DisplayName:    headerField(headerDisplayNameRe, text),
		InsertTemplate: headerField(headerInsertTemplateRe, text),
	}
}

func headerField(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(headerCommentEndRe.ReplaceAllString(m[1], ""))
}
