package process

import "strings"

// DefaultSeparators split a window title into "<title><sep><artist>"
var DefaultSeparators = []string{" - ", " – "}

// ParseTitle splits raw on the last separator occurrence. Both halves are
// trimmed; ok is false when no separator exists or either half is empty.
func ParseTitle(raw string) (title, artist string, ok bool) {
	return parseWith(raw, DefaultSeparators)
}

func parseWith(raw string, separators []string) (title, artist string, ok bool) {
	idx, sepLen := -1, 0
	for _, sep := range separators {
		if sep == "" {
			continue
		}
		if i := strings.LastIndex(raw, sep); i > idx {
			idx, sepLen = i, len(sep)
		}
	}
	if idx < 0 {
		return "", "", false
	}

	title = strings.TrimSpace(raw[:idx])
	artist = strings.TrimSpace(raw[idx+sepLen:])
	if title == "" || artist == "" {
		return "", "", false
	}
	return title, artist, true
}

// TitleFilter decides which window titles may carry track information
type TitleFilter struct {
	Separators []string
	Excluded   []string
}

// NewTitleFilter builds a filter with the default separators
func NewTitleFilter(excluded []string) TitleFilter {
	return TitleFilter{Separators: DefaultSeparators, Excluded: excluded}
}

// Accept reports whether raw contains a separator and none of the excluded labels
func (f TitleFilter) Accept(raw string) bool {
	for _, label := range f.Excluded {
		if label != "" && strings.Contains(raw, label) {
			return false
		}
	}
	for _, sep := range f.separators() {
		if sep != "" && strings.Contains(raw, sep) {
			return true
		}
	}
	return false
}

// Parse runs ParseTitle with the filter's separators
func (f TitleFilter) Parse(raw string) (title, artist string, ok bool) {
	return parseWith(raw, f.separators())
}

func (f TitleFilter) separators() []string {
	if len(f.Separators) == 0 {
		return DefaultSeparators
	}
	return f.Separators
}
