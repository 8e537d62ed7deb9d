package crawler

// TitleFilter drops stubs whose title exactly matches a configured
// placeholder title (navigation entries that are not real ship records).
type TitleFilter struct {
	exact map[string]struct{}
}

// NewTitleFilter builds a filter from configured titles. Matching is exact:
// no trimming or case folding, since the upstream titles are verbatim.
// It returns nil when no titles are configured; a nil filter excludes nothing.
func NewTitleFilter(titles []string) *TitleFilter {
	filter := &TitleFilter{exact: make(map[string]struct{}, len(titles))}
	for _, title := range titles {
		if title == "" {
			continue
		}
		filter.exact[title] = struct{}{}
	}
	if len(filter.exact) == 0 {
		return nil
	}
	return filter
}

// Excluded reports whether a stub with this title must be skipped.
func (f *TitleFilter) Excluded(title string) bool {
	if f == nil {
		return false
	}
	_, ok := f.exact[title]
	return ok
}

// Len returns the number of excluded titles.
func (f *TitleFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.exact)
}
