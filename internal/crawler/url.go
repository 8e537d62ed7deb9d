package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ResolveURL joins a site-relative path onto the site root. The root must be
// absolute; a path below the root (e.g. "http://host/site") is kept. A path
// that does not parse as a URL reference is escaped as a literal path.
func ResolveURL(siteRoot, relPath string) (string, error) {
	base, err := url.Parse(siteRoot)
	if err != nil {
		return "", fmt.Errorf("parse site root: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("site root %q must be absolute", siteRoot)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	rel := strings.TrimLeft(relPath, "/")
	ref, err := url.Parse(rel)
	if err != nil {
		// Not valid URL syntax (e.g. a bare "%"): treat it as a literal path.
		ref = &url.URL{Path: rel}
	}
	return base.ResolveReference(ref).String(), nil
}

// PageURL joins the site root with the stub path and the ".html" suffix,
// the way the site addresses detail pages. Leading slashes in pathFragment
// are optional.
func PageURL(siteRoot, pathFragment string) (string, error) {
	return ResolveURL(siteRoot, pathFragment+".html")
}

// RecordID returns the final segment of pathFragment, which doubles as the
// record's primary key. A trailing slash is ignored.
func RecordID(pathFragment string) string {
	trimmed := strings.TrimRight(pathFragment, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}

// NewRecord assembles the persisted record for a stub.
func NewRecord(siteRoot string, stub EntityStub, body string) (EntityRecord, error) {
	pageURL, err := PageURL(siteRoot, stub.Path)
	if err != nil {
		return EntityRecord{}, err
	}
	return EntityRecord{
		ID:       RecordID(stub.Path),
		URL:      pageURL,
		Title:    stub.Title,
		Subtitle: stub.Subtitle,
		Body:     body,
	}, nil
}
