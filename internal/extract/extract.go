// Package extract pulls the ship-history fragment out of a detail page.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultBodyContainer selects the element wrapping the page's article body.
	DefaultBodyContainer = "div.bodyContainer"
	// DefaultSection selects the text sections inside the body container.
	// It matches any div carrying all three classes, in any order and next to
	// other classes. Use `div[class="text parbase section"]` to require the
	// exact attribute value instead.
	DefaultSection = "div.text.parbase.section"
)

// Config holds the structural markers used to locate the fragment.
type Config struct {
	BodyContainer string
	Section       string
}

// Extractor serializes the text sections of a detail page.
type Extractor struct {
	container string
	section   string
}

// New builds an Extractor, falling back to the default markers for empty fields.
func New(cfg Config) *Extractor {
	if strings.TrimSpace(cfg.BodyContainer) == "" {
		cfg.BodyContainer = DefaultBodyContainer
	}
	if strings.TrimSpace(cfg.Section) == "" {
		cfg.Section = DefaultSection
	}
	return &Extractor{
		container: cfg.BodyContainer,
		section:   cfg.Section,
	}
}

var defaultExtractor = New(Config{})

// ExtractBody runs the default extractor. It never fails: a page without a
// body container yields "".
func ExtractBody(html string) string {
	body, _ := defaultExtractor.Extract(html)
	return body
}

// Extract returns the outer HTML of every section inside the first body
// container, concatenated in document order with no separator. found is false
// when the input could not be parsed or has no body container; body is then "".
// A container without sections is found with an empty body.
func (e *Extractor) Extract(html string) (body string, found bool) {
	if strings.TrimSpace(html) == "" {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	container := doc.Find(e.container).First()
	if container.Length() == 0 {
		return "", false
	}

	var b strings.Builder
	container.Find(e.section).Each(func(_ int, s *goquery.Selection) {
		markup, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		b.WriteString(markup)
	})
	return b.String(), true
}
