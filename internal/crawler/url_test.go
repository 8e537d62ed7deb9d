package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageURL(t *testing.T) {
	testCases := []struct {
		name     string
		root     string
		fragment string
		expected string
	}{
		{"relative fragment", "http://www.history.navy.mil", "research/x/ship-1", "http://www.history.navy.mil/research/x/ship-1.html"},
		{"leading slash", "http://www.history.navy.mil", "/research/x/ship-1", "http://www.history.navy.mil/research/x/ship-1.html"},
		{"root with trailing slash", "http://www.history.navy.mil/", "/research/x/ship-1", "http://www.history.navy.mil/research/x/ship-1.html"},
		{"root with path", "http://127.0.0.1:8080/site", "research/ship-2", "http://127.0.0.1:8080/site/research/ship-2.html"},
		{"bare percent", "http://www.history.navy.mil", "research/x/100%-club", "http://www.history.navy.mil/research/x/100%25-club.html"},
		{"existing escape kept", "http://www.history.navy.mil", "research/x/caf%C3%A9", "http://www.history.navy.mil/research/x/caf%C3%A9.html"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PageURL(tc.root, tc.fragment)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestPageURLRejectsRelativeRoot(t *testing.T) {
	_, err := PageURL("www.history.navy.mil", "research/x")
	require.Error(t, err)
}

func TestRecordIDIsFinalSegment(t *testing.T) {
	testCases := map[string]string{
		"a/b/c/ship-x":                        "ship-x",
		"ship-x":                              "ship-x",
		"/research/histories/danfs/a/abbot-i": "abbot-i",
		"research/x/ship-1/":                  "ship-1",
		"":                                    "",
		"/":                                   "",
	}
	for fragment, want := range testCases {
		assert.Equal(t, want, RecordID(fragment), "fragment %q", fragment)
	}
}

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord("http://example.com", EntityStub{
		Path:     "research/x/ship-1",
		Title:    "Ship One",
		Subtitle: "DD-1",
	}, "<div>body</div>")
	require.NoError(t, err)
	assert.Equal(t, EntityRecord{
		ID:       "ship-1",
		URL:      "http://example.com/research/x/ship-1.html",
		Title:    "Ship One",
		Subtitle: "DD-1",
		Body:     "<div>body</div>",
	}, rec)
}

func TestPageOK(t *testing.T) {
	assert.True(t, Page{StatusCode: 200}.OK())
	assert.True(t, Page{StatusCode: 204}.OK())
	assert.False(t, Page{StatusCode: 301}.OK())
	assert.False(t, Page{StatusCode: 404}.OK())
	assert.False(t, Page{}.OK())
}

func TestResolveURLKeepsColonSegments(t *testing.T) {
	got, err := ResolveURL("http://www.history.navy.mil", "research/histories/ship-histories/danfs/jcr:content/api.json")
	require.NoError(t, err)
	assert.Equal(t, "http://www.history.navy.mil/research/histories/ship-histories/danfs/jcr:content/api.json", got)
}

func TestNewRecordWithBarePercentKeepsURL(t *testing.T) {
	rec, err := NewRecord("http://example.com", EntityStub{Path: "research/x/100%-club", Title: "Club"}, "")
	require.NoError(t, err)
	assert.Equal(t, "100%-club", rec.ID)
	assert.Equal(t, "http://example.com/research/x/100%25-club.html", rec.URL)
}
