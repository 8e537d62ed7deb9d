package crawler

import "testing"

func TestTitleFilter(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		f := NewTitleFilter([]string{"What's New"})
		if f == nil {
			t.Fatalf("expected filter to be created")
		}
		if !f.Excluded("What's New") {
			t.Fatalf("expected placeholder title to be excluded")
		}
		if f.Excluded("what's new") {
			t.Fatalf("matching must be case sensitive")
		}
		if f.Excluded("What's New ") {
			t.Fatalf("matching must not trim")
		}
		if f.Excluded("Abbot I (Destroyer No. 184)") {
			t.Fatalf("real ship title must not be excluded")
		}
	})

	t.Run("several titles", func(t *testing.T) {
		f := NewTitleFilter([]string{"What's New", "Site Index", ""})
		if f.Len() != 2 {
			t.Fatalf("expected 2 titles, got %d", f.Len())
		}
		if !f.Excluded("Site Index") {
			t.Fatalf("expected Site Index to be excluded")
		}
	})

	t.Run("nil when empty", func(t *testing.T) {
		var f *TitleFilter = NewTitleFilter([]string{"", ""})
		if f != nil {
			t.Fatalf("expected nil filter for empty input")
		}
		if f.Excluded("What's New") {
			t.Fatalf("nil filter must not exclude anything")
		}
		if f.Len() != 0 {
			t.Fatalf("nil filter must report zero titles")
		}
	})
}
