package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
)

// Wire shapes of the index API. Required keys are pointers so that a missing
// key can be told apart from a zero value.

type groupsPayload struct {
	Groups *[]groupEntry `json:"groups"`
}

type groupEntry struct {
	Group *key `json:"group"`
}

type subGroupsPayload struct {
	SubGroups *[]subGroupEntry `json:"subGroups"`
}

type subGroupEntry struct {
	RangeStartChar *string `json:"rangeStartChar"`
	RangeEndChar   *string `json:"rangeEndChar"`
	IsEmpty        flag    `json:"isEmpty"`
}

type shipListPayload struct {
	DANFs *[]stubEntry `json:"DANFs"`
}

type rangesPayload struct {
	Ranges *[]rangeEntry `json:"ranges"`
}

type rangeEntry struct {
	Offset  *number `json:"offset"`
	Limit   *number `json:"limit"`
	IsEmpty flag    `json:"isEmpty"`
}

type pagesPayload struct {
	Pages *[]stubEntry `json:"pages"`
}

type stubEntry struct {
	Path     *string `json:"path"`
	Title    *string `json:"title"`
	Subtitle *string `json:"subtitle"`
}

// key is a group key sent as either a JSON string or a number.
type key string

func (k *key) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = key(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("group key must be a string or number: %w", err)
	}
	*k = key(n.String())
	return nil
}

// number is an integer sent as a JSON number or a numeric string.
type number int

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("expected integer, got %s", string(data))
	}
	*n = number(v)
	return nil
}

// flag is the optional isEmpty marker: true, "true" (any case) or absent.
// Every other value reads as false.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = flag(t)
	case string:
		*f = flag(strings.EqualFold(strings.TrimSpace(t), "true"))
	default:
		*f = false
	}
	return nil
}

var errMissingKey = errors.New("missing required key")

func missing(name string) error {
	return fmt.Errorf("%w %q", errMissingKey, name)
}

func (p groupsPayload) groups() ([]crawler.IndexGroup, error) {
	if p.Groups == nil {
		return nil, missing("groups")
	}
	out := make([]crawler.IndexGroup, 0, len(*p.Groups))
	for i, g := range *p.Groups {
		if g.Group == nil {
			return nil, fmt.Errorf("groups[%d]: %w", i, missing("group"))
		}
		out = append(out, crawler.IndexGroup{Key: string(*g.Group)})
	}
	return out, nil
}

func (p subGroupsPayload) subgroups(group crawler.IndexGroup) ([]crawler.IndexSubgroup, error) {
	if p.SubGroups == nil {
		return nil, missing("subGroups")
	}
	out := make([]crawler.IndexSubgroup, 0, len(*p.SubGroups))
	for i, sg := range *p.SubGroups {
		sub := crawler.IndexSubgroup{GroupKey: group.Key, IsEmpty: bool(sg.IsEmpty)}
		// Range bounds are only needed to call through, so empty subgroups may omit them.
		if !sub.IsEmpty {
			if sg.RangeStartChar == nil {
				return nil, fmt.Errorf("subGroups[%d]: %w", i, missing("rangeStartChar"))
			}
			if sg.RangeEndChar == nil {
				return nil, fmt.Errorf("subGroups[%d]: %w", i, missing("rangeEndChar"))
			}
		}
		if sg.RangeStartChar != nil {
			sub.RangeStart = *sg.RangeStartChar
		}
		if sg.RangeEndChar != nil {
			sub.RangeEnd = *sg.RangeEndChar
		}
		out = append(out, sub)
	}
	return out, nil
}

func (p rangesPayload) ranges() ([]crawler.LetterRange, error) {
	if p.Ranges == nil {
		return nil, missing("ranges")
	}
	out := make([]crawler.LetterRange, 0, len(*p.Ranges))
	for i, r := range *p.Ranges {
		lr := crawler.LetterRange{IsEmpty: bool(r.IsEmpty)}
		if !lr.IsEmpty {
			if r.Offset == nil {
				return nil, fmt.Errorf("ranges[%d]: %w", i, missing("offset"))
			}
			if r.Limit == nil {
				return nil, fmt.Errorf("ranges[%d]: %w", i, missing("limit"))
			}
		}
		if r.Offset != nil {
			lr.Offset = int(*r.Offset)
		}
		if r.Limit != nil {
			lr.Limit = int(*r.Limit)
		}
		out = append(out, lr)
	}
	return out, nil
}

func stubs(field string, entries *[]stubEntry) ([]crawler.EntityStub, error) {
	if entries == nil {
		return nil, missing(field)
	}
	out := make([]crawler.EntityStub, 0, len(*entries))
	for i, e := range *entries {
		if e.Path == nil || strings.TrimSpace(*e.Path) == "" {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, missing("path"))
		}
		if e.Title == nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, missing("title"))
		}
		stub := crawler.EntityStub{Path: *e.Path, Title: *e.Title}
		if e.Subtitle != nil {
			stub.Subtitle = *e.Subtitle
		}
		out = append(out, stub)
	}
	return out, nil
}
