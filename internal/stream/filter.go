package stream

import (
	"fmt"
	"strings"

	"plume/internal/identity"
)

// FilterDelimiter separates handles in a timeline filter path segment.
const FilterDelimiter = "&"

// QueryFilterDelimiter separates handles inside a query-string filter value,
// where "&" would start a new parameter instead of a new handle.
const QueryFilterDelimiter = ","

// ParseTimelineFilter parses a raw `@a&@b` filter segment into a handle set.
// Empty segments and handles missing the sigil reject the whole filter.
func ParseTimelineFilter(raw string) (map[string]struct{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty filter", ErrFilterInvalid)
	}
	return parseHandles(strings.Split(raw, FilterDelimiter))
}

// ParseTimelineFilterValues parses repeated `filter=` query values, each a
// comma-separated handle list, into one handle set.
func ParseTimelineFilterValues(values []string) (map[string]struct{}, error) {
	var parts []string
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: empty filter", ErrFilterInvalid)
		}
		parts = append(parts, strings.Split(v, QueryFilterDelimiter)...)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty filter", ErrFilterInvalid)
	}
	return parseHandles(parts)
}

func parseHandles(parts []string) (map[string]struct{}, error) {
	authors := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		h := identity.NormalizeHandle(p)
		if h == "" {
			return nil, fmt.Errorf("%w: %q is not a handle", ErrFilterInvalid, strings.TrimSpace(p))
		}
		authors[h] = struct{}{}
	}
	return authors, nil
}
