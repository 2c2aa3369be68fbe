// Package selector generates stable, unique CSS selectors for page elements.
//
// Candidates are produced in priority order from element metadata; each one
// is re-verified against the live document before being returned, so a
// selector is never handed out unless it matches exactly one element.
package selector

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrAmbiguous is returned when no unique selector exists after all
// fallbacks. Callers must surface this to the user rather than silently
// picking a non-unique selector.
var ErrAmbiguous = errors.New("no unique selector found for element")

// stableAttributes are attributes unlikely to change across page loads, in
// preference order.
var stableAttributes = []string{"data-testid", "data-test", "aria-label", "name"}

// PathSegment is one ancestor hop in the structural fallback path.
type PathSegment struct {
	Tag       string `json:"tag"`
	NthOfType int    `json:"nth_of_type"` // 1-based among same-tag siblings
}

// ElementInfo describes a DOM element as reported by the overlay bridge.
type ElementInfo struct {
	Tag          string            `json:"tag"`
	ID           string            `json:"id,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	FormSelector string            `json:"form_selector,omitempty"`
	// Path runs from the document root down to the element itself.
	Path []PathSegment `json:"path,omitempty"`
}

// MatchCounter reports how many elements a selector currently matches.
type MatchCounter func(selector string) (int, error)

// Generate returns a CSS selector that uniquely matches the element, trying
// candidates in priority order: id, tag+stable attribute, form-scoped name,
// structural nth-of-type path.
func Generate(el ElementInfo, count MatchCounter) (string, error) {
	for _, candidate := range Candidates(el) {
		n, err := count(candidate)
		if err != nil {
			return "", fmt.Errorf("failed to verify selector %q: %w", candidate, err)
		}

		if n == 1 {
			return candidate, nil
		}
	}

	return "", ErrAmbiguous
}

// Candidates returns the ordered candidate selectors for an element without
// verifying uniqueness. Exposed for testing and for the caller that wants to
// present alternatives.
func Candidates(el ElementInfo) []string {
	candidates := make([]string, 0, 4)

	if el.ID != "" {
		candidates = append(candidates, idSelector(el.ID))
	}

	tag := strings.ToLower(el.Tag)

	for _, attr := range stableAttributes {
		if value, ok := el.Attributes[attr]; ok && value != "" {
			candidates = append(candidates, fmt.Sprintf("%s[%s=%s]", tag, attr, quoteAttr(value)))
		}
	}

	if name := el.Attributes["name"]; name != "" && el.FormSelector != "" {
		candidates = append(candidates, fmt.Sprintf("%s %s[name=%s]", el.FormSelector, tag, quoteAttr(name)))
	}

	if path := structuralPath(el.Path); path != "" {
		candidates = append(candidates, path)
	}

	return candidates
}

var cssIdentifier = regexp.MustCompile(`^-?[_a-zA-Z][_a-zA-Z0-9-]*$`)

func idSelector(id string) string {
	if cssIdentifier.MatchString(id) {
		return "#" + id
	}

	// ids with dots, colons etc. need the attribute form
	return fmt.Sprintf("[id=%s]", quoteAttr(id))
}

func quoteAttr(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)

	return `"` + escaped + `"`
}

func structuralPath(path []PathSegment) string {
	if len(path) == 0 {
		return ""
	}

	parts := make([]string, 0, len(path))

	for _, segment := range path {
		tag := strings.ToLower(segment.Tag)
		if tag == "html" || tag == "body" {
			parts = append(parts, tag)

			continue
		}

		n := segment.NthOfType
		if n < 1 {
			n = 1
		}

		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", tag, n))
	}

	return strings.Join(parts, " > ")
}
