package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniqueFor returns a MatchCounter that reports exactly one match for the
// given selectors and zero (or the supplied count) for everything else.
func uniqueFor(unique map[string]int) MatchCounter {
	return func(selector string) (int, error) {
		return unique[selector], nil
	}
}

func TestGenerate_PrefersUniqueID(t *testing.T) {
	el := ElementInfo{
		Tag:        "input",
		ID:         "email",
		Attributes: map[string]string{"name": "email"},
	}

	got, err := Generate(el, uniqueFor(map[string]int{"#email": 1}))
	require.NoError(t, err)
	assert.Equal(t, "#email", got)
}

func TestGenerate_FallsBackToStableAttribute(t *testing.T) {
	el := ElementInfo{
		Tag:        "input",
		ID:         "field", // duplicated id on the page
		Attributes: map[string]string{"data-testid": "signup-email"},
	}

	counts := map[string]int{
		"#field":                            3,
		`input[data-testid="signup-email"]`: 1,
	}

	got, err := Generate(el, uniqueFor(counts))
	require.NoError(t, err)
	assert.Equal(t, `input[data-testid="signup-email"]`, got)
}

func TestGenerate_FormScopedName(t *testing.T) {
	el := ElementInfo{
		Tag:          "input",
		Attributes:   map[string]string{"name": "email"},
		FormSelector: "#signup-form",
	}

	counts := map[string]int{
		`input[name="email"]`:              2, // also present in the login form
		`#signup-form input[name="email"]`: 1,
	}

	got, err := Generate(el, uniqueFor(counts))
	require.NoError(t, err)
	assert.Equal(t, `#signup-form input[name="email"]`, got)
}

func TestGenerate_StructuralFallback(t *testing.T) {
	el := ElementInfo{
		Tag: "input",
		Path: []PathSegment{
			{Tag: "html"},
			{Tag: "body"},
			{Tag: "div", NthOfType: 2},
			{Tag: "form", NthOfType: 1},
			{Tag: "input", NthOfType: 3},
		},
	}

	want := "html > body > div:nth-of-type(2) > form:nth-of-type(1) > input:nth-of-type(3)"

	got, err := Generate(el, uniqueFor(map[string]int{want: 1}))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGenerate_NoUniqueSelector(t *testing.T) {
	el := ElementInfo{Tag: "input", Attributes: map[string]string{"name": "q"}}

	_, err := Generate(el, uniqueFor(map[string]int{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestGenerate_VerifiesIDUniqueness(t *testing.T) {
	// An id that matches two elements must not be returned even though it is
	// the highest-priority candidate.
	el := ElementInfo{
		Tag:        "input",
		ID:         "dup",
		Attributes: map[string]string{"name": "email"},
		Path: []PathSegment{
			{Tag: "html"}, {Tag: "body"}, {Tag: "input", NthOfType: 1},
		},
	}

	counts := map[string]int{
		"#dup":                               2,
		"html > body > input:nth-of-type(1)": 1,
	}

	got, err := Generate(el, uniqueFor(counts))
	require.NoError(t, err)
	assert.Equal(t, "html > body > input:nth-of-type(1)", got)
}

func TestIDSelector_NonIdentifierUsesAttributeForm(t *testing.T) {
	el := ElementInfo{Tag: "input", ID: "user:email"}

	candidates := Candidates(el)
	require.NotEmpty(t, candidates)
	assert.Equal(t, `[id="user:email"]`, candidates[0])
}

func TestCandidates_Order(t *testing.T) {
	el := ElementInfo{
		Tag: "select",
		ID:  "country",
		Attributes: map[string]string{
			"name":       "country",
			"aria-label": "Country",
		},
		FormSelector: "#checkout",
		Path: []PathSegment{
			{Tag: "html"}, {Tag: "body"}, {Tag: "select", NthOfType: 1},
		},
	}

	// one candidate per present stable attribute, in preference order
	candidates := Candidates(el)
	require.Len(t, candidates, 5)
	assert.Equal(t, "#country", candidates[0])
	assert.Equal(t, `select[aria-label="Country"]`, candidates[1])
	assert.Equal(t, `select[name="country"]`, candidates[2])
	assert.Equal(t, `#checkout select[name="country"]`, candidates[3])
	assert.Equal(t, "html > body > select:nth-of-type(1)", candidates[4])
}
