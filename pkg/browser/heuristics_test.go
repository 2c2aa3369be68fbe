package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type probePage struct {
	fakePage

	matches map[string]int
	content string
}

func (p probePage) MatchCount(selector string) (int, error) {
	return p.matches[selector], nil
}

func (p probePage) Content() (string, error) {
	return p.content, nil
}

func TestDetectCaptcha(t *testing.T) {
	assert.True(t, DetectCaptcha(probePage{
		matches: map[string]int{`iframe[src*="recaptcha"]`: 1},
	}))

	assert.True(t, DetectCaptcha(probePage{
		matches: map[string]int{`.h-captcha`: 1},
	}))

	assert.False(t, DetectCaptcha(probePage{matches: map[string]int{}}))

	// page copy mentioning captcha does not trip the selector probes
	assert.False(t, DetectCaptcha(probePage{
		matches: map[string]int{},
		content: "Our site never shows a captcha.",
	}))
}

func TestDetectTwoFactor(t *testing.T) {
	assert.True(t, DetectTwoFactor(probePage{
		matches: map[string]int{`input[autocomplete="one-time-code"]`: 1},
	}))

	assert.True(t, DetectTwoFactor(probePage{
		matches: map[string]int{},
		content: "<p>Enter the verification code we sent to your phone.</p>",
	}))

	assert.False(t, DetectTwoFactor(probePage{
		matches: map[string]int{},
		content: "<h1>Dashboard</h1>",
	}))
}
