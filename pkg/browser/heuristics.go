package browser

import "strings"

// Selector probes for widely deployed captcha widgets.
var captchaSelectors = []string{
	`iframe[src*="recaptcha"]`,
	`iframe[src*="hcaptcha"]`,
	`iframe[src*="turnstile"]`,
	`.g-recaptcha`,
	`.h-captcha`,
	`.cf-turnstile`,
	`input[name*="captcha"]`,
	`img[src*="captcha"]`,
}

// Selector probes for one-time-code challenges shown after a login submit.
var twoFactorSelectors = []string{
	`input[autocomplete="one-time-code"]`,
	`input[name*="otp"]`,
	`input[id*="otp"]`,
	`input[name*="totp"]`,
	`input[name*="2fa"]`,
	`input[name*="verification_code"]`,
	`input[name*="security_code"]`,
}

var twoFactorPhrases = []string{
	"verification code",
	"two-factor",
	"two factor",
	"2-step verification",
	"authentication code",
	"one-time code",
	"enter the code",
}

// DetectCaptcha reports whether the page appears to be blocked by a captcha
// challenge. Heuristic: selector probes only, no content scan, so a mention of
// the word in page copy does not trip it.
func DetectCaptcha(page Page) bool {
	return anyMatch(page, captchaSelectors)
}

// DetectTwoFactor reports whether the page appears to be waiting for a
// one-time code. Checks code-input probes first, then falls back to visible
// challenge phrasing.
func DetectTwoFactor(page Page) bool {
	if anyMatch(page, twoFactorSelectors) {
		return true
	}

	content, err := page.Content()
	if err != nil {
		return false
	}

	lowered := strings.ToLower(content)
	for _, phrase := range twoFactorPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}

	return false
}

func anyMatch(page Page, selectors []string) bool {
	for _, selector := range selectors {
		count, err := page.MatchCount(selector)
		if err != nil {
			continue
		}

		if count > 0 {
			return true
		}
	}

	return false
}
