// Package detect classifies already-fetched page state into anti-bot
// detection verdicts. It is a pure function over content, HTTP status,
// and the post-navigation URL. It performs no network I/O and never
// tries to evade anything; it only names the signal it sees.
package detect

import "strings"

// Signal identifies which check matched.
type Signal string

const (
	SignalNone        Signal = "none"
	SignalCaptcha     Signal = "captcha"
	SignalBlock403    Signal = "block_403"
	SignalRedirect    Signal = "redirect"
	SignalEmptyPage   Signal = "empty_page"
	SignalMissingData Signal = "missing_data"
)

// Event is a transient classification result. It drives in-memory
// backoff state only and is never persisted.
type Event struct {
	Detected bool
	Signal   Signal
	Details  string
}

// minContentBytes is the threshold below which a rendered page is
// considered empty: a blank interstitial, not a product page.
const minContentBytes = 512

// captchaMarkers are substrings of challenge/CAPTCHA markup observed
// across the usual interstitial vendors.
var captchaMarkers = []string{
	"captcha",
	"cf-challenge",
	"cf-turnstile",
	"challenge-platform",
	"grecaptcha",
	"h-captcha",
	"hcaptcha",
	"px-captcha",
	"are you a robot",
	"verify you are human",
	"unusual traffic",
	"datadome",
	"perimeterx",
	"_incapsula_",
}

// redirectMarkers are URL fragments of verification or holding pages a
// blocked navigation lands on.
var redirectMarkers = []string{
	"/challenge",
	"/captcha",
	"/verify",
	"/blocked",
	"/denied",
	"/bot-detect",
	"validate.perfdrive.com",
	"geo.captcha-delivery.com",
}

// productMarkers indicate recognizable product-page structure. Absence
// of all of them means the page rendered but carries no usable data.
var productMarkers = []string{
	"<h1",
	"add to cart",
	"add to basket",
	"price",
	"product",
	"availability",
	"in stock",
	"out of stock",
	"sold out",
}

// Classify evaluates the checks in priority order and returns on the
// first match: a confirmed interactive challenge always outranks the
// softer heuristics further down. status <= 0 means the HTTP status is
// unknown and the status check is skipped, not failed.
func Classify(content string, status int, currentURL string) Event {
	lower := strings.ToLower(content)

	if m := matchAny(lower, captchaMarkers); m != "" {
		return Event{Detected: true, Signal: SignalCaptcha, Details: "challenge marker: " + m}
	}

	if status == 403 || status == 429 {
		return Event{Detected: true, Signal: SignalBlock403, Details: httpStatusDetail(status)}
	}

	if m := matchAny(strings.ToLower(currentURL), redirectMarkers); m != "" {
		return Event{Detected: true, Signal: SignalRedirect, Details: "redirected to " + currentURL}
	}

	if len(content) < minContentBytes {
		return Event{Detected: true, Signal: SignalEmptyPage, Details: "rendered content below threshold"}
	}

	if matchAny(lower, productMarkers) == "" {
		return Event{Detected: true, Signal: SignalMissingData, Details: "no product page structure"}
	}

	return Event{Signal: SignalNone}
}

func matchAny(haystack string, markers []string) string {
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return m
		}
	}
	return ""
}

func httpStatusDetail(status int) string {
	if status == 429 {
		return "HTTP 429 too many requests"
	}
	return "HTTP 403 forbidden"
}
