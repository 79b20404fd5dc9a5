package stock

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Page is what extraction pulls out of rendered product-page HTML.
type Page struct {
	Title  string
	Price  string
	Status Status
}

// Keywords drive availability detection. Phrases are matched
// case-insensitively against the page's visible text. Negative phrases
// win over positive ones: storefronts routinely keep the "add to cart"
// button in the DOM next to an "out of stock" banner.
type Keywords struct {
	Positive   []string // in stock
	Negative   []string // out of stock
	PreOrder   []string
	ComingSoon []string
}

// DefaultKeywords covers the phrasing seen across common storefronts.
func DefaultKeywords() Keywords {
	return Keywords{
		Positive: []string{
			"add to cart", "add to basket", "in stock", "buy now",
			"ajouter au panier", "en stock",
		},
		Negative: []string{
			"out of stock", "sold out", "currently unavailable",
			"no longer available", "notify me when available",
			"rupture de stock", "épuisé", "indisponible",
		},
		PreOrder:   []string{"pre-order", "preorder", "précommande"},
		ComingSoon: []string{"coming soon", "available soon", "bientôt disponible"},
	}
}

// priceRe matches common price renderings: "$1,299.99", "1 299,99 €",
// "EUR 49.90". Currency symbol may lead or trail.
var priceRe = regexp.MustCompile(
	`(?i)(?:[$€£¥]|usd|eur|gbp|chf)\s?\d{1,3}(?:[ .,\x{202f}]\d{3})*(?:[.,]\d{2})?|\d{1,3}(?:[ .,\x{202f}]\d{3})*(?:[.,]\d{2})?\s?(?:[$€£¥]|usd|eur|gbp|chf)`)

// Extract tokenizes content and derives title, price, and availability
// using kw. It never fails: unparseable or empty input yields a Page
// with Status Unknown and empty fields.
func Extract(content string, kw Keywords) Page {
	title, text := collectText(content)

	p := Page{Title: title, Status: Unknown}
	if text == "" {
		return p
	}

	if m := priceRe.FindString(text); m != "" {
		p.Price = strings.TrimSpace(m)
	}

	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, kw.Negative):
		p.Status = OutOfStock
	case containsAny(lower, kw.PreOrder):
		p.Status = PreOrder
	case containsAny(lower, kw.ComingSoon):
		p.Status = ComingSoon
	case containsAny(lower, kw.Positive):
		p.Status = InStock
	}
	return p
}

func containsAny(haystack string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

// collectText walks the token stream once, gathering the document title
// (<title>, falling back to the first <h1>) and all visible text.
// Script, style, and template subtrees are skipped.
func collectText(content string) (title, text string) {
	tok := html.NewTokenizer(strings.NewReader(content))

	var sb strings.Builder
	var h1 string
	skipDepth := 0
	capture := "" // "title" or "h1" while inside that element

	for {
		switch tok.Next() {
		case html.ErrorToken:
			t := strings.TrimSpace(title)
			if t == "" {
				t = strings.TrimSpace(h1)
			}
			return t, sb.String()

		case html.StartTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style", "template", "noscript":
				skipDepth++
			case "title":
				capture = "title"
			case "h1":
				if h1 == "" {
					capture = "h1"
				}
			}

		case html.EndTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style", "template", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			case "title", "h1":
				capture = ""
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			t := string(tok.Text())
			switch capture {
			case "title":
				title += t
			case "h1":
				h1 += t
			}
			if s := strings.TrimSpace(t); s != "" {
				sb.WriteString(s)
				sb.WriteByte(' ')
			}
		}
	}
}
