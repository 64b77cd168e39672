// Package dedupe holds the identity keys used to suppress duplicate items:
// canonical URLs for exact duplicates and title similarity for near duplicates.
package dedupe

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
}

// CanonicalizeURL strips tracking query parameters and the fragment from raw.
// The remaining parameters keep their relative order. Input that does not parse
// as a URL is handled on the string level, so the function never fails.
func CanonicalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return canonicalizeString(raw)
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = filterQuery(u.RawQuery)
	u.ForceQuery = false
	return u.String()
}

func canonicalizeString(raw string) string {
	raw, _, _ = strings.Cut(raw, "#")
	base, query, ok := strings.Cut(raw, "?")
	if !ok {
		return base
	}
	if query = filterQuery(query); query == "" {
		return base
	}
	return base + "?" + query
}

func filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	var kept []string
	for _, pair := range strings.FieldsFunc(rawQuery, func(r rune) bool { return r == '&' || r == ';' }) {
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if _, tracked := trackingParams[key]; tracked {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// Domain returns the lower-cased host of rawURL, or "" when it has none.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
