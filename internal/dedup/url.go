// Package dedup detects byte-identical and near-identical content across
// sources that re-syndicate the same release. It provides URL
// canonicalization, exact content hashing, SimHash fingerprinting, and a
// MinHash LSH index for corpus-scale near-duplicate clustering.
package dedup

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are stripped from query strings before comparison.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
	"_ga":          {},
	"mc_cid":       {},
	"mc_eid":       {},
}

// CanonicalURL normalizes a URL into its deduplication key form.
// It lowercases the scheme and host, drops tracking query parameters,
// sorts the remaining parameters, trims the trailing slash from the path,
// and removes the fragment. Two URLs differing only by tracking params or
// parameter order canonicalize identically.
func CanonicalURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if _, tracking := trackingParams[strings.ToLower(k)]; tracking {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = b.String()

	return u.String(), nil
}
