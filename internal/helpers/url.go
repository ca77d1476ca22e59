package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"
)

var trackingQueryParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"dclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"igshid":       {},
}

// PageKey reduces a URL to the identity used for page-level caching and
// visit bookkeeping: scheme + host + path, lowercased, with any leading
// "www." and trailing slash removed. Query strings and fragments are
// dropped entirely, so https://www.example.com/pricing/?ref=x and
// https://example.com/pricing collapse to the same key.
func PageKey(raw string) (string, error) {
	parsed, err := parseLoose(raw)
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(stripPort(parsed.Host, scheme))
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", errors.New("url missing host")
	}

	p := strings.ToLower(cleanPath(parsed.Path))
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "/" {
		p = ""
	}
	return scheme + "://" + host + p, nil
}

// Domain extracts the lowercased host of a URL with any "www." prefix and
// port removed. It accepts bare hostnames as well as full URLs.
func Domain(raw string) (string, error) {
	parsed, err := parseLoose(raw)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(stripPort(parsed.Host, strings.ToLower(parsed.Scheme)))
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", errors.New("url missing host")
	}
	return host, nil
}

// CanonicalURL normalises a URL for link deduplication during crawling.
// Unlike PageKey it keeps the query string: scheme/host are lowercased,
// default ports and fragments dropped, path segments cleaned, tracking
// parameters (utm_*, fbclid, etc.) removed and the remaining parameters
// sorted deterministically. A missing scheme defaults to https.
func CanonicalURL(raw string) (string, error) {
	parsed, err := parseLoose(raw)
	if err != nil {
		return "", err
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(stripPort(parsed.Host, parsed.Scheme))
	if host == "" {
		return "", errors.New("url missing host")
	}
	parsed.Host = host
	parsed.Path = cleanPath(parsed.Path)
	parsed.Fragment = ""

	query := parsed.Query()
	for key := range query {
		if _, drop := trackingQueryParams[strings.ToLower(key)]; drop {
			query.Del(key)
		}
	}
	if len(query) == 0 {
		parsed.RawQuery = ""
	} else {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, key := range keys {
			values := append([]string(nil), query[key]...)
			sort.Strings(values)
			for _, value := range values {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(key))
				if value != "" {
					b.WriteByte('=')
					b.WriteString(url.QueryEscape(value))
				}
			}
		}
		parsed.RawQuery = b.String()
	}

	return parsed.String(), nil
}

// Fingerprint returns the SHA-256 hex digest of arbitrary content. Query
// memoization keys are fingerprints of the normalized query text.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// URLFingerprint returns a deterministic digest of a URL's page key.
func URLFingerprint(raw string) (string, error) {
	key, err := PageKey(raw)
	if err != nil {
		return "", err
	}
	return Fingerprint(key), nil
}

func stripPort(host, scheme string) string {
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return host
	}
	// An IPv6 literal like [::1] has colons of its own; only a colon after
	// the closing bracket separates a port.
	if bracket := strings.LastIndex(host, "]"); bracket > idx {
		return host
	}
	port := host[idx+1:]
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return host[:idx]
	}
	if scheme == "" && (port == "80" || port == "443") {
		return host[:idx]
	}
	return host
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		cleaned = "/"
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	if cleaned != "/" && strings.HasSuffix(p, "/") && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	return cleaned
}

// parseLoose parses raw into a url.URL, tolerating schemeless input like
// example.com/path or //example.com/path by assuming https.
func parseLoose(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		if strings.HasPrefix(raw, "//") {
			return url.Parse("https:" + raw)
		}
		return url.Parse("https://" + raw)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	return parsed, nil
}
