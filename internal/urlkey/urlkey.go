// Package urlkey canonicalizes archive URLs into the cache's outer
// key and validates URLs accepted at the API boundary.
package urlkey

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// emailRegex matches the Python original's EMAIL_RE; urlIsValid
// rejects anything that looks like an email address.
var emailRegex = regexp.MustCompile(`^[A-Za-z0-9_.+-]+@[A-Za-z0-9-]+\.[A-Za-z0-9-.]+$`)

// Canonicalize rewrites rawURL into the cache's outer key. The
// teacher's Surt helper sorts the dot-separated labels of the whole
// string alphabetically, which is not a reversible canonicalization —
// "a.b.com" and "b.a.com" collide. This implementation normalizes
// scheme and host case, strips a trailing slash from the path, and
// reverses the host's labels so that sibling subdomains sort
// together, matching the SURT idiom the original Python's surt()
// implements.
func Canonicalize(rawURL string) string {
	u, err := parse(rawURL)
	if err != nil {
		return strings.ToLower(strings.TrimSuffix(rawURL, "/"))
	}

	host := strings.ToLower(u.Host)
	labels := strings.Split(host, ".")
	reverseInPlace(labels)

	path := u.Path
	if path == "" {
		path = "/"
	}
	path = strings.TrimSuffix(path, "/")

	key := strings.Join(labels, ",")
	if path != "" {
		key += ")" + path
	} else {
		key += ")"
	}
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// parse accepts both schemeless ("example.com/path") and fully
// qualified URLs, defaulting to http when no scheme is present.
func parse(rawURL string) (*url.URL, error) {
	candidate := rawURL
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}
	return url.Parse(candidate)
}

func reverseInPlace(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// IsValid rejects empty strings, email-shaped values, and URLs whose
// host has no registrable domain and public suffix. EffectiveTLDPlusOne
// errors whenever the host itself is (or reduces to) a bare public
// suffix, which is exactly the "domain and suffix both non-empty"
// check the original Python's tldextract-based validator performs.
func IsValid(rawURL string) bool {
	if rawURL == "" || emailRegex.MatchString(rawURL) {
		return false
	}
	host := rawURL
	if u, err := parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	_, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host))
	return err == nil
}
