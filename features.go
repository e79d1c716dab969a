/*
File: features.go
Version: 1.0.0
Description: Lexical feature extraction. Turns a URL string into the fixed-order FeatureVector
             without any network access. Host decomposition uses the public suffix list.

             Edge-case policy:
             - No scheme (e.g. "google.com/x") or no host (e.g. "about:blank") is ErrMalformedURL.
             - IDN hosts are measured in their ASCII (punycode) form.
             - Trailing dots are stripped from the host; userinfo and port are not part of the host
               but still count towards the full-URL metrics.
             - IP literals and hosts without a known public suffix get an empty TLD; the last label
               becomes the domain and anything left of it the subdomain.
*/

package main

import (
	"fmt"
	"math"
	"net/netip"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// urlTarget is a parsed URL with the host normalized for both feature extraction and heuristics.
type urlTarget struct {
	raw     string
	scheme  string
	host    string // lowercase ASCII (punycode), no port, no trailing dot
	display string // lowercase Unicode form of host, used by the override rules
	path    string
	query   string
	ip      netip.Addr
	isIP    bool

	subdomain string
	domain    string
	tld       string
}

// parseTarget parses and normalizes rawURL. It fails only on input that has no scheme or host.
func parseTarget(rawURL string) (*urlTarget, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme == "" || u.Opaque != "" {
		return nil, fmt.Errorf("%w: missing scheme or authority in %q", ErrMalformedURL, raw)
	}

	host := strings.TrimRight(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrMalformedURL, raw)
	}

	t := &urlTarget{
		raw:    raw,
		scheme: strings.ToLower(u.Scheme),
		path:   rawPath(raw),
		query:  u.RawQuery,
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		t.ip = addr
		t.isIP = true
		t.host = host
		t.display = host
		t.domain = host
		return t, nil
	}

	ascii, err := idna.Punycode.ToASCII(host)
	if err != nil {
		ascii = host
	}
	if _, ok := dns.IsDomainName(ascii); !ok {
		return nil, fmt.Errorf("%w: invalid host %q", ErrMalformedURL, host)
	}
	t.host = ascii

	t.display = ascii
	if uni, err := idna.Punycode.ToUnicode(ascii); err == nil {
		t.display = uni
	}

	t.subdomain, t.domain, t.tld = splitHost(ascii)
	return t, nil
}

// rawPath returns the path exactly as written in raw, without percent-encoding or decoding,
// so path_length counts the characters the user typed.
func rawPath(raw string) string {
	rest := raw
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	i := strings.IndexAny(rest, "/?#")
	if i < 0 || rest[i] != '/' {
		return ""
	}
	rest = rest[i:]
	if j := strings.IndexAny(rest, "?#"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// splitHost separates host into subdomain, registrable label and public suffix.
func splitHost(host string) (subdomain, domain, tld string) {
	suffix, icann := publicsuffix.PublicSuffix(host)

	// PublicSuffix falls back to the last label for unlisted TLDs; treat that as no suffix.
	if !icann && !strings.Contains(suffix, ".") {
		suffix = ""
	}

	if suffix == "" || suffix == host {
		labels := dns.SplitDomainName(host)
		if len(labels) == 0 {
			return "", host, ""
		}
		return strings.Join(labels[:len(labels)-1], "."), labels[len(labels)-1], ""
	}

	rest := strings.TrimSuffix(host[:len(host)-len(suffix)], ".")
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		return rest[:i], rest[i+1:], suffix
	}
	return "", rest, suffix
}

// ExtractFeatures returns the lexical feature vector for rawURL.
func ExtractFeatures(rawURL string) (FeatureVector, error) {
	t, err := parseTarget(rawURL)
	if err != nil {
		return FeatureVector{}, err
	}
	return t.features(), nil
}

func (t *urlTarget) features() FeatureVector {
	var f FeatureVector

	f[featURLLength] = float64(utf8.RuneCountInString(t.raw))
	f[featHostLength] = float64(utf8.RuneCountInString(t.host))
	f[featPathLength] = float64(utf8.RuneCountInString(t.path))
	f[featQueryLength] = float64(utf8.RuneCountInString(t.query))

	var digits, hyphens, ats, percents, questions, equals, slashes, dots int
	for i := 0; i < len(t.raw); i++ {
		switch c := t.raw[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '-':
			hyphens++
		case c == '@':
			ats++
		case c == '%':
			percents++
		case c == '?':
			questions++
		case c == '=':
			equals++
		case c == '/':
			slashes++
		case c == '.':
			dots++
		}
	}
	f[featCountDigits] = float64(digits)
	f[featCountHyphen] = float64(hyphens)
	f[featCountAt] = float64(ats)
	f[featCountPercent] = float64(percents)
	f[featCountQuestion] = float64(questions)
	f[featCountEquals] = float64(equals)
	f[featCountSlash] = float64(slashes)
	f[featNumDots] = float64(dots)

	f[featHasIP] = boolFeature(t.isIP)
	f[featEntropy] = shannonEntropy(t.raw)
	f[featTLDLen] = float64(len(t.tld))
	f[featSubdomainLen] = float64(len(t.subdomain))
	f[featDomainLen] = float64(len(t.domain))
	f[featUsesHTTPS] = boolFeature(t.scheme == "https")

	return f
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// shannonEntropy is the base-2 entropy of the rune distribution of s.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	counts := make(map[rune]int, 64)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}

	var entropy float64
	n := float64(total)
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
