/*
File: heuristics.go
Version: 1.1.0
Description: Rule-based overrides evaluated before the model.
             Stage 1: brand impersonation (containment or small edit distance plus a corroborating signal).
             Stage 2: whitelist (exact domain, host suffix, or trusted network for IP literals).
             Stage 1 only exempts exact whitelist entries, so a whitelisted subdomain that resembles
             another brand can still be flagged.
*/

package main

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"unicode"

	"github.com/yl2chen/cidranger"
	"golang.org/x/net/idna"
)

const (
	SuffixMatchString = "string"
	SuffixMatchLabel  = "label"
)

// OverrideOptions configures the rule lists. Empty lists fall back to the built-in datasets.
type OverrideOptions struct {
	Brands          []string
	Keywords        []string
	Whitelist       []string
	SuffixMatch     string
	TrustedNetworks []string
}

// OverrideEngine is immutable after construction and safe for concurrent use.
type OverrideEngine struct {
	brands      []string
	keywords    []string
	exact       map[string]struct{}
	suffixes    []string
	trie        *DomainTrie[string]
	labelSuffix bool
	trusted     cidranger.Ranger
	hasTrusted  bool
}

func NewOverrideEngine(opts OverrideOptions) (*OverrideEngine, error) {
	o := &OverrideEngine{
		exact:   make(map[string]struct{}),
		trie:    NewDomainTrie[string](),
		trusted: cidranger.NewPCTrieRanger(),
	}

	switch strings.ToLower(opts.SuffixMatch) {
	case "", SuffixMatchString:
	case SuffixMatchLabel:
		o.labelSuffix = true
	default:
		return nil, fmt.Errorf("unknown whitelist suffix_match %q", opts.SuffixMatch)
	}

	brands := opts.Brands
	if len(brands) == 0 {
		brands = defaultBrands
	}
	seen := make(map[string]struct{}, len(brands))
	for _, b := range brands {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" {
			continue
		}
		if len([]rune(b)) <= brandMaxDistance {
			LogWarn("[RULES] Ignoring brand '%s': shorter than the edit distance bound", b)
			continue
		}
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		o.brands = append(o.brands, b)
	}

	keywords := opts.Keywords
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			o.keywords = append(o.keywords, k)
		}
	}

	whitelist := opts.Whitelist
	if len(whitelist) == 0 {
		whitelist = defaultWhitelist
	}
	for _, w := range whitelist {
		w = normalizeWhitelistEntry(w)
		if w == "" {
			continue
		}
		if _, dup := o.exact[w]; dup {
			continue
		}
		o.exact[w] = struct{}{}
		o.suffixes = append(o.suffixes, w)
		o.trie.Insert(w, w)
	}
	sort.Strings(o.suffixes)

	for _, cidr := range opts.TrustedNetworks {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted network %q: %w", cidr, err)
		}
		if err := o.trusted.Insert(cidranger.NewBasicRangerEntry(*network)); err != nil {
			return nil, fmt.Errorf("insert trusted network %q: %w", cidr, err)
		}
		o.hasTrusted = true
	}

	LogInfo("[RULES] Loaded %d brands, %d keywords, %d whitelisted domains (suffix match: %s, trusted networks: %d)",
		len(o.brands), len(o.keywords), o.trie.Len(), o.suffixMode(), len(opts.TrustedNetworks))
	return o, nil
}

func (o *OverrideEngine) suffixMode() string {
	if o.labelSuffix {
		return SuffixMatchLabel
	}
	return SuffixMatchString
}

// normalizeWhitelistEntry lowercases an entry and converts it to the Unicode form used for matching.
func normalizeWhitelistEntry(s string) string {
	s = strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".")
	if s == "" {
		return ""
	}
	if uni, err := idna.Punycode.ToUnicode(s); err == nil {
		return uni
	}
	return s
}

// Evaluate runs both stages in order. ok is false when the decision is left to the model.
func (o *OverrideEngine) Evaluate(t *urlTarget) (v verdict, ok bool) {
	domain := strings.TrimPrefix(t.display, "www.")

	if brand, hit := o.impersonatedBrand(domain, strings.ToLower(t.raw)); hit {
		if IsDebugEnabled() {
			LogDebug("[RULES] %s | Brand impersonation: %s", domain, brand)
		}
		return verdict{
			score:  brandScore,
			reason: fmt.Sprintf("Suspected %s impersonation", brand),
			source: SourceBrand,
		}, true
	}

	if o.whitelisted(domain, t) {
		if IsDebugEnabled() {
			LogDebug("[RULES] %s | Whitelisted", domain)
		}
		return verdict{score: whitelistScore, source: SourceWhitelist}, true
	}

	return verdict{}, false
}

// impersonatedBrand returns the first brand that domain resembles and that is backed by a
// corroborating signal. Exact whitelist entries are never checked. rawURL is the lowercased
// input URL; keywords may appear anywhere in it, including the path and query.
func (o *OverrideEngine) impersonatedBrand(domain, rawURL string) (string, bool) {
	if _, safe := o.exact[domain]; safe {
		return "", false
	}

	base, _, _ := strings.Cut(domain, ".")
	cleanBase := strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsDigit(r) {
			return -1
		}
		return r
	}, base)

	// "paypa1-secure-login" is compared as "paypa1" too; too-short heads like "app" are skipped.
	head, _, hyphenated := strings.Cut(base, "-")
	headLen := len([]rune(head))

	for _, brand := range o.brands {
		resembles := strings.Contains(domain, brand) ||
			levenshtein(cleanBase, brand) <= brandMaxDistance ||
			levenshtein(base, brand) <= brandMaxDistance ||
			(hyphenated && headLen >= len([]rune(brand))-1 && levenshtein(head, brand) <= brandMaxDistance)
		if !resembles {
			continue
		}
		if o.corroborated(domain, rawURL, base, brand) {
			return brand, true
		}
	}
	return "", false
}

func (o *OverrideEngine) corroborated(domain, rawURL, base, brand string) bool {
	for _, k := range o.keywords {
		if strings.Contains(rawURL, k) {
			return true
		}
	}
	if strings.ContainsRune(domain, '-') {
		return true
	}
	if strings.IndexFunc(base, unicode.IsDigit) >= 0 {
		return true
	}
	return len([]rune(base)) > len([]rune(brand))+brandLengthSlack
}

func (o *OverrideEngine) whitelisted(domain string, t *urlTarget) bool {
	if _, ok := o.exact[domain]; ok {
		return true
	}

	host := t.display
	if o.labelSuffix {
		if _, ok := o.trie.MatchSuffix(host); ok {
			return true
		}
	} else {
		for _, s := range o.suffixes {
			if strings.HasSuffix(host, s) {
				return true
			}
		}
	}

	if t.isIP && o.hasTrusted {
		inside, err := o.trusted.Contains(net.IP(t.ip.Unmap().AsSlice()))
		if err != nil {
			LogDebug("[RULES] Trusted network lookup failed for %s: %v", host, err)
			return false
		}
		return inside
	}
	return false
}

// levenshtein is the classic edit distance over runes with unit costs.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
