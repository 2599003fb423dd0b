package moderation

import (
	"net/url"
	"regexp"
	"strings"
)

// matches urls with an explicit scheme, www. and t.me/ shortcuts, and bare
// domain.tld tokens. Email exclusion is done by checking the preceding rune,
// go regexp has no lookbehind.
var domainRe = regexp.MustCompile(`(?i)(?:[a-z][a-z0-9+.-]*://|www\.|t\.me/|(?:[a-z0-9-]+\.)+[a-z]{2,})[^\s<>"'\x60\]]*`)

const trailingPunct = ".,;:!?)]}>\"'…<“”’"

// NormalizeHost canonicalizes a host for whitelist comparison: lowercase,
// no surrounding space, no trailing dot, no www. prefix, no port, no ipv6
// brackets.
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	h = strings.TrimPrefix(h, "www.")
	h = strings.Trim(h, "[]")
	if i := strings.LastIndex(h, ":"); i > 0 && strings.Count(h, ":") == 1 && allDigits(h[i+1:]) {
		h = h[:i]
	}
	return h
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ExtractDomains pulls normalized domains from free-form text. Emails are
// skipped, trailing punctuation is trimmed, duplicates removed preserving
// first-seen order.
func ExtractDomains(text string) []string {
	var res []string
	seen := map[string]struct{}{}
	add := func(d string) {
		if d == "" || !strings.Contains(d, ".") {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		res = append(res, d)
	}

	for _, loc := range domainRe.FindAllStringIndex(text, -1) {
		if loc[0] > 0 {
			prev := rune(text[loc[0]-1])
			if prev == '@' || isWordByte(text[loc[0]-1]) {
				continue // email or embedded in a longer token
			}
		}
		token := strings.TrimRight(text[loc[0]:loc[1]], trailingPunct)
		if token == "" {
			continue
		}
		raw := token
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		add(NormalizeHost(u.Hostname()))
	}
	return res
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// ParseDomains splits a comma or whitespace separated list into normalized
// domains, used for config values and stored whitelists.
func ParseDomains(raw string) []string {
	var res []string
	seen := map[string]struct{}{}
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' }) {
		h := NormalizeHost(tok)
		if h == "" || !strings.Contains(h, ".") {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		res = append(res, h)
	}
	return res
}
