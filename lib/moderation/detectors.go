package moderation

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

// CleanText removes zero-width and invisible code points commonly used to
// obfuscate spam text. Applied before any pattern matching.
func CleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if (r >= 0x200B && r <= 0x200F) || (r >= 0x2060 && r <= 0x206F) || r == 0xFEFF {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// telegram handle, 5 to 32 word characters, not embedded into a longer word.
// go regexp has no lookarounds so the boundaries are explicit alternations.
var mentionRe = regexp.MustCompile(`(?:^|[^0-9a-z_@])@[0-9a-z_]{5,32}(?:$|[^0-9a-z_])`)

// HasMentions reports if the message mentions another user, either via a
// telegram mention entity or a @handle pattern in the text.
func HasMentions(task Task) bool {
	for _, e := range task.Entities {
		if e.Type == "mention" {
			return true
		}
	}
	text := strings.ToLower(strings.TrimSpace(CleanText(task.Text)))
	return mentionRe.MatchString(text)
}

var linkTokenRe = regexp.MustCompile(`(?i)(?:[a-z][a-z0-9+.-]*://|www\.|t\.me/)`)

// HasLinks reports if the message carries a link pointing outside the allowed
// domains. Checks url and text_link entities first, then the raw text for
// scheme prefixes, www. and t.me/ tokens. A url-like token that yields no
// extractable domain counts as a link, better to flag than to miss.
func HasLinks(task Task, allowedDomains []string) bool {
	allowed := map[string]struct{}{}
	for _, d := range allowedDomains {
		if h := NormalizeHost(d); h != "" {
			allowed[h] = struct{}{}
		}
	}
	permitted := func(domains []string) bool {
		if len(domains) == 0 {
			return false
		}
		for _, d := range domains {
			if _, ok := allowed[d]; !ok {
				return false
			}
		}
		return true
	}

	for _, e := range task.Entities {
		switch e.Type {
		case "text_link":
			if !permitted(ExtractDomains(CleanText(e.URL))) {
				return true
			}
		case "url":
			frag := utf16Slice(task.Text, e.Offset, e.Length)
			if !permitted(ExtractDomains(CleanText(frag))) {
				return true
			}
		}
	}

	text := strings.ToLower(strings.TrimSpace(CleanText(task.Text)))
	if linkTokenRe.MatchString(text) && !permitted(ExtractDomains(text)) {
		return true
	}
	return false
}

// utf16Slice cuts a substring by utf-16 code unit offsets, the encoding
// telegram entity offsets are expressed in.
func utf16Slice(s string, offset, length int) string {
	units := utf16.Encode([]rune(s))
	if offset < 0 || offset >= len(units) {
		return ""
	}
	end := offset + length
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[offset:end]))
}
