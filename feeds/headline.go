package feeds

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxHeadlineBytes bounds the UTF-8 length of a posted headline.
const maxHeadlineBytes = 200

// Junk-article patterns matched against the raw title before staging.
// Matching titles are dropped silently.
var blacklistPatterns = []string{
	`Shop our top 5 deals of the week`,
	`Amazon deal of the day.*`,
	`Today.s Wordle.*`,
	`Wordle today:.*`,
	`.*NYT Connections.*`,
	`.*[A-Z][A-Z][A-Z][A-Z][A-Z].*[A-Z][A-Z][A-Z][A-Z][A-Z].*[A-Z][A-Z][A-Z][A-Z][A-Z].*`,
	`Daily Deal:.*`,
	`Shop our .*`,
	`.*\(on sale now.*`,
	`.*Big Deal Days.*`,
	`.*Way Day Sale.*`,
	`.*(★★|☆☆).*`,
	`Last chance:.*`,
}

var blacklistRE = regexp.MustCompile(`^(?:` + strings.Join(blacklistPatterns, `|`) + `)`)

// Blacklisted reports whether a raw title matches the junk patterns.
func Blacklisted(title string) bool {
	return blacklistRE.MatchString(title)
}

// Unicode styled-letter ranges for rendering inline markup. Letter styles
// map a-z / A-Z onto the Mathematical Alphanumeric block; digit styles map
// 0-9 onto the sub/superscript code points.
var letterStyles = map[string][2]rune{
	"em":     {'\U0001D622', '\U0001D608'}, // italic small a, capital A
	"strong": {'\U0001D5EE', '\U0001D5D4'}, // bold small a, capital A
}

var digitStyles = map[string][]rune{
	"sub": []rune("₀₁₂₃₄₅₆₇₈₉"),
	"sup": []rune("⁰¹²³⁴⁵⁶⁷⁸⁹"),
}

var styleTagREs = map[string]*regexp.Regexp{
	"em":     regexp.MustCompile(`(?s)<em>(.*?)</em>`),
	"strong": regexp.MustCompile(`(?s)<strong>(.*?)</strong>`),
	"sub":    regexp.MustCompile(`(?s)<sub>(.*?)</sub>`),
	"sup":    regexp.MustCompile(`(?s)<sup>(.*?)</sup>`),
}

var (
	tagRE         = regexp.MustCompile(`<[^>]*>`)
	suffixRE      = regexp.MustCompile(`\s*\|.*$`)
	pluralisticRE = regexp.MustCompile(`^Pluralistic: +(.*?) +\(\d+ \w+ \d+\)$`)
)

// Clean is the full headline pipeline: normalization followed by the
// length-bounded trim. Applying it twice yields the same string.
func Clean(title string) string {
	return TrimHeadline(Normalize(title))
}

// Normalize turns a raw feed title into the text actually posted: newlines
// collapsed, inline styling rendered into Unicode styled letters, leftover
// markup stripped, entities unescaped, trailing "| site" suffixes and the
// "Pluralistic: ... (DD MMM YYYY)" wrapper removed.
func Normalize(title string) string {
	s := strings.ReplaceAll(title, "\n", " ")

	for tag, re := range styleTagREs {
		s = re.ReplaceAllStringFunc(s, func(match string) string {
			inner := re.FindStringSubmatch(match)[1]
			return renderStyled(tag, inner)
		})
	}

	s = tagRE.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = suffixRE.ReplaceAllString(s, "")
	if m := pluralisticRE.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return s
}

func renderStyled(tag, content string) string {
	var b strings.Builder
	for _, r := range content {
		switch {
		case r >= 'a' && r <= 'z':
			if style, ok := letterStyles[tag]; ok {
				b.WriteRune(style[0] + (r - 'a'))
				continue
			}
		case r >= 'A' && r <= 'Z':
			if style, ok := letterStyles[tag]; ok {
				b.WriteRune(style[1] + (r - 'A'))
				continue
			}
		case r >= '0' && r <= '9':
			if digits, ok := digitStyles[tag]; ok {
				b.WriteRune(digits[r-'0'])
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TrimHeadline bounds a headline to maxHeadlineBytes of UTF-8. A headline
// that is cut is truncated to the last whitespace boundary that fits and
// gets a trailing ellipsis.
func TrimHeadline(headline string) string {
	if len(headline) <= maxHeadlineBytes {
		return headline
	}

	const ellipsis = "…"
	budget := maxHeadlineBytes - len(ellipsis)

	trimmed := headline
	for len(trimmed) > budget {
		_, size := utf8.DecodeLastRuneInString(trimmed)
		trimmed = trimmed[:len(trimmed)-size]
	}

	// Cut back to a whitespace boundary so we don't end mid-word.
	if idx := strings.LastIndexFunc(trimmed, unicode.IsSpace); idx > 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimRightFunc(trimmed, unicode.IsSpace) + ellipsis
}
