// Package normalize canonicalizes raw user text so downstream pattern
// matching is robust to casing, accents, emphasis elongation, invisible
// characters, and slang obfuscation.
//
// Both passes are pure functions and idempotent: normalizing already
// normalized text returns it unchanged.
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// diacriticStripper decomposes characters (NFKD) and removes combining marks,
// so "suïcide" and "suicide" match the same patterns.
var diacriticStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// punctReplacer unifies typographic quotes and dashes into their ASCII forms.
var punctReplacer = strings.NewReplacer(
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"‚", "'",
	"‛", "'",
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"„", `"`,
	"–", "-", // en dash
	"—", "-", // em dash
	"…", "...",
)

// invisibleReplacer maps zero-width and separator-abuse characters to spaces
// before whitespace collapsing.
var invisibleReplacer = strings.NewReplacer(
	"_", " ",
	"\u200b", " ", // zero-width space
	"\u200c", " ", // zero-width non-joiner
	"\u200d", " ", // zero-width joiner
	"\ufeff", " ", // BOM / zero-width no-break space
	"\u00a0", " ", // no-break space
)

// Normalize applies the canonicalization pass: lowercase, NFKD decomposition
// with diacritic stripping, punctuation unification, elongation collapsing
// ("coooool" -> "cool"), invisible character removal, and whitespace
// collapsing.
func Normalize(s string) string {
	s = strings.ToLower(s)
	if stripped, _, err := transform.String(diacriticStripper, s); err == nil {
		s = stripped
	}
	s = punctReplacer.Replace(s)
	s = collapseRepeats(s)
	s = invisibleReplacer.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	return s
}

// collapseRepeats truncates any run of 3+ identical runes to exactly 2, to
// defeat emphasis obfuscation while leaving legitimate doubles alone.
func collapseRepeats(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run <= 2 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// slangEntry is one euphemism/abbreviation expansion. Keys containing '*',
// '/', or spaces tolerate arbitrary non-word separators between their
// characters.
type slangEntry struct {
	re          *regexp.Regexp
	replacement string
}

// Slang and euphemism dictionary. The expansions are intentionally the
// explicit phrases the risk patterns match on.
var slangEntries = buildSlangEntries(map[string]string{
	"kms":           "kill myself",
	"k m s":         "kill myself",
	"k*m*s":         "kill myself",
	"k/m/s":         "kill myself",
	"s/h":           "self harm",
	"unalive":       "suicide",
	"end it":        "end my life",
	"end myself":    "end my life",
	"off myself":    "kill myself",
	"i cant go on":  "end my life",
	"i can't go on": "end my life",
	"take my life":  "end my life",
})

func buildSlangEntries(dict map[string]string) []slangEntry {
	keys := make([]string, 0, len(dict))
	for key := range dict {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	entries := make([]slangEntry, 0, len(dict))
	for _, key := range keys {
		entries = append(entries, slangEntry{
			re:          regexp.MustCompile(`\b` + slangPattern(key) + `\b`),
			replacement: " " + dict[key] + " ",
		})
	}
	return entries
}

// slangPattern turns a dictionary key into a separator-tolerant pattern:
// '*' and '/' in the key match any run of non-word characters.
func slangPattern(key string) string {
	if !strings.ContainsAny(key, "*/ ") {
		return regexp.QuoteMeta(key)
	}
	escaped := regexp.QuoteMeta(key)
	escaped = strings.ReplaceAll(escaped, `\*`, `\W*`)
	escaped = strings.ReplaceAll(escaped, `/`, `\W*`)
	return escaped
}

// ExpandSlang rewrites known slang/euphemisms into their explicit forms
// using word-boundary-safe substitution. Input is expected to already be
// normalized; output is re-collapsed so the pass stays idempotent.
func ExpandSlang(s string) string {
	text := " " + s + " "
	for _, e := range slangEntries {
		text = e.re.ReplaceAllString(text, e.replacement)
	}
	return strings.Join(strings.Fields(text), " ")
}
