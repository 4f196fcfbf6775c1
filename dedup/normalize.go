package dedup

import (
	"regexp"
	"strings"
)

// defaultVersionSuffixPattern matches the version decorations seen on
// duplicated stock cards: "WIDGET-A-V2", "WIDGET-A-2", "WIDGET-A (2)",
// "WIDGET-A v2", "WIDGET-AV2".
var defaultVersionSuffixPattern = regexp.MustCompile(`(?i)(?:[\s_-]+v?\d+|\s*\(\d+\)|v\d+)$`)

var versionNumberPattern = regexp.MustCompile(`(\d+)\s*\)?$`)

var whitespacePattern = regexp.MustCompile(`\s+`)

var separatorPattern = regexp.MustCompile(`[\s_-]+`)

var turkishFold = strings.NewReplacer(
	"Ç", "C", "ç", "c",
	"Ğ", "G", "ğ", "g",
	"İ", "I", "ı", "i",
	"Ö", "O", "ö", "o",
	"Ş", "S", "ş", "s",
	"Ü", "U", "ü", "u",
)

// NormalizeName produces the comparison form of a card name: trimmed,
// diacritics folded, uppercased, inner whitespace collapsed to single spaces.
func NormalizeName(name string) string {
	s := strings.TrimSpace(name)
	s = turkishFold.Replace(s)
	s = strings.ToUpper(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return s
}

// CollapseSeparators rewrites every run of spaces, underscores and hyphens as
// a single hyphen, so "WIDGET A", "WIDGET_A" and "WIDGET-A" compare equal.
func CollapseSeparators(name string) string {
	return separatorPattern.ReplaceAllString(name, "-")
}

// StripVersionSuffix removes a trailing version decoration, if any.
func StripVersionSuffix(name string, pattern *regexp.Regexp) string {
	if pattern == nil {
		pattern = defaultVersionSuffixPattern
	}
	stripped := strings.TrimSpace(pattern.ReplaceAllString(name, ""))
	if stripped == "" {
		return name
	}
	return stripped
}

// VersionNumber extracts the numeric version from a name's suffix. Names
// without a version decoration report 0.
func VersionNumber(name string, pattern *regexp.Regexp) int {
	if pattern == nil {
		pattern = defaultVersionSuffixPattern
	}
	suffix := pattern.FindString(name)
	if suffix == "" {
		return 0
	}
	m := versionNumberPattern.FindStringSubmatch(suffix)
	if len(m) < 2 {
		return 0
	}
	n := 0
	for _, r := range m[1] {
		n = n*10 + int(r-'0')
	}
	return n
}

// concatSeparators are the joiners observed when an import glued a name onto
// itself.
var concatSeparators = []string{"", "-", "_", " "}

// SplitConcatenation reports whether name is a self-concatenation
// ("WIDGET-AWIDGET-A", "FOO-FOO", "BAR_BAR") and returns the corrected half.
func SplitConcatenation(name string) (string, bool) {
	for _, sep := range concatSeparators {
		rest := len(name) - len(sep)
		if rest <= 0 || rest%2 != 0 {
			continue
		}
		half := rest / 2
		if half == 0 {
			continue
		}
		if name == name[:half]+sep+name[:half] {
			return name[:half], true
		}
	}
	return "", false
}

// HasEncodingIssue reports whether a name shows character corruption from a
// bad charset conversion ('?' placeholders or U+FFFD).
func HasEncodingIssue(name string) bool {
	return strings.ContainsRune(name, '?') || strings.ContainsRune(name, '�')
}

// MatchesCorrupted reports whether a corrupted name (containing '?'
// placeholders) could be the same string as clean, treating each '?' as a
// single-character wildcard.
func MatchesCorrupted(corrupted string, clean string) bool {
	if len(corrupted) == 0 {
		return len(clean) == 0
	}
	var b strings.Builder
	b.WriteString(`^`)
	for _, r := range corrupted {
		if r == '?' || r == '�' {
			b.WriteString(`.`)
		} else {
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(clean)
}

var specialCharPattern = regexp.MustCompile(`[^A-Z0-9 \-]`)

// HasSpecialCharacters reports whether the normalized name carries anything
// beyond letters, digits, spaces and hyphens.
func HasSpecialCharacters(name string) bool {
	return specialCharPattern.MatchString(NormalizeName(name))
}
