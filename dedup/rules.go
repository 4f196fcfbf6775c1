package dedup

import (
	"regexp"
	"sort"

	"bitbucket.org/mmdatafocus/katsync_backend/koza"
)

const (
	RulePreferNoVersionSuffix     = "PreferNoVersionSuffix"
	RulePreferLowerVersion        = "PreferLowerVersion"
	RulePreferShorterCode         = "PreferShorterCode"
	RulePreferNoSpecialCharacters = "PreferNoSpecialCharacters"
	RulePreferCorrectEncoding     = "PreferCorrectEncoding"
)

// Rule narrows the canonical candidates of a duplicate group. Filter returns
// the preferred subset; an empty result means the rule has no opinion.
type Rule struct {
	Name     string
	Enabled  bool
	Priority int
	Filter   func(cards []koza.StockCard, versionPattern *regexp.Regexp) []koza.StockCard
}

// DefaultRules is the built-in priority-ordered chain.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     RulePreferNoVersionSuffix,
			Enabled:  true,
			Priority: 1,
			Filter: func(cards []koza.StockCard, vp *regexp.Regexp) []koza.StockCard {
				var out []koza.StockCard
				for _, c := range cards {
					normalized := NormalizeName(c.Name)
					if StripVersionSuffix(normalized, vp) == normalized {
						out = append(out, c)
					}
				}
				return out
			},
		},
		{
			Name:     RulePreferLowerVersion,
			Enabled:  true,
			Priority: 2,
			Filter: func(cards []koza.StockCard, vp *regexp.Regexp) []koza.StockCard {
				lowest := -1
				for _, c := range cards {
					v := VersionNumber(NormalizeName(c.Name), vp)
					if lowest == -1 || v < lowest {
						lowest = v
					}
				}
				var out []koza.StockCard
				for _, c := range cards {
					if VersionNumber(NormalizeName(c.Name), vp) == lowest {
						out = append(out, c)
					}
				}
				return out
			},
		},
		{
			Name:     RulePreferShorterCode,
			Enabled:  true,
			Priority: 3,
			Filter: func(cards []koza.StockCard, _ *regexp.Regexp) []koza.StockCard {
				shortest := -1
				for _, c := range cards {
					if shortest == -1 || len(c.Code) < shortest {
						shortest = len(c.Code)
					}
				}
				var out []koza.StockCard
				for _, c := range cards {
					if len(c.Code) == shortest {
						out = append(out, c)
					}
				}
				return out
			},
		},
		{
			Name:     RulePreferNoSpecialCharacters,
			Enabled:  true,
			Priority: 4,
			Filter: func(cards []koza.StockCard, _ *regexp.Regexp) []koza.StockCard {
				var out []koza.StockCard
				for _, c := range cards {
					if !HasSpecialCharacters(c.Name) {
						out = append(out, c)
					}
				}
				return out
			},
		},
		{
			Name:     RulePreferCorrectEncoding,
			Enabled:  true,
			Priority: 5,
			Filter: func(cards []koza.StockCard, _ *regexp.Regexp) []koza.StockCard {
				var out []koza.StockCard
				for _, c := range cards {
					if !HasEncodingIssue(c.Name) {
						out = append(out, c)
					}
				}
				return out
			},
		},
	}
}

// SelectCanonical runs the enabled rules in priority order over the group's
// cards. The first rule that narrows the field to exactly one card decides;
// rules that narrow to several pass the shortlist on; rules that would
// eliminate everyone are ignored. A final tie is broken by the lowest card
// id, which is stable across runs.
func SelectCanonical(group DuplicateGroup, rules []Rule, versionPattern *regexp.Regexp) (*koza.StockCard, string) {
	if len(group.Cards) == 0 {
		return nil, ""
	}

	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled && r.Filter != nil {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	candidates := group.Cards
	for _, rule := range ordered {
		filtered := rule.Filter(candidates, versionPattern)
		if len(filtered) == 1 {
			c := filtered[0]
			return &c, rule.Name
		}
		if len(filtered) > 1 {
			candidates = filtered
		}
	}

	// Fallback: lowest stable id.
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ID < best.ID {
			best = c
		}
	}
	return &best, "LowestCardId"
}
