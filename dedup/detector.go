package dedup

import (
	"regexp"
	"sort"

	"bitbucket.org/mmdatafocus/katsync_backend/koza"
	"github.com/google/uuid"
)

type DuplicateType string

const (
	TypeVersioning         DuplicateType = "Versioning"
	TypeConcatenationError DuplicateType = "ConcatenationError"
	TypeCharacterEncoding  DuplicateType = "CharacterEncoding"
	TypeMixed              DuplicateType = "Mixed"
)

type CardIssue struct {
	CardId      int64  `json:"card_id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

type DuplicateGroup struct {
	GroupId string           `json:"group_id"`
	Key     string           `json:"key"`
	Type    DuplicateType    `json:"type"`
	Cards   []koza.StockCard `json:"cards"`
	Issues  []CardIssue      `json:"issues"`
}

// Detector groups stock cards that name the same real product and classifies
// each group by anomaly. It is pure: no remote or database calls.
type Detector struct {
	// VersionSuffixPattern overrides the default version decoration matcher.
	VersionSuffixPattern *regexp.Regexp

	// Classify overrides group classification; the zero value uses
	// classifyIssues. Kept pluggable for tenants with house naming schemes.
	Classify func(issues []CardIssue) DuplicateType
}

func NewDetector() *Detector {
	return &Detector{}
}

const (
	issueVersionSuffix = "version suffix in name"
	issueConcatenation = "name is a self-concatenation"
	issueEncoding      = "corrupted characters in name"
)

// groupKey is the identity two duplicate cards share: normalized name with
// version decorations stripped, separators unified and self-concatenation
// corrected. Separator unification keeps "WIDGET A v2" in the same group as
// "WIDGET-A-2" and "WIDGET-A".
func (d *Detector) groupKey(name string) (key string, issues []string) {
	key = NormalizeName(name)

	if stripped := StripVersionSuffix(key, d.VersionSuffixPattern); stripped != key {
		key = stripped
		issues = append(issues, issueVersionSuffix)
	}
	key = CollapseSeparators(key)
	if half, ok := SplitConcatenation(key); ok {
		key = half
		issues = append(issues, issueConcatenation)
	}
	if HasEncodingIssue(key) {
		issues = append(issues, issueEncoding)
	}
	return key, issues
}

// Analyze partitions cards into duplicate groups. Cards whose corrupted key
// ('?' placeholders) wildcard-matches exactly one clean key join that group;
// unmatched corrupted names stand alone. Only groups holding two or more
// cards are duplicates.
func (d *Detector) Analyze(cards []koza.StockCard) []DuplicateGroup {
	type member struct {
		card   koza.StockCard
		issues []string
	}

	groups := make(map[string][]member)
	order := make([]string, 0, len(cards))
	var corrupted []member

	for _, card := range cards {
		key, issues := d.groupKey(card.Name)
		if HasEncodingIssue(key) {
			corrupted = append(corrupted, member{card: card, issues: issues})
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], member{card: card, issues: issues})
	}

	// Attach corrupted names to the clean key they could be, when that key
	// is unambiguous.
	for _, m := range corrupted {
		key, _ := d.groupKey(m.card.Name)
		var matches []string
		for _, clean := range order {
			if MatchesCorrupted(key, clean) {
				matches = append(matches, clean)
			}
		}
		target := key
		if len(matches) == 1 {
			target = matches[0]
		}
		if _, seen := groups[target]; !seen {
			order = append(order, target)
		}
		groups[target] = append(groups[target], m)
	}

	var result []DuplicateGroup
	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}

		group := DuplicateGroup{
			GroupId: uuid.NewString(),
			Key:     key,
		}
		for _, m := range members {
			group.Cards = append(group.Cards, m.card)
			for _, desc := range m.issues {
				group.Issues = append(group.Issues, CardIssue{
					CardId:      m.card.ID,
					Code:        m.card.Code,
					Description: desc,
				})
			}
		}
		sort.Slice(group.Cards, func(i, j int) bool { return group.Cards[i].ID < group.Cards[j].ID })

		if d.Classify != nil {
			group.Type = d.Classify(group.Issues)
		} else {
			group.Type = classifyIssues(group.Issues)
		}
		result = append(result, group)
	}
	return result
}

// classifyIssues maps the issue set to a single anomaly type; more than one
// distinct anomaly makes the group Mixed.
func classifyIssues(issues []CardIssue) DuplicateType {
	kinds := make(map[DuplicateType]bool)
	for _, issue := range issues {
		switch issue.Description {
		case issueVersionSuffix:
			kinds[TypeVersioning] = true
		case issueConcatenation:
			kinds[TypeConcatenationError] = true
		case issueEncoding:
			kinds[TypeCharacterEncoding] = true
		}
	}
	if len(kinds) > 1 {
		return TypeMixed
	}
	for k := range kinds {
		return k
	}
	// Identical names with no decoration at all still collide on the key.
	return TypeVersioning
}
