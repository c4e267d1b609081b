package classify

import (
	"sort"
	"strings"

	"github.com/fieldops/docsorter/internal/entity"
)

// ScoreKeywords scores every entity against text. An entity's confidence is
// exactly matchedKeywords/len(Keywords); matching is case-insensitive
// substring containment. The input order (the directory's priority asc,
// name asc) is preserved across equal confidences via a stable sort, which
// is the tie-break rule.
func ScoreKeywords(text string, entities []*entity.Entity) []entity.Candidate {
	lower := strings.ToLower(text)

	candidates := make([]entity.Candidate, 0, len(entities))
	for _, e := range entities {
		if len(e.Keywords) == 0 {
			continue // defunct row; active entities always carry keywords
		}
		matched := 0
		for _, kw := range e.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		candidates = append(candidates, entity.Candidate{
			EntityID:   e.ID,
			Code:       e.Code,
			Name:       e.Name,
			Confidence: float64(matched) / float64(len(e.Keywords)),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}

// MatchedKeywords returns which of e's keywords occur in text, preserving
// the keyword list order. Used for reasoning strings.
func MatchedKeywords(text string, e *entity.Entity) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range e.Keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(lower, k) {
			out = append(out, kw)
		}
	}
	return out
}
