package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"ensemble/internal/catalog"
)

// ErrNoTemplateMatch means no template scored above the minimum. It is a
// domain failure, not a transient one, so callers should not retry.
var ErrNoTemplateMatch = errors.New("no template matched")

const (
	requiredFieldWeight = 3
	keywordWeight       = 1

	// A template must at least satisfy one required field to be eligible.
	minMatchScore = requiredFieldWeight
)

// Match holds the winning template and the score that selected it.
type Match struct {
	TemplateID string `json:"template_id"`
	Score      int    `json:"score"`
}

// MatchTemplate scores every template against the supplied fields and
// free-form text. Required fields present in the input count for three
// points each, keyword hits in the text for one. Ties break toward the
// lexicographically smaller template ID so repeated runs pick the same
// winner.
func MatchTemplate(templates []catalog.Template, fields map[string]string, text string) (Match, error) {
	lowered := strings.ToLower(text)

	best := Match{Score: -1}
	for _, tmpl := range templates {
		score := scoreTemplate(tmpl, fields, lowered)
		if score > best.Score || (score == best.Score && tmpl.ID < best.TemplateID) {
			best = Match{TemplateID: tmpl.ID, Score: score}
		}
	}

	if best.Score < minMatchScore {
		return Match{}, fmt.Errorf("%w: best score %d below minimum %d", ErrNoTemplateMatch, best.Score, minMatchScore)
	}
	return best, nil
}

func scoreTemplate(tmpl catalog.Template, fields map[string]string, loweredText string) int {
	score := 0
	for _, required := range tmpl.RequiredFields {
		if value, ok := fields[required]; ok && strings.TrimSpace(value) != "" {
			score += requiredFieldWeight
		}
	}
	for _, keyword := range tmpl.Keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(loweredText, strings.ToLower(keyword)) {
			score += keywordWeight
		}
	}
	return score
}
