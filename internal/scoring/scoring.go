// Package scoring parses LLM-as-judge evaluations of a debate synthesis
// against a ground-truth reference.
package scoring

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GroundTruthScore is the parsed result of a judge evaluation. A score with
// all numeric fields set to -1 is the recorded form of an unparseable judge
// response — valid data, not an error.
type GroundTruthScore struct {
	// Accuracy is the 1-5 accuracy score, or -1 on parse failure.
	Accuracy int `json:"accuracy"`

	// Completeness is the 1-5 completeness score, or -1 on parse failure.
	Completeness int `json:"completeness"`

	// Overall is the arithmetic mean of accuracy and completeness.
	Overall float64 `json:"overall"`

	// Explanation is the judge's justification, or a diagnostic on failure.
	Explanation string `json:"explanation"`

	// JudgeModel is the alias that performed the scoring.
	JudgeModel string `json:"judge_model"`
}

// ToMap serializes the score for attachment under response analysis and
// transcript metadata. Both attachment points receive the same map so the
// two copies are structurally identical.
func (s GroundTruthScore) ToMap() map[string]any {
	return map[string]any{
		"accuracy":     s.Accuracy,
		"completeness": s.Completeness,
		"overall":      s.Overall,
		"explanation":  s.Explanation,
		"judge_model":  s.JudgeModel,
	}
}

// Failed creates the error-marker score recorded when a judge response could
// not be parsed.
func Failed(judgeModel, rawContent string) GroundTruthScore {
	return GroundTruthScore{
		Accuracy:     -1,
		Completeness: -1,
		Overall:      -1,
		Explanation:  fmt.Sprintf("Judge output could not be parsed: %s", rawContent),
		JudgeModel:   judgeModel,
	}
}

var (
	accuracyRe     = regexp.MustCompile(`(?i)accuracy\s*:\s*(\S+)`)
	completenessRe = regexp.MustCompile(`(?i)completeness\s*:\s*(\S+)`)
	// (?s) so the explanation captures all trailing lines.
	explanationRe = regexp.MustCompile(`(?is)explanation\s*:\s*(.*)`)
)

// ParseScoreResponse extracts accuracy, completeness, and explanation from a
// judge's free-text response. Matching is case-insensitive and whitespace
// tolerant; a single-line response carrying all three keys is accepted.
// Numeric values are clamped to [1, 5]. A missing or non-numeric ACCURACY or
// COMPLETENESS field is an error.
func ParseScoreResponse(content string) (accuracy, completeness int, explanation string, err error) {
	accuracy, err = extractScore(accuracyRe, "ACCURACY", content)
	if err != nil {
		return 0, 0, "", err
	}
	completeness, err = extractScore(completenessRe, "COMPLETENESS", content)
	if err != nil {
		return 0, 0, "", err
	}
	if m := explanationRe.FindStringSubmatch(content); m != nil {
		explanation = strings.TrimSpace(m[1])
	}
	return accuracy, completeness, explanation, nil
}

// NewScore parses a judge response into a GroundTruthScore, computing the
// overall as the mean of the two sub-scores.
func NewScore(judgeModel, content string) (GroundTruthScore, error) {
	accuracy, completeness, explanation, err := ParseScoreResponse(content)
	if err != nil {
		return GroundTruthScore{}, err
	}
	return GroundTruthScore{
		Accuracy:     accuracy,
		Completeness: completeness,
		Overall:      float64(accuracy+completeness) / 2,
		Explanation:  explanation,
		JudgeModel:   judgeModel,
	}, nil
}

func extractScore(re *regexp.Regexp, field, content string) (int, error) {
	m := re.FindStringSubmatch(content)
	if m == nil {
		return 0, fmt.Errorf("scoring: missing %s field in judge response", field)
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("scoring: non-numeric %s value %q", field, m[1])
	}
	return clamp(v, 1, 5), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
