package challenge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	MinScore = 1
	MaxScore = 5

	CriterionOverall = "overall_verdict"
)

// Criteria is the fixed rubric, in report order.
var Criteria = []string{
	"specificity",
	"strategic_alignment",
	"value_roi",
	"feasibility",
	"non_technical_usability",
	"novelty_creativity",
	"technical_complexity_vs_value",
	CriterionOverall,
}

// Models sometimes answer with a rating word instead of a number.
var scoreWords = map[string]int{
	"very low":  1,
	"poor":      1,
	"low":       2,
	"fair":      2,
	"medium":    3,
	"avg":       3,
	"average":   3,
	"moderate":  3,
	"high":      4,
	"good":      4,
	"very high": 5,
	"excellent": 5,
	"great":     5,
}

func IsCriterion(name string) bool {
	for _, c := range Criteria {
		if c == name {
			return true
		}
	}
	return false
}

// CriterionLabel turns "value_roi" into "Value Roi".
func CriterionLabel(c string) string {
	words := strings.Split(c, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// CoerceScore converts a model-supplied score into 1..5. It never invents a
// value: missing or unrecognised input is an error.
func CoerceScore(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, fmt.Errorf("score missing")
	case float64:
		return scoreFromFloat(t)
	case int:
		return scoreFromFloat(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("score %q is not numeric", t.String())
		}
		return scoreFromFloat(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, fmt.Errorf("score missing")
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return scoreFromFloat(f)
		}
		if n, ok := scoreWords[strings.ToLower(s)]; ok {
			return n, nil
		}
		return 0, fmt.Errorf("score %q not recognised", s)
	default:
		return 0, fmt.Errorf("score has unsupported type %T", v)
	}
}

func scoreFromFloat(f float64) (int, error) {
	if f != math.Trunc(f) || f < MinScore || f > MaxScore {
		return 0, fmt.Errorf("score %v outside %d..%d", f, MinScore, MaxScore)
	}
	return int(f), nil
}
