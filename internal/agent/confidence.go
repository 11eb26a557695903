package agent

import (
	"regexp"
	"strconv"
)

// Scorer estimates answer reliability in [0,1]. It is isolated behind this
// interface so a real confidence model can replace the heuristics below
// without touching pipeline control flow.
type Scorer interface {
	Score(answer string) float64
}

// ConstantScorer returns a fixed value for every answer. The default 0.8 is a
// placeholder, not a genuine model-internal estimate.
type ConstantScorer struct {
	Value float64
}

func (c ConstantScorer) Score(string) float64 { return c.Value }

var confidencePattern = regexp.MustCompile(`(?i)confidence:\s*([0-9]{1,3})\s*%`)

// PatternScorer extracts a "confidence: NN%" marker from generated text. The
// fallback answer path asks the model to self-report in that format; when the
// marker is absent or out of range the score defaults to Default.
type PatternScorer struct {
	Default float64
}

func (p PatternScorer) Score(answer string) float64 {
	m := confidencePattern.FindStringSubmatch(answer)
	if m == nil {
		return p.Default
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 || n > 100 {
		return p.Default
	}
	return float64(n) / 100
}
