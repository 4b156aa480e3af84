package scoring

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/sales-academy/backend/internal/models"
)

// Score tolerates the ways the model writes numbers: plain JSON numbers,
// quoted numbers, and decimal commas. Anything unreadable becomes 0.
type Score float64

func (s *Score) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*s = Score(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		str = strings.ReplaceAll(strings.TrimSpace(str), ",", ".")
		if f, err := strconv.ParseFloat(str, 64); err == nil {
			*s = Score(f)
			return nil
		}
	}
	*s = 0
	return nil
}

// Result is the structured record extracted from the model response.
type Result struct {
	CustomerSegment     string             `json:"customer_segment"`
	CustomerSignals     []string           `json:"customer_signals"`
	Scores              map[string]float64 `json:"scores"`
	OverallScore        float64            `json:"overall_score"`
	TechniquesUsed      []models.Technique `json:"techniques_used"`
	MissedOpportunities []string           `json:"missed_opportunities"`
	ManipulationFlags   []string           `json:"manipulation_flags"`
	IsEthical           bool               `json:"is_ethical"`
	Summary             string             `json:"summary"`
}

type rawResult struct {
	CustomerSegment     string             `json:"customer_segment"`
	CustomerSignals     []string           `json:"customer_signals"`
	Scores              map[string]Score   `json:"scores"`
	OverallScore        Score              `json:"overall_score"`
	TechniquesUsed      []models.Technique `json:"techniques_used"`
	MissedOpportunities []string           `json:"missed_opportunities"`
	ManipulationFlags   []string           `json:"manipulation_flags"`
	IsEthical           *bool              `json:"is_ethical"`
	Summary             string             `json:"summary"`
}

var jsonSpanRe = regexp.MustCompile(`\{[\s\S]*\}`)

// Parse extracts a Result from free-form model output. Models wrap JSON
// in markdown fences or surround it with prose; both are handled. A nil
// return means the payload carried no decodable JSON object; callers
// count it as a parse failure, never a fatal error.
func Parse(raw string) *Result {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		var kept []string
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			kept = append(kept, line)
		}
		text = strings.Join(kept, "\n")
	}

	var r rawResult
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		span := jsonSpanRe.FindString(text)
		if span == "" {
			return nil
		}
		r = rawResult{}
		if err := json.Unmarshal([]byte(span), &r); err != nil {
			return nil
		}
	}

	return normalize(r)
}

func normalize(r rawResult) *Result {
	out := &Result{
		CustomerSegment:     r.CustomerSegment,
		CustomerSignals:     r.CustomerSignals,
		Scores:              map[string]float64{},
		OverallScore:        float64(r.OverallScore),
		TechniquesUsed:      r.TechniquesUsed,
		MissedOpportunities: r.MissedOpportunities,
		ManipulationFlags:   r.ManipulationFlags,
		IsEthical:           r.IsEthical == nil || *r.IsEthical,
		Summary:             r.Summary,
	}
	if out.CustomerSegment == "" {
		out.CustomerSegment = "unknown"
	}
	for key, score := range r.Scores {
		out.Scores[key] = float64(score)
	}
	if out.CustomerSignals == nil {
		out.CustomerSignals = []string{}
	}
	if out.TechniquesUsed == nil {
		out.TechniquesUsed = []models.Technique{}
	}
	if out.MissedOpportunities == nil {
		out.MissedOpportunities = []string{}
	}
	if out.ManipulationFlags == nil {
		out.ManipulationFlags = []string{}
	}
	return out
}
