package scoring

import (
	"context"
	"fmt"

	"github.com/sales-academy/backend/internal/utils"
)

// MockScorer produces a deterministic, well-formed response without
// touching the network. Used when no scoring API key is configured.
type MockScorer struct {
	ModelVersion string
}

func (m MockScorer) Score(ctx context.Context, prompt string) (string, error) {
	// Index with the unsigned hash: int(h) is negative for half of all
	// hashes and a negative modulo would panic.
	h := utils.HashStringToUint64(prompt)

	segments := []string{"Brides", "Gifts", "Experimenters", "unknown"}
	scores := []int{3, 5, 6, 7, 8, 9}

	greeting := scores[h%uint64(len(scores))]
	needs := scores[(h/7)%uint64(len(scores))]
	presentation := scores[(h/11)%uint64(len(scores))]
	objection := scores[(h/13)%uint64(len(scores))]
	closing := scores[(h/17)%uint64(len(scores))]
	crossSell := scores[(h/19)%uint64(len(scores))]
	overall := float64(greeting+needs+presentation+objection+closing+crossSell) / 6.0

	return fmt.Sprintf(`{
  "customer_segment": %q,
  "customer_signals": ["mock signal"],
  "scores": {
    "greeting": %d,
    "needs_discovery": %d,
    "presentation": %d,
    "objection_handling": %d,
    "closing": %d,
    "cross_sell": %d
  },
  "overall_score": %.1f,
  "techniques_used": [{"technique": "mock technique", "example": "mock quote"}],
  "missed_opportunities": ["mock missed opportunity"],
  "manipulation_flags": [],
  "is_ethical": true,
  "summary": "Mock analysis (%s)"
}`, segments[(h/23)%uint64(len(segments))], greeting, needs, presentation, objection, closing, crossSell, overall, m.ModelVersion), nil
}
