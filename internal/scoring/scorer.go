package scoring

import "context"

// Scorer sends one rendered prompt to the scoring model and returns the
// raw response text. Parsing is the caller's job.
type Scorer interface {
	Score(ctx context.Context, prompt string) (string, error)
}
