package scoring

import (
	"strings"

	"github.com/sales-academy/backend/internal/models"
)

const (
	// MaxDialogChars bounds the transcript embedded into the prompt so a
	// long chat cannot blow the token budget.
	MaxDialogChars = 8000
	// MinDialogChars is the threshold under which a transcript carries
	// too little signal to score.
	MinDialogChars = 50

	truncationMarker = "\n[...dialog truncated...]"
)

const analysisPrompt = `You are an expert in premium lingerie sales for the INSTINTO brand.
Analyze the dialog between a sales agent and a client.

BRAND CONTEXT:
- Premium women's lingerie, dark luxury
- Price segment: middle+
- Target audience: women 25-45

CUSTOMER SEGMENTS:
1. Brides - preparing for a wedding
2. Postpartum - coming back to themselves
3. Couples - rekindling the spark
4. Experimenters - new sensations
5. Gifts - looking for a present
6. New self - transformation
7. Solo - partner away
8. Travelers - for trips

SALE STAGES:
1. Greeting and first contact
2. Needs discovery
3. Product presentation
4. Objection handling
5. Closing the deal
6. Cross-sell

TASK:
1. Identify the customer segment from signals in the dialog
2. Score every sale stage (1-10, where 10 = perfect)
3. List the techniques the agent used
4. Point out missed opportunities
5. Check for manipulative practices (pressure, false urgency)

DIALOG:
{dialog}

Answer ONLY with JSON (no markdown):
{
  "customer_segment": "segment name or unknown",
  "customer_signals": ["signal 1", "signal 2"],
  "scores": {
    "greeting": 7,
    "needs_discovery": 5,
    "presentation": 6,
    "objection_handling": 4,
    "closing": 6,
    "cross_sell": 3
  },
  "overall_score": 5.2,
  "techniques_used": [
    {"technique": "name", "example": "quote from the dialog"}
  ],
  "missed_opportunities": ["what could have been done better"],
  "manipulation_flags": [],
  "is_ethical": true,
  "summary": "One or two sentence recap of the dialog"
}`

// FormatDialog renders the message log as plain "who: text" lines.
// Messages with empty text are dropped.
func FormatDialog(messages []models.Message) string {
	var lines []string
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		role := "Agent"
		if msg.Direction == "in" {
			role = "Client"
		}
		lines = append(lines, role+": "+text)
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt embeds the dialog into the scoring rubric, truncating it
// to MaxDialogChars with a visible marker.
func BuildPrompt(dialog string) string {
	if runes := []rune(dialog); len(runes) > MaxDialogChars {
		dialog = string(runes[:MaxDialogChars]) + truncationMarker
	}
	return strings.Replace(analysisPrompt, "{dialog}", dialog, 1)
}
