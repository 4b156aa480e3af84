package service

// SkillKeys fixes the iteration order of the six skill dimensions. Ties
// in the weakest-skill ranking fall back to this order.
var SkillKeys = []string{
	"greeting_score",
	"needs_score",
	"presentation_score",
	"objection_score",
	"closing_score",
	"cross_sell_score",
}

// SkillNames renders skill keys for reports.
var SkillNames = map[string]string{
	"greeting_score":     "Greeting",
	"needs_score":        "Needs discovery",
	"presentation_score": "Presentation",
	"objection_score":    "Objection handling",
	"closing_score":      "Closing",
	"cross_sell_score":   "Cross-sell",
}

// SkillModules maps skill keys to training-module identifiers. A skill
// without a module still shows up in textual reports, it just gets no
// button.
var SkillModules = map[string]string{
	"greeting_score":     "greeting",
	"needs_score":        "needs_discovery",
	"presentation_score": "presentation",
	"objection_score":    "objection_handling",
	"closing_score":      "closing",
	"cross_sell_score":   "cross_sell",
}

// modelScoreKeys maps the score keys the model answers with to the
// skill keys used in storage and reports.
var modelScoreKeys = map[string]string{
	"greeting":           "greeting_score",
	"needs_discovery":    "needs_score",
	"presentation":       "presentation_score",
	"objection_handling": "objection_score",
	"closing":            "closing_score",
	"cross_sell":         "cross_sell_score",
}
