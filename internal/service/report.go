package service

import (
	"fmt"
	"strings"
)

const exampleMaxChars = 100

// FormatWeeklyReport renders one agent's weekly report as Telegram HTML:
// chat count, weakest skills with averages, and a missed-opportunity
// example per skill where one is available.
func FormatWeeklyReport(chatCount int, weakest []SkillAverage, missedExamples []string) string {
	lines := []string{
		"<b>Your weekly report</b>",
		"",
		fmt.Sprintf("Conversations analyzed: %d", chatCount),
		"",
		"<b>Growth areas:</b>",
	}

	for i, skill := range weakest {
		name := SkillNames[skill.Key]
		if name == "" {
			name = skill.Key
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%.1f)", i+1, name, skill.Average))

		if i < len(missedExamples) && missedExamples[i] != "" {
			example := missedExamples[i]
			if runes := []rune(example); len(runes) > exampleMaxChars {
				example = string(runes[:exampleMaxChars]) + "..."
			}
			lines = append(lines, fmt.Sprintf("   <i>» %s</i>", example))
		}
	}

	return strings.Join(lines, "\n")
}

// FormatTrainingMessage renders the short training invitation that goes
// out with the module buttons.
func FormatTrainingMessage(agentName string, weakest []SkillAverage) string {
	lines := []string{
		fmt.Sprintf("<b>%s, time to grow!</b>", agentName),
		"",
		"Based on your analyzed conversations this week, try these modules:",
	}
	for i, skill := range weakest {
		name := SkillNames[skill.Key]
		if name == "" {
			name = skill.Key
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, name))
	}
	lines = append(lines, "", "<i>Tap a button below to start training</i>")
	return strings.Join(lines, "\n")
}

// MissedExamples dedupes an agent's missed-opportunity samples keeping
// first-seen order and returns at most n.
func MissedExamples(samples []string, n int) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range samples {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}
