package service

import (
	"strings"
	"testing"
)

func TestFormatWeeklyReport(t *testing.T) {
	weakest := []SkillAverage{
		{Key: "closing_score", Average: 3.0},
		{Key: "cross_sell_score", Average: 4.5},
	}
	examples := []string{"did not propose the matching earrings"}

	report := FormatWeeklyReport(12, weakest, examples)
	if !strings.Contains(report, "Conversations analyzed: 12") {
		t.Fatalf("chat count missing:\n%s", report)
	}
	if !strings.Contains(report, "1. Closing (3.0)") {
		t.Fatalf("weakest skill line missing:\n%s", report)
	}
	if !strings.Contains(report, "» did not propose the matching earrings") {
		t.Fatalf("example missing:\n%s", report)
	}
}

func TestFormatWeeklyReportTruncatesLongExample(t *testing.T) {
	weakest := []SkillAverage{{Key: "closing_score", Average: 3.0}}
	long := strings.Repeat("x", exampleMaxChars+50)

	report := FormatWeeklyReport(1, weakest, []string{long})
	if !strings.Contains(report, "...") {
		t.Fatalf("expected ellipsis for the truncated example")
	}
	if strings.Contains(report, long) {
		t.Fatalf("example was not truncated")
	}
}

func TestFormatTrainingMessageListsModules(t *testing.T) {
	msg := FormatTrainingMessage("Aigerim", []SkillAverage{
		{Key: "greeting_score", Average: 2.5},
	})
	if !strings.Contains(msg, "Aigerim") {
		t.Fatalf("agent name missing:\n%s", msg)
	}
	if !strings.Contains(msg, "1. Greeting") {
		t.Fatalf("module line missing:\n%s", msg)
	}
}

func TestMissedExamplesDedupeAndCap(t *testing.T) {
	samples := []string{"a", "", "b", "a", "c", "d"}
	got := MissedExamples(samples, 3)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
