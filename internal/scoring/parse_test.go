package scoring

import "testing"

const payload = `{
  "customer_segment": "Brides",
  "customer_signals": ["wedding in june"],
  "scores": {"greeting": 7, "needs_discovery": 5, "presentation": 6, "objection_handling": 4, "closing": 6, "cross_sell": 3},
  "overall_score": 5.2,
  "techniques_used": [{"technique": "anchoring", "example": "quote"}],
  "missed_opportunities": ["offer the set"],
  "manipulation_flags": [],
  "is_ethical": true,
  "summary": "Decent dialog"
}`

func TestParseRawJSON(t *testing.T) {
	res := Parse(payload)
	if res == nil {
		t.Fatalf("expected successful parse")
	}
	if res.CustomerSegment != "Brides" {
		t.Fatalf("unexpected segment: %s", res.CustomerSegment)
	}
	if res.Scores["greeting"] != 7 {
		t.Fatalf("unexpected greeting score: %v", res.Scores["greeting"])
	}
	if res.OverallScore != 5.2 {
		t.Fatalf("unexpected overall: %v", res.OverallScore)
	}
}

func TestParseFencedJSON(t *testing.T) {
	res := Parse("```json\n" + payload + "\n```")
	if res == nil {
		t.Fatalf("expected fenced payload to parse")
	}
	if res.Summary != "Decent dialog" {
		t.Fatalf("unexpected summary: %s", res.Summary)
	}
}

func TestParseJSONEmbeddedInProse(t *testing.T) {
	res := Parse("Here is my analysis:\n" + payload + "\nHope this helps!")
	if res == nil {
		t.Fatalf("expected embedded payload to parse")
	}
	if res.Scores["closing"] != 6 {
		t.Fatalf("unexpected closing score: %v", res.Scores["closing"])
	}
}

func TestParseNonJSONReturnsNil(t *testing.T) {
	if res := Parse("I am sorry, I cannot score this dialog."); res != nil {
		t.Fatalf("expected nil for non-JSON text, got %+v", res)
	}
	if res := Parse(""); res != nil {
		t.Fatalf("expected nil for empty text")
	}
}

func TestParseDefaultsForMissingFields(t *testing.T) {
	res := Parse(`{"scores": {"greeting": 4}}`)
	if res == nil {
		t.Fatalf("expected parse to succeed")
	}
	if res.CustomerSegment != "unknown" {
		t.Fatalf("expected unknown segment, got %q", res.CustomerSegment)
	}
	if !res.IsEthical {
		t.Fatalf("is_ethical must default to true")
	}
	if res.Summary != "" {
		t.Fatalf("expected empty summary")
	}
	if res.MissedOpportunities == nil || len(res.MissedOpportunities) != 0 {
		t.Fatalf("expected empty missed opportunities, got %v", res.MissedOpportunities)
	}
	if res.OverallScore != 0 {
		t.Fatalf("expected zero overall score")
	}
}

func TestParseTolerantScoreValues(t *testing.T) {
	res := Parse(`{"scores": {"greeting": "7,5", "closing": "6.0", "cross_sell": "n/a"}, "overall_score": "5,5"}`)
	if res == nil {
		t.Fatalf("expected parse to succeed")
	}
	if res.Scores["greeting"] != 7.5 {
		t.Fatalf("decimal comma not normalized: %v", res.Scores["greeting"])
	}
	if res.Scores["closing"] != 6.0 {
		t.Fatalf("quoted decimal not parsed: %v", res.Scores["closing"])
	}
	if res.Scores["cross_sell"] != 0 {
		t.Fatalf("non-numeric score must become 0, got %v", res.Scores["cross_sell"])
	}
	if res.OverallScore != 5.5 {
		t.Fatalf("overall score comma not normalized: %v", res.OverallScore)
	}
}

func TestParseExplicitUnethicalKept(t *testing.T) {
	res := Parse(`{"is_ethical": false}`)
	if res == nil {
		t.Fatalf("expected parse to succeed")
	}
	if res.IsEthical {
		t.Fatalf("explicit false must survive the default")
	}
}
