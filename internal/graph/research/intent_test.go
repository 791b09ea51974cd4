package research

import (
	"context"
	"testing"
)

func TestIntentKeywordFallback(t *testing.T) {
	p := NewIntentParser(nil, nil)

	cases := []struct {
		prompt string
		want   Intent
	}{
		{"research papers on state space models", IntentResearch},
		{"找一些相关论文", IntentResearch},
		{"make a slide deck about solar power", IntentPPT},
		{"summarize this document", IntentSummary},
		{"总结一下这篇文章", IntentSummary},
		{"how are you today", IntentGeneralChat},
	}
	for _, c := range cases {
		got := p.Parse(context.Background(), c.prompt)
		if got.Intent != c.want {
			t.Errorf("Parse(%q) = %s, want %s", c.prompt, got.Intent, c.want)
		}
	}
}

func TestIntentModelClassification(t *testing.T) {
	model := &cannedModel{replies: []string{`{"intent":"research","confidence":0.92}`}}
	p := NewIntentParser(model, nil)

	got := p.Parse(context.Background(), "anything")
	if got.Intent != IntentResearch || got.Confidence != 0.92 {
		t.Errorf("parsed = %+v", got)
	}
}

func TestIntentModelGarbageFallsBack(t *testing.T) {
	model := &cannedModel{replies: []string{"not json"}}
	p := NewIntentParser(model, nil)

	got := p.Parse(context.Background(), "anything")
	if got.Intent != IntentGeneralChat || got.Confidence != 0.5 {
		t.Errorf("parsed = %+v", got)
	}
}

func TestIntentUnknownLabelFallsBack(t *testing.T) {
	model := &cannedModel{replies: []string{`{"intent":"world_domination","confidence":1.0}`}}
	p := NewIntentParser(model, nil)

	got := p.Parse(context.Background(), "anything")
	if got.Intent != IntentGeneralChat {
		t.Errorf("parsed = %+v", got)
	}
}

func TestIntentClampsConfidence(t *testing.T) {
	model := &cannedModel{replies: []string{`{"intent":"summary","confidence":7.5}`}}
	p := NewIntentParser(model, nil)

	got := p.Parse(context.Background(), "anything")
	if got.Intent != IntentSummary || got.Confidence != 0.5 {
		t.Errorf("parsed = %+v", got)
	}
}
