package agent

import (
	"strings"
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

func TestInferGoal(t *testing.T) {
	cases := []struct {
		prompt string
		check  func(t *testing.T, g Goal)
	}{
		{"search for the latest mamba papers", func(t *testing.T, g Goal) {
			if !g.RequiresSearch {
				t.Error("search cue missed")
			}
			if g.RequiresTranscript || g.RequiresPPT {
				t.Errorf("spurious requirements: %+v", g)
			}
		}},
		{"make a powerpoint about climate policy", func(t *testing.T, g Goal) {
			if !g.RequiresPPT {
				t.Error("ppt cue missed")
			}
		}},
		{"summarize this video https://youtu.be/abc123", func(t *testing.T, g Goal) {
			if !g.RequiresTranscript || !g.RequiresVideoProbe {
				t.Errorf("video goal incomplete: %+v", g)
			}
			if g.VideoURL != "https://youtu.be/abc123" {
				t.Errorf("video url = %q", g.VideoURL)
			}
			if g.RequiresVideoDownload {
				t.Error("download inferred without a download cue")
			}
			if !g.VideoHeavy() {
				t.Error("video goal not marked heavy")
			}
		}},
		{"download this video https://youtube.com/watch?v=x", func(t *testing.T, g Goal) {
			if !g.RequiresVideoDownload {
				t.Error("download cue missed")
			}
		}},
		{"what is the capital of France", func(t *testing.T, g Goal) {
			if g.RequiresSearch || g.RequiresPPT || g.VideoHeavy() {
				t.Errorf("plain question over-inferred: %+v", g)
			}
		}},
	}
	for _, c := range cases {
		c.check(t, InferGoal(c.prompt))
	}
}

func TestInitializeTaskBuildsPlan(t *testing.T) {
	d := NewDirector(1)
	task := d.InitializeTask("s1", "u1", "search for recent mamba results and make a slide deck")

	if task.Phase != PhasePlanning {
		t.Errorf("phase = %s", task.Phase)
	}
	titles := make([]string, len(task.Plan))
	for i, s := range task.Plan {
		titles[i] = s.Title
	}
	want := []string{"Search for information", "Generate presentation", "Compose final answer"}
	if len(titles) != len(want) {
		t.Fatalf("plan = %v", titles)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("plan = %v, want %v", titles, want)
		}
	}
	if task.Plan[0].Status != PlanActive {
		t.Errorf("first step status = %s", task.Plan[0].Status)
	}

	// A new user message replaces the task entirely.
	d.InitializeTask("s1", "u1", "hello")
	replaced, _ := d.Task("s1")
	if len(replaced.Plan) != 1 {
		t.Errorf("replacement plan = %v", replaced.Plan)
	}
}

func TestRecordToolCallAdvancesPlan(t *testing.T) {
	d := NewDirector(1)
	d.InitializeTask("s1", "u1", "search for recent mamba results")

	d.RecordToolCall("s1", "web_search", map[string]any{"query": "mamba"}, &ToolExecution{
		Success: true,
		Output:  `[{"title":"A","url":"https://a.example","snippet":"s"}]`,
	})

	task, _ := d.Task("s1")
	if task.Phase != PhaseExecuting {
		t.Errorf("phase = %s", task.Phase)
	}
	if task.Plan[0].Status != PlanDone {
		t.Errorf("search step status = %s", task.Plan[0].Status)
	}
	if task.Plan[1].Status != PlanActive {
		t.Errorf("next step status = %s", task.Plan[1].Status)
	}
	if len(task.SearchResults) != 1 || task.SearchResults[0].Title != "A" {
		t.Errorf("search results = %+v", task.SearchResults)
	}
	if len(task.History) != 1 {
		t.Errorf("history = %+v", task.History)
	}
}

func TestDirectorSearchQuota(t *testing.T) {
	d := NewDirector(1)
	d.InitializeTask("s1", "u1", "search for news")

	if ok, _ := d.Decision("s1", "web_search", nil); !ok {
		t.Fatal("first search denied")
	}
	d.RecordToolCall("s1", "web_search", nil, &ToolExecution{Success: true, Output: "[]"})

	ok, reason := d.Decision("s1", "paper_search", nil)
	if ok {
		t.Fatal("second search-class call admitted past the quota")
	}
	if reason != DenySearchQuota {
		t.Errorf("reason = %q", reason)
	}

	// Non-search tools are unaffected.
	if ok, _ := d.Decision("s1", "echo", nil); !ok {
		t.Error("non-search tool denied")
	}
	// Sessions without a task are unconstrained.
	if ok, _ := d.Decision("other", "web_search", nil); !ok {
		t.Error("taskless session denied")
	}
}

func TestDirectorDeniesProgressQueryAfterArtifact(t *testing.T) {
	d := NewDirector(5)
	d.InitializeTask("s1", "u1", "search and make a deck")
	d.RecordToolCall("s1", "ppt_generate", nil, &ToolExecution{
		Success:   true,
		Artifacts: []models.Artifact{{Name: "deck.pptx", FileID: "f1"}},
	})

	ok, reason := d.Decision("s1", "web_search", map[string]any{"query": "what is the progress on my deck"})
	if ok {
		t.Fatal("progress query admitted after artifact generation")
	}
	if !strings.Contains(reason, "already been generated") {
		t.Errorf("reason = %q", reason)
	}

	// A substantive query is still fine while quota remains.
	if ok, _ := d.Decision("s1", "web_search", map[string]any{"query": "climate policy 2026"}); !ok {
		t.Error("substantive search denied")
	}
}

func TestPromptContext(t *testing.T) {
	d := NewDirector(1)
	if got := d.PromptContext("none"); got != "" {
		t.Errorf("context without task = %q", got)
	}

	d.InitializeTask("s1", "u1", "search for mamba papers")
	d.RecordToolCall("s1", "web_search", nil, &ToolExecution{
		Success: true,
		Output:  `[{"title":"A","url":"https://a.example"},{"title":"B","url":"https://b.example"}]`,
	})

	ctx := d.PromptContext("s1")
	for _, want := range []string{
		"Current task: search for mamba papers",
		"Phase: executing",
		"Search results collected: 2",
		"do not search again",
	} {
		if !strings.Contains(ctx, want) {
			t.Errorf("prompt context missing %q:\n%s", want, ctx)
		}
	}
}

func TestClearTask(t *testing.T) {
	d := NewDirector(1)
	d.InitializeTask("s1", "u1", "hello")
	d.ClearTask("s1")
	if _, ok := d.Task("s1"); ok {
		t.Error("task survived ClearTask")
	}
}

func TestExtractSearchResults(t *testing.T) {
	bare := `[{"title":"A","url":"https://a.example","snippet":"s"}]`
	if got := extractSearchResults(bare); len(got) != 1 || got[0].URL != "https://a.example" {
		t.Errorf("bare array: %+v", got)
	}
	wrapped := `{"results":[{"title":"B"},{"title":"C"}]}`
	if got := extractSearchResults(wrapped); len(got) != 2 {
		t.Errorf("wrapped object: %+v", got)
	}
	if got := extractSearchResults("not json"); got != nil {
		t.Errorf("garbage input: %+v", got)
	}
	if got := extractSearchResults(""); got != nil {
		t.Errorf("empty input: %+v", got)
	}
}
