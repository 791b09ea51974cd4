package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/haasonsaas/conductor/internal/observability"
)

func TestExecutorValidatesParams(t *testing.T) {
	reg := NewRegistry()
	ran := false
	err := reg.Register(&ToolDescriptor{
		Name:       "strict",
		Parameters: json.RawMessage(`{"type":"object","properties":{"count":{"type":"integer"}},"required":["count"]}`),
		Runner: ToolRunnerFunc(func(ctx context.Context, params map[string]any, progress func(map[string]any)) (*RunOutput, error) {
			ran = true
			return &RunOutput{Output: "ok"}, nil
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	exec := NewExecutor(reg, nil, nil)

	res := exec.Execute(context.Background(), "strict", map[string]any{"count": "three"}, nil)
	if res.Success {
		t.Fatal("invalid params accepted")
	}
	if res.FailureKind != ToolErrorValidation {
		t.Errorf("failure kind = %s", res.FailureKind)
	}
	if ran {
		t.Error("runner invoked despite validation failure")
	}

	res = exec.Execute(context.Background(), "strict", map[string]any{"count": 3}, nil)
	if !res.Success || res.Output != "ok" {
		t.Errorf("valid params rejected: %+v", res)
	}
}

func TestExecutorTimeout(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&ToolDescriptor{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Runner: ToolRunnerFunc(func(ctx context.Context, params map[string]any, progress func(map[string]any)) (*RunOutput, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &RunOutput{Output: "late"}, nil
			}
		}),
	})
	exec := NewExecutor(reg, nil, nil)

	res := exec.Execute(context.Background(), "slow", nil, nil)
	if res.Success {
		t.Fatal("timed-out execution reported success")
	}
	if res.FailureKind != ToolErrorTimeout {
		t.Errorf("failure kind = %s", res.FailureKind)
	}
}

func TestExecutorRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&ToolDescriptor{
		Name: "boom",
		Runner: ToolRunnerFunc(func(ctx context.Context, params map[string]any, progress func(map[string]any)) (*RunOutput, error) {
			panic("kaboom")
		}),
	})
	exec := NewExecutor(reg, nil, nil)

	res := exec.Execute(context.Background(), "boom", nil, nil)
	if res.Success {
		t.Fatal("panicking tool reported success")
	}
	if res.FailureKind != ToolErrorPanic {
		t.Errorf("failure kind = %s", res.FailureKind)
	}
	if !strings.Contains(res.Error, "kaboom") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestExecutorToolNotFound(t *testing.T) {
	exec := NewExecutor(NewRegistry(), nil, nil)
	res := exec.Execute(context.Background(), "missing", nil, nil)
	if res.Success {
		t.Fatal("missing tool reported success")
	}
	if res.FailureKind != ToolErrorExecution {
		t.Errorf("failure kind = %s", res.FailureKind)
	}
}

func TestExecutorRunnerError(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&ToolDescriptor{
		Name: "flaky",
		Runner: ToolRunnerFunc(func(ctx context.Context, params map[string]any, progress func(map[string]any)) (*RunOutput, error) {
			return nil, errors.New("upstream unavailable")
		}),
	})
	exec := NewExecutor(reg, nil, nil)

	res := exec.Execute(context.Background(), "flaky", nil, nil)
	if res.Success {
		t.Fatal("failed execution reported success")
	}
	if res.FailureKind != ToolErrorExecution {
		t.Errorf("failure kind = %s", res.FailureKind)
	}
	if !strings.Contains(res.Error, "upstream unavailable") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestExecutorRecordsMetricsAndSpans(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&ToolDescriptor{
		Name: "echo",
		Runner: ToolRunnerFunc(func(ctx context.Context, params map[string]any, progress func(map[string]any)) (*RunOutput, error) {
			return &RunOutput{Output: "ok"}, nil
		}),
	})
	_ = reg.Register(&ToolDescriptor{
		Name: "flaky",
		Runner: ToolRunnerFunc(func(ctx context.Context, params map[string]any, progress func(map[string]any)) (*RunOutput, error) {
			return nil, errors.New("upstream unavailable")
		}),
	})

	metrics := observability.NewMetricsOn(prometheus.NewRegistry())
	exporter := tracetest.NewInMemoryExporter()
	tracer := observability.NewTracerWithProvider(
		sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), "test")
	exec := NewExecutor(reg, &ExecutorConfig{Metrics: metrics, Tracer: tracer}, nil)

	if res := exec.Execute(context.Background(), "echo", nil, nil); !res.Success {
		t.Fatalf("echo failed: %+v", res)
	}
	if res := exec.Execute(context.Background(), "flaky", nil, nil); res.Success {
		t.Fatal("flaky reported success")
	}

	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("echo", "success")); got != 1 {
		t.Errorf("echo success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("flaky", "error")); got != 1 {
		t.Errorf("flaky error count = %v, want 1", got)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	if _, ok := byName["tool.echo"]; !ok {
		t.Error("tool.echo span missing")
	}
	flaky, ok := byName["tool.flaky"]
	if !ok {
		t.Fatal("tool.flaky span missing")
	}
	if flaky.Status.Code != codes.Error {
		t.Errorf("tool.flaky span status = %v", flaky.Status.Code)
	}
}

func TestResultPayload(t *testing.T) {
	got := ResultPayload(&ToolExecution{Success: true, Output: "done"})
	var decoded map[string]any
	if err := json.Unmarshal([]byte(got), &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded["success"] != true || decoded["output"] != "done" {
		t.Errorf("payload = %v", decoded)
	}
	if decoded["error"] != nil {
		t.Errorf("success payload carries error: %v", decoded["error"])
	}

	got = ResultPayload(&ToolExecution{Success: false, Error: "nope"})
	if err := json.Unmarshal([]byte(got), &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded["success"] != false || decoded["error"] != "nope" {
		t.Errorf("payload = %v", decoded)
	}
}

func TestRegistryFunctions(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(&ToolDescriptor{Name: name}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	fns := reg.Functions(nil)
	if len(fns) != 3 {
		t.Fatalf("functions = %d", len(fns))
	}
	names := []string{fns[0].Function.Name, fns[1].Function.Name, fns[2].Function.Name}
	if names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("not sorted: %v", names)
	}

	fns = reg.Functions(map[string]bool{"mid": true})
	if len(fns) != 1 || fns[0].Function.Name != "mid" {
		t.Errorf("filtered functions = %+v", fns)
	}
}

func TestRegistryRejectsBadSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&ToolDescriptor{
		Name:       "broken",
		Parameters: json.RawMessage(`{"type":`),
	})
	if err == nil {
		t.Fatal("invalid schema accepted")
	}
	if err := reg.Register(nil); err == nil {
		t.Fatal("nil descriptor accepted")
	}
}

func TestGateSearchQuota(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(&ToolDescriptor{Name: "web_search", SearchClass: true})
	_ = reg.Register(&ToolDescriptor{Name: "paper_search", SearchClass: true})
	_ = reg.Register(&ToolDescriptor{Name: "echo"})

	gate := NewGate(reg, 1)
	if ok, _ := gate.Admit("web_search"); !ok {
		t.Fatal("first search denied")
	}
	ok, reason := gate.Admit("paper_search")
	if ok {
		t.Fatal("quota not shared across search-class tools")
	}
	if reason != DenySearchQuota {
		t.Errorf("reason = %q", reason)
	}
	if ok, _ := gate.Admit("echo"); !ok {
		t.Error("non-search tool denied")
	}
	if ok, reason := gate.Admit("ghost"); ok || !strings.Contains(reason, "Unknown tool") {
		t.Errorf("unknown tool: ok=%v reason=%q", ok, reason)
	}
}
