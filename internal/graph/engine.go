// Package graph provides a deterministic scenario-graph executor: nodes with
// pre/postconditions, plain and conditional edges, and a recorded execution
// path. It shares no state with the turn loop beyond identity ids.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/conductor/internal/observability"
)

// End is the terminal route: execution stops when an edge points here.
const End = "__end__"

// CheckResult reports one pre- or postcondition evaluation. Fatal failures
// short-circuit to the failure handler; non-fatal ones are recorded as
// warnings.
type CheckResult struct {
	Name    string
	Passed  bool
	Fatal   bool
	Message string
}

// Check evaluates a condition against the state (precondition) or the state
// plus the node output (postcondition).
type Check[S any] struct {
	Name  string
	Fatal bool
	Fn    func(s S, output any) CheckResult
}

// Pass is a helper for a passing check result.
func Pass(name string) CheckResult { return CheckResult{Name: name, Passed: true} }

// Fail is a helper for a failing check result.
func Fail(name, message string, fatal bool) CheckResult {
	return CheckResult{Name: name, Passed: false, Fatal: fatal, Message: message}
}

// Node is one unit of work in the graph.
type Node[S any] struct {
	ID string

	// Pre are preconditions checked before Run. A fatal failure routes to
	// the failure handler, or fails the execution if none is configured.
	Pre []Check[S]

	// Run executes the node and returns an opaque output consumed by Post
	// checks and Update.
	Run func(ctx context.Context, s S) (any, error)

	// Post are postconditions checked against state and output after Run.
	Post []Check[S]

	// Update folds the node output into the state. Nil means the state
	// passes through unchanged.
	Update func(s S, output any) S
}

// Condition routes conditionally: it inspects the state and returns a route
// key resolved through the edge's Routes map.
type Condition[S any] func(s S) string

type conditionalEdge[S any] struct {
	condition Condition[S]
	routes    map[string]string
}

// Graph is an executable node/edge definition. Build with NewGraph and the
// Add* methods, then run with an Engine.
type Graph[S any] struct {
	entry          string
	nodes          map[string]*Node[S]
	edges          map[string]string
	conditional    map[string]conditionalEdge[S]
	failureHandler string
}

// NewGraph creates an empty graph with the given entry node id.
func NewGraph[S any](entry string) *Graph[S] {
	return &Graph[S]{
		entry:       entry,
		nodes:       make(map[string]*Node[S]),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge[S]),
	}
}

// AddNode registers a node. A node with a duplicate id replaces the previous
// definition.
func (g *Graph[S]) AddNode(n *Node[S]) *Graph[S] {
	g.nodes[n.ID] = n
	return g
}

// AddEdge registers a plain from→to edge. Use End to terminate.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.edges[from] = to
	return g
}

// AddConditionalEdge registers a conditional route: condition(state) yields a
// key looked up in routes.
func (g *Graph[S]) AddConditionalEdge(from string, condition Condition[S], routes map[string]string) *Graph[S] {
	g.conditional[from] = conditionalEdge[S]{condition: condition, routes: routes}
	return g
}

// SetFailureHandler names the node that fatal pre/postcondition failures and
// node errors route to.
func (g *Graph[S]) SetFailureHandler(id string) *Graph[S] {
	g.failureHandler = id
	return g
}

// Observer receives execution lifecycle callbacks. All methods may be called
// from the executing goroutine only.
type Observer interface {
	OnStart(entry string)
	OnNode(id string)
	OnError(id string, err error)
}

// NopObserver ignores all callbacks.
type NopObserver struct{}

func (NopObserver) OnStart(string)        {}
func (NopObserver) OnNode(string)         {}
func (NopObserver) OnError(string, error) {}

// Result is the outcome of one graph execution.
type Result[S any] struct {
	State    S
	Path     []string
	Errors   []string
	Warnings []string
	Success  bool
}

// Engine executes a graph over a state value.
type Engine[S any] struct {
	graph    *Graph[S]
	logger   *slog.Logger
	observer Observer
	tracer   *observability.Tracer

	// maxVisits bounds total node executions as a cycle guard.
	maxVisits int
}

// NewEngine creates an engine for the graph.
func NewEngine[S any](g *Graph[S], logger *slog.Logger, observer Observer) *Engine[S] {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Engine[S]{graph: g, logger: logger, observer: observer, maxVisits: 100}
}

// WithTracer wraps each node execution in a graph.<node> span. Nil is a no-op.
func (e *Engine[S]) WithTracer(t *observability.Tracer) *Engine[S] {
	e.tracer = t
	return e
}

// Execute runs the graph from its entry point until End, a fatal failure
// without a handler, or the visit bound.
func (e *Engine[S]) Execute(ctx context.Context, initial S) *Result[S] {
	res := &Result[S]{State: initial}
	e.observer.OnStart(e.graph.entry)

	current := e.graph.entry
	inFailureHandler := false
	visits := 0

	for current != End {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("canceled at %s: %v", current, err))
			return res
		}
		visits++
		if visits > e.maxVisits {
			res.Errors = append(res.Errors, fmt.Sprintf("execution exceeded %d node visits", e.maxVisits))
			return res
		}

		node, ok := e.graph.nodes[current]
		if !ok {
			res.Errors = append(res.Errors, "unknown node: "+current)
			return res
		}
		res.Path = append(res.Path, current)
		e.observer.OnNode(current)

		if failed, fatal := e.runChecks(node.Pre, res, res.State, nil); failed && fatal {
			if next, ok := e.routeFailure(current, inFailureHandler, res); ok {
				current = next
				inFailureHandler = true
				continue
			}
			return res
		}

		runCtx := ctx
		var span oteltrace.Span
		if e.tracer != nil {
			runCtx, span = e.tracer.StartGraphNode(ctx, current)
		}
		output, err := node.Run(runCtx, res.State)
		if span != nil {
			if err != nil {
				e.tracer.RecordError(span, err)
			}
			span.End()
		}
		if err != nil {
			e.logger.Warn("graph node failed", "node", current, "error", err)
			e.observer.OnError(current, err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", current, err))
			if next, ok := e.routeFailure(current, inFailureHandler, res); ok {
				current = next
				inFailureHandler = true
				continue
			}
			return res
		}

		if failed, fatal := e.runChecks(node.Post, res, res.State, output); failed && fatal {
			if next, ok := e.routeFailure(current, inFailureHandler, res); ok {
				current = next
				inFailureHandler = true
				continue
			}
			return res
		}

		if node.Update != nil {
			res.State = node.Update(res.State, output)
		}

		next, ok := e.nextNode(current, res.State)
		if !ok {
			res.Errors = append(res.Errors, "no edge from node: "+current)
			return res
		}
		current = next
	}

	res.Success = len(res.Errors) == 0
	return res
}

// runChecks evaluates checks in order, recording failures. Returns whether
// any failed and whether any failure was fatal.
func (e *Engine[S]) runChecks(checks []Check[S], res *Result[S], s S, output any) (failed, fatal bool) {
	for _, check := range checks {
		cr := check.Fn(s, output)
		if cr.Passed {
			continue
		}
		failed = true
		msg := fmt.Sprintf("%s: %s", cr.Name, cr.Message)
		if cr.Fatal || check.Fatal {
			fatal = true
			res.Errors = append(res.Errors, msg)
		} else {
			res.Warnings = append(res.Warnings, msg)
		}
	}
	return failed, fatal
}

// routeFailure sends a fatal failure to the failure handler, unless the
// failure occurred inside the handler itself.
func (e *Engine[S]) routeFailure(node string, inHandler bool, res *Result[S]) (string, bool) {
	if e.graph.failureHandler == "" || inHandler || node == e.graph.failureHandler {
		return "", false
	}
	e.logger.Info("routing to failure handler", "from", node, "handler", e.graph.failureHandler)
	return e.graph.failureHandler, true
}

// nextNode resolves the outgoing edge: conditional edges take precedence over
// plain edges.
func (e *Engine[S]) nextNode(current string, s S) (string, bool) {
	if ce, ok := e.graph.conditional[current]; ok {
		key := ce.condition(s)
		if to, ok := ce.routes[key]; ok {
			return to, true
		}
		return "", false
	}
	if to, ok := e.graph.edges[current]; ok {
		return to, true
	}
	return "", false
}
