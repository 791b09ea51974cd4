package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/pkg/models"
)

// ReasoningMachine serializes reasoning events into a strictly-ordered
// trace. Observers see at most one step in running state at any instant and
// step indices in strictly increasing order of first STARTED.
//
// Events may arrive duplicated, reordered, or for steps that already
// finished; the machine drops duplicates, buffers events for non-active
// steps, and logs late events without mutating terminal steps.
type ReasoningMachine struct {
	mu sync.Mutex

	traceID string
	emit    func(models.ReasoningStep)
	now     func() time.Time

	seen     map[string]struct{}
	steps    map[string]*stepState
	active   string
	pending  map[string][]models.ReasoningEvent
	lastEmit time.Time
	late     []models.ReasoningEvent

	order       []string // step ids in emission order of first STARTED
	startedHigh int      // highest step index that has started; -1 before any
}

type stepState struct {
	step       models.ReasoningStep
	highestSeq int
	terminal   bool
}

// NewReasoningMachine creates a machine for one trace. The emit callback
// receives a snapshot of the affected step after every accepted event; it is
// invoked while holding the machine's lock, in emission order.
func NewReasoningMachine(traceID string, emit func(models.ReasoningStep)) *ReasoningMachine {
	if emit == nil {
		emit = func(models.ReasoningStep) {}
	}
	return &ReasoningMachine{
		traceID:     traceID,
		emit:        emit,
		now:         time.Now,
		seen:        make(map[string]struct{}),
		steps:       make(map[string]*stepState),
		pending:     make(map[string][]models.ReasoningEvent),
		startedHigh: -1,
	}
}

// Accept processes one reasoning event. Safe for concurrent use.
func (m *ReasoningMachine) Accept(ev models.ReasoningEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accept(ev)
}

func (m *ReasoningMachine) accept(ev models.ReasoningEvent) {
	// Rule 1: dedupe on event id.
	if _, dup := m.seen[ev.EventID]; dup {
		return
	}
	m.seen[ev.EventID] = struct{}{}

	// Rule 2: a FINISHED step is terminal; record and ignore.
	if st, ok := m.steps[ev.StepID]; ok && st.terminal {
		m.late = append(m.late, ev)
		return
	}

	// Rule 3: stale sequence after reorder.
	if st, ok := m.steps[ev.StepID]; ok && ev.EventSeq <= st.highestSeq {
		return
	}

	// Rule 4: another step is active; buffer for later replay.
	if m.active != "" && m.active != ev.StepID {
		m.pending[ev.StepID] = append(m.pending[ev.StepID], ev)
		return
	}

	// Rule 5: step indices start in increasing order. Indices are zero-based;
	// an event for a step beyond the next expected index waits for its
	// predecessors (FinalizeTrace drains stragglers regardless).
	if st, started := m.steps[ev.StepID]; (!started || st.step.StartedAt.IsZero()) && ev.StepIndex > m.startedHigh+1 {
		m.pending[ev.StepID] = append(m.pending[ev.StepID], ev)
		return
	}

	m.apply(ev)
}

// apply emits the event's effect. Caller holds the lock and has established
// that the event is current and the step is either active or startable.
func (m *ReasoningMachine) apply(ev models.ReasoningEvent) {
	st, ok := m.steps[ev.StepID]
	if !ok {
		st = &stepState{
			step: models.ReasoningStep{
				StepID:    ev.StepID,
				StepIndex: ev.StepIndex,
				TraceID:   m.traceID,
			},
		}
		m.steps[ev.StepID] = st
	}
	st.highestSeq = ev.EventSeq

	ts := m.emitTime()

	switch ev.Lifecycle {
	case models.LifecycleStarted:
		m.active = ev.StepID
		st.step.Status = models.StepRunning
		st.step.StartedAt = ts
		if ev.Label != "" {
			st.step.Label = ev.Label
		}
		if ev.Message != "" {
			st.step.Message = ev.Message
		}
		if ev.Details != nil {
			st.step.Details = ev.Details
		}
		if ev.Thinking != "" {
			st.step.ThinkingContent = ev.Thinking
		}
		m.markStarted(ev.StepID, ev.StepIndex)
		m.emit(st.step)

	case models.LifecycleUpdated:
		if st.step.StartedAt.IsZero() {
			// UPDATED before STARTED: treat as an implicit start.
			m.active = ev.StepID
			st.step.Status = models.StepRunning
			st.step.StartedAt = ts
			m.markStarted(ev.StepID, ev.StepIndex)
		}
		if ev.Label != "" {
			st.step.Label = ev.Label
		}
		if ev.Message != "" {
			st.step.Message = ev.Message
		}
		if ev.Details != nil {
			st.step.Details = ev.Details
		}
		if ev.Thinking != "" {
			st.step.ThinkingContent = ev.Thinking
		}
		m.emit(st.step)

	case models.LifecycleFinished:
		if st.step.StartedAt.IsZero() {
			st.step.StartedAt = ts
			m.markStarted(ev.StepID, ev.StepIndex)
		}
		st.terminal = true
		st.step.Status = models.StepCompleted
		st.step.FinalStatus = ev.FinalStatus
		if st.step.FinalStatus == "" {
			st.step.FinalStatus = models.StepSucceeded
		}
		st.step.CompletedAt = ts
		st.step.DurationMs = ts.Sub(st.step.StartedAt).Milliseconds()
		if ev.Message != "" {
			st.step.Message = ev.Message
		}
		if ev.Thinking != "" {
			st.step.ThinkingContent = ev.Thinking
		}
		if m.active == ev.StepID {
			m.active = ""
		}
		m.emit(st.step)
		m.drainPending()
	}
}

func (m *ReasoningMachine) markStarted(stepID string, index int) {
	m.order = append(m.order, stepID)
	if index > m.startedHigh {
		m.startedHigh = index
	}
}

// emitTime returns a timestamp strictly after the previous emission so the
// emitted trace has a monotone clock even within one wall-clock tick.
func (m *ReasoningMachine) emitTime() time.Time {
	ts := m.now()
	if !ts.After(m.lastEmit) {
		ts = m.lastEmit.Add(time.Millisecond)
	}
	m.lastEmit = ts
	return ts
}

// drainPending replays buffered events for the pending step with the lowest
// stepIndex, in sequence order, repeating while no step remains active.
func (m *ReasoningMachine) drainPending() {
	for m.active == "" {
		var nextID string
		nextIndex := -1
		for id, evs := range m.pending {
			if len(evs) == 0 {
				continue
			}
			idx := evs[0].StepIndex
			if nextIndex == -1 || idx < nextIndex {
				nextIndex = idx
				nextID = id
			}
		}
		if nextID == "" {
			return
		}

		evs := m.pending[nextID]
		delete(m.pending, nextID)
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].EventSeq < evs[j].EventSeq })
		for _, ev := range evs {
			// Re-apply through the rule chain; the step may have become
			// active meanwhile, re-buffering the remainder.
			st, ok := m.steps[ev.StepID]
			if ok && st.terminal {
				m.late = append(m.late, ev)
				continue
			}
			if ok && ev.EventSeq <= st.highestSeq {
				continue
			}
			if m.active != "" && m.active != ev.StepID {
				m.pending[ev.StepID] = append(m.pending[ev.StepID], ev)
				continue
			}
			m.apply(ev)
		}
	}
}

// FinalizeTrace forces any lingering running step to completed/SUCCEEDED and
// drains pending, guaranteeing the trace terminates on turn end.
func (m *ReasoningMachine) FinalizeTrace(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.After(m.lastEmit) {
		m.lastEmit = now.Add(-time.Millisecond)
	}
	for m.active != "" {
		st := m.steps[m.active]
		if st == nil {
			m.active = ""
			break
		}
		ts := m.emitTime()
		st.terminal = true
		st.step.Status = models.StepCompleted
		st.step.FinalStatus = models.StepSucceeded
		st.step.CompletedAt = ts
		st.step.DurationMs = ts.Sub(st.step.StartedAt).Milliseconds()
		m.active = ""
		m.emit(st.step)
		m.drainPending()
	}

	// Anything still buffered belongs to steps that never got their turn;
	// replay them now so the trace is complete.
	m.drainPending()
}

// Steps returns completed-and-running steps in emission order of first
// STARTED.
func (m *ReasoningMachine) Steps() []models.ReasoningStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ReasoningStep, 0, len(m.order))
	for _, id := range m.order {
		if st, ok := m.steps[id]; ok {
			out = append(out, st.step)
		}
	}
	return out
}

// LateEvents returns events accepted after their step finished. They are
// recorded for diagnostics and never mutate the trace.
func (m *ReasoningMachine) LateEvents() []models.ReasoningEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ReasoningEvent, len(m.late))
	copy(out, m.late)
	return out
}

// Trace is the loop-facing helper that synthesizes well-formed reasoning
// events for the machine: fresh step ids, monotone step indices, and
// per-step sequence numbers.
type Trace struct {
	mu        sync.Mutex
	machine   *ReasoningMachine
	traceID   string
	nextIndex int
}

// NewTrace creates a trace helper over a machine.
func NewTrace(traceID string, machine *ReasoningMachine) *Trace {
	return &Trace{machine: machine, traceID: traceID}
}

// StepHandle drives one reasoning step through its lifecycle.
type StepHandle struct {
	trace   *Trace
	stepID  string
	index   int
	label   string
	nextSeq int
}

// StartStep begins a new running step with the given label.
func (t *Trace) StartStep(label string, details *models.StepDetails) *StepHandle {
	t.mu.Lock()
	index := t.nextIndex
	t.nextIndex++
	t.mu.Unlock()

	h := &StepHandle{
		trace:   t,
		stepID:  uuid.NewString(),
		index:   index,
		label:   label,
		nextSeq: 1,
	}
	t.machine.Accept(models.ReasoningEvent{
		EventID:   uuid.NewString(),
		TraceID:   t.traceID,
		StepID:    h.stepID,
		StepIndex: index,
		EventSeq:  h.seq(),
		Lifecycle: models.LifecycleStarted,
		Timestamp: time.Now(),
		Label:     label,
		Details:   details,
	})
	return h
}

// CompletedStep emits a step that starts and finishes immediately, e.g. a
// canceled tool admission or a captured reasoning draft.
func (t *Trace) CompletedStep(label string, final models.StepFinalStatus, message, thinking string) {
	h := t.StartStep(label, nil)
	t.machine.Accept(models.ReasoningEvent{
		EventID:     uuid.NewString(),
		TraceID:     t.traceID,
		StepID:      h.stepID,
		StepIndex:   h.index,
		EventSeq:    h.seq(),
		Lifecycle:   models.LifecycleFinished,
		Timestamp:   time.Now(),
		Label:       label,
		Message:     message,
		FinalStatus: final,
		Thinking:    thinking,
	})
}

func (h *StepHandle) seq() int {
	s := h.nextSeq
	h.nextSeq++
	return s
}

// Update emits an UPDATED event for the running step.
func (h *StepHandle) Update(message string) {
	h.trace.machine.Accept(models.ReasoningEvent{
		EventID:   uuid.NewString(),
		TraceID:   h.trace.traceID,
		StepID:    h.stepID,
		StepIndex: h.index,
		EventSeq:  h.seq(),
		Lifecycle: models.LifecycleUpdated,
		Timestamp: time.Now(),
		Label:     h.label,
		Message:   message,
	})
}

// Finish completes the step with the given final status.
func (h *StepHandle) Finish(final models.StepFinalStatus, message string) {
	h.trace.machine.Accept(models.ReasoningEvent{
		EventID:     uuid.NewString(),
		TraceID:     h.trace.traceID,
		StepID:      h.stepID,
		StepIndex:   h.index,
		EventSeq:    h.seq(),
		Lifecycle:   models.LifecycleFinished,
		Timestamp:   time.Now(),
		Label:       h.label,
		Message:     message,
		FinalStatus: final,
	})
}
