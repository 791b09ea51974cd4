package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/pkg/models"
)

// FinishReason is the turn's termination condition.
type FinishReason string

const (
	FinishStop     FinishReason = "stop"
	FinishTimeout  FinishReason = "timeout"
	FinishMaxSteps FinishReason = "max_steps"
)

// MessageStore persists assistant messages and session activity on finalize.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
}

// ToolCallStore persists tool-call audit records during and after a turn.
type ToolCallStore interface {
	CreateToolCall(ctx context.Context, rec *models.ToolCallRecord) error
	UpdateToolCall(ctx context.Context, rec *models.ToolCallRecord) error
	LinkToolCalls(ctx context.Context, sessionID, messageID string) error
}

// TurnRequest carries everything one turn needs.
type TurnRequest struct {
	SessionID string
	UserID    string

	// Messages is the seeded conversation; the loop copies it into a
	// working list it exclusively owns.
	Messages []models.Message

	// EnabledTools filters the registry. Nil enables every tool.
	EnabledTools map[string]bool

	// Sink receives the turn's event stream. Backpressure is honored.
	Sink EventSink

	// StartTime anchors the wall-clock budget. Zero means now.
	StartTime time.Time
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	Content            string
	FinishReason       FinishReason
	StepsTaken         int
	ReasoningSteps     []models.ReasoningStep
	TimelineSteps      []models.ComputerTimelineStep
	AssistantMessageID *string
}

// TurnLoop is the bounded controller alternating model generation and tool
// execution for one turn at a time per session.
type TurnLoop struct {
	model    ModelClient
	executor *Executor
	registry *Registry
	director *Director
	router   *TranscriptRouter
	qa       TranscriptQA
	messages MessageStore
	records  ToolCallStore
	config   *LoopConfig
	logger   *slog.Logger
}

// NewTurnLoop wires a turn loop. Model, executor, registry, and director are
// required; router, qa, and the stores are optional collaborators.
func NewTurnLoop(model ModelClient, executor *Executor, registry *Registry, director *Director, config *LoopConfig) *TurnLoop {
	if config == nil {
		config = DefaultLoopConfig()
	}
	config = config.sanitize()
	return &TurnLoop{
		model:    model,
		executor: executor,
		registry: registry,
		director: director,
		config:   config,
		logger:   config.Logger,
	}
}

// WithTranscriptRouter attaches the transcript follow-up router and QA
// collaborator.
func (l *TurnLoop) WithTranscriptRouter(router *TranscriptRouter, qa TranscriptQA) *TurnLoop {
	l.router = router
	l.qa = qa
	return l
}

// WithStores attaches the persistence collaborators.
func (l *TurnLoop) WithStores(messages MessageStore, records ToolCallStore) *TurnLoop {
	l.messages = messages
	l.records = records
	return l
}

const (
	timeoutContent      = "This request ran out of its time budget before completing. Please try again, ideally with a narrower request."
	timeoutVideoContent = "Processing this video ran out of its time budget. Please retry, ideally with a shorter video or a more specific question."
	stepLimitContent    = "I reached the maximum number of tool steps for this request. Here is what I gathered so far; please ask a follow-up to continue."
	transcriptRetryMsg  = "I was unable to extract the video transcript, which this request requires. Please retry."
	offTopicVideoMsg    = "I will answer strictly from the video transcript content rather than unrelated material."
)

var thinkingMarkerPattern = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)

// sanitizeContent strips hidden chain-of-thought markers from drafted text.
func sanitizeContent(s string) string {
	s = thinkingMarkerPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "<thinking>", "")
	s = strings.ReplaceAll(s, "</thinking>", "")
	return strings.TrimSpace(s)
}

var codeSignals = []string{"```", "func ", "def ", "class ", "#include", "import ", "console.log"}
var videoSignals = []string{"video", "transcript", "视频", "字幕"}

// looksOffTopicForVideo flags drafts full of code-language signals with no
// video signals at all.
func looksOffTopicForVideo(content string) bool {
	lower := strings.ToLower(content)
	hits := 0
	for _, sig := range codeSignals {
		if strings.Contains(lower, sig) {
			hits++
		}
	}
	if hits < 2 {
		return false
	}
	for _, sig := range videoSignals {
		if strings.Contains(lower, sig) {
			return false
		}
	}
	return true
}

// pendingCall accumulates one tool-call request across stream chunks.
type pendingCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// ProcessTurn drives one turn to completion: model stream, tool fan-out,
// budgets, and finalization. It never returns a partial result alongside an
// error; a non-nil error means the stream was aborted with a single error
// event.
func (l *TurnLoop) ProcessTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if l.model == nil {
		return nil, &LoopError{Phase: PhaseInit, Cause: ErrNoModel}
	}

	startTime := req.StartTime
	if startTime.IsZero() {
		startTime = time.Now()
	}

	var turnSpan oteltrace.Span
	if l.config.Tracer != nil {
		ctx, turnSpan = l.config.Tracer.StartTurn(ctx, req.SessionID)
		defer turnSpan.End()
	}
	failTurn := func(err error) {
		if turnSpan != nil {
			l.config.Tracer.RecordError(turnSpan, err)
		}
	}

	working := make([]models.Message, len(req.Messages))
	copy(working, req.Messages)

	var task *TaskState
	videoHeavy := false
	if l.director != nil {
		if t, ok := l.director.Task(req.SessionID); ok {
			task = t
			videoHeavy = t.Goal.VideoHeavy()
		}
	}

	timeline := NewTimelineSink(req.Sink)
	emitter := NewEmitter(req.SessionID, timeline)
	traceID := uuid.NewString()
	startedSteps := map[string]bool{}
	machine := NewReasoningMachine(traceID, func(step models.ReasoningStep) {
		if l.config.Metrics != nil {
			lifecycle := models.LifecycleUpdated
			switch {
			case step.Status == models.StepCompleted:
				lifecycle = models.LifecycleFinished
			case !startedSteps[step.StepID]:
				lifecycle = models.LifecycleStarted
			}
			startedSteps[step.StepID] = true
			l.config.Metrics.RecordReasoningStep(string(lifecycle))
		}
		emitter.ReasoningStep(ctx, step)
	})
	trace := NewTrace(traceID, machine)
	gate := NewGate(l.registry, l.config.SearchQuota)

	emitter.MessageStart(ctx)
	emitter.ThinkingStart(ctx)
	current := trace.StartStep("Planning", nil)

	// Per-turn duplicate suppression for URL-keyed video tools.
	seenURLs := map[string]map[string]bool{
		"video_probe":      {},
		"video_transcript": {},
	}

	transcriptNudges := 0
	steps := 0

	finish := func(content string, reason FinishReason) (*TurnResult, error) {
		machine.FinalizeTrace(time.Now())
		if content != "" {
			emitter.MessageDelta(ctx, content)
		}
		res := &TurnResult{
			Content:        content,
			FinishReason:   reason,
			StepsTaken:     steps,
			ReasoningSteps: machine.Steps(),
			TimelineSteps:  timeline.Steps(),
		}
		l.finalize(ctx, req, res, emitter)
		return res, nil
	}

	for {
		if ctx.Err() != nil {
			// Abrupt stop: nothing persisted, no message.complete.
			failTurn(ctx.Err())
			return nil, &LoopError{Phase: PhaseModel, Step: steps, Cause: ctx.Err()}
		}

		// Budget check at the top of each step.
		budget := l.budget(videoHeavy, probeDuration(working, l.config.MaxHistoryMessages))
		if time.Since(startTime) > budget {
			current.Finish(models.StepFailed, "Execution time budget exceeded")
			content := timeoutContent
			if videoHeavy {
				content = timeoutVideoContent
			}
			return finish(content, FinishTimeout)
		}

		// Transcript short-circuit: answer follow-ups directly from stored
		// transcript context without re-entering the tool loop.
		if l.qa != nil && HasTranscriptContext(working) {
			userText := lastUserText(working)
			followUp := task != nil && task.Goal.RequiresTranscript
			if !followUp && l.router != nil {
				followUp = l.router.IsFollowUp(ctx, userText)
			}
			if followUp {
				if answer, err := l.qa.Answer(ctx, userText, LatestTranscriptText(working)); err == nil && answer != "" {
					current.Finish(models.StepSucceeded, "Answered from transcript context")
					return finish(answer, FinishStop)
				}
			}
		}

		system := ""
		if l.director != nil {
			system = l.director.PromptContext(req.SessionID)
		}
		modelCtx := ctx
		var modelSpan oteltrace.Span
		if l.config.Tracer != nil {
			modelCtx, modelSpan = l.config.Tracer.Start(ctx, "model.generate")
		}
		modelStart := time.Now()
		chunks, err := l.model.Stream(modelCtx, &ModelRequest{
			Model:     l.config.Model,
			System:    system,
			Messages:  working,
			Tools:     l.registry.Functions(req.EnabledTools),
			MaxTokens: l.config.MaxTokens,
		})
		if err != nil {
			l.recordModelRequest("error", modelStart)
			if modelSpan != nil {
				l.config.Tracer.RecordError(modelSpan, err)
				modelSpan.End()
			}
			failTurn(err)
			current.Finish(models.StepFailed, "Model call failed")
			machine.FinalizeTrace(time.Now())
			emitter.Error(ctx, "model call failed")
			return nil, &LoopError{Phase: PhaseModel, Step: steps, Cause: err}
		}

		var stepContent strings.Builder
		calls := map[int]*pendingCall{}
		contentStarted := false

		for chunk := range chunks {
			if chunk.Error != nil {
				l.recordModelRequest("error", modelStart)
				if modelSpan != nil {
					l.config.Tracer.RecordError(modelSpan, chunk.Error)
					modelSpan.End()
				}
				failTurn(chunk.Error)
				current.Finish(models.StepFailed, "Model stream failed")
				machine.FinalizeTrace(time.Now())
				emitter.Error(ctx, "model stream failed")
				return nil, &LoopError{Phase: PhaseModel, Step: steps, Cause: chunk.Error}
			}
			if chunk.Text != "" {
				if !contentStarted {
					contentStarted = true
					current.Finish(models.StepSucceeded, "")
					current = trace.StartStep("Generating response", nil)
				}
				stepContent.WriteString(chunk.Text)
			}
			if tc := chunk.ToolCall; tc != nil {
				pc, ok := calls[tc.Index]
				if !ok {
					pc = &pendingCall{index: tc.Index}
					calls[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Name != "" {
					pc.name = tc.Name
				}
				pc.args.WriteString(tc.Arguments)
			}
		}

		l.recordModelRequest("success", modelStart)
		if modelSpan != nil {
			modelSpan.End()
		}

		draft := sanitizeContent(stepContent.String())

		if len(calls) == 0 {
			// Post-hoc guards before accepting the final answer.
			if task != nil && task.Goal.RequiresTranscript && !HasTranscriptContext(working) {
				if transcriptNudges < 2 {
					transcriptNudges++
					working = append(working, models.Message{
						ID:        uuid.NewString(),
						SessionID: req.SessionID,
						Role:      models.RoleSystem,
						Content:   "The user's request requires the video transcript. Use the video_probe and video_transcript tools to extract it before answering.",
						CreatedAt: time.Now(),
					})
					current.Finish(models.StepSucceeded, "")
					current = trace.StartStep("Planning", nil)
					continue
				}
				draft = transcriptRetryMsg
			}
			if videoHeavy && looksOffTopicForVideo(draft) {
				draft = offTopicVideoMsg
			}
			current.Finish(models.StepSucceeded, "")
			return finish(draft, FinishStop)
		}

		// Tool calls returned: fix a deterministic order by stream index.
		ordered := make([]*pendingCall, 0, len(calls))
		for _, pc := range calls {
			ordered = append(ordered, pc)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

		if draft != "" {
			// Content drafted before the model pivoted to tools: keep it as
			// captured reasoning, not user-visible output.
			current.Finish(models.StepSucceeded, "")
			trace.CompletedStep("Reasoning", models.StepSucceeded, "", draft)
		} else {
			current.Finish(models.StepSucceeded, "")
		}

		assistant := models.Message{
			ID:        uuid.NewString(),
			SessionID: req.SessionID,
			Role:      models.RoleAssistant,
			Content:   draft,
			CreatedAt: time.Now(),
		}
		for _, pc := range ordered {
			if pc.id == "" {
				pc.id = uuid.NewString()
			}
			assistant.ToolCalls = append(assistant.ToolCalls, models.ToolCall{
				ID:        pc.id,
				Name:      pc.name,
				Arguments: json.RawMessage(pc.args.String()),
			})
		}
		working = append(working, assistant)

		executed := 0
		for _, pc := range ordered {
			params := map[string]any{}
			if raw := pc.args.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &params); err != nil {
					l.logger.Warn("tool arguments failed to parse", "tool", pc.name, "error", err)
					params = map[string]any{}
				}
			}

			if denied, reason := l.admit(task, pc.name, params, seenURLs); denied {
				label := "duplicate"
				if pc.name == "video_download" {
					label = "not_required"
				}
				l.recordDenial(pc.name, label)
				trace.CompletedStep("Executing "+pc.name, models.StepCanceled, reason, "")
				working = append(working, toolMessage(req.SessionID, pc, deniedPayload(reason)))
				continue
			}
			// The director decides before the gate: a policy denial must not
			// consume the per-turn search slot.
			if l.director != nil {
				if allowed, reason := l.director.Decision(req.SessionID, pc.name, params); !allowed {
					label := "policy"
					if reason == DenySearchQuota {
						label = "search_quota"
					}
					l.recordDenial(pc.name, label)
					trace.CompletedStep("Executing "+pc.name, models.StepCanceled, reason, "")
					working = append(working, toolMessage(req.SessionID, pc, deniedPayload(reason)))
					continue
				}
			}
			if allowed, reason := gate.Admit(pc.name); !allowed {
				l.recordDenial(pc.name, "search_quota")
				trace.CompletedStep("Executing "+pc.name, models.StepCanceled, reason, "")
				working = append(working, toolMessage(req.SessionID, pc, deniedPayload(reason)))
				continue
			}

			l.prepareVideoParams(task, pc.name, params, working)

			record := &models.ToolCallRecord{
				ID:        uuid.NewString(),
				SessionID: req.SessionID,
				ToolName:  pc.name,
				Input:     params,
				Status:    models.RecordPending,
				CreatedAt: time.Now(),
			}
			if l.records != nil {
				if err := l.records.CreateToolCall(ctx, record); err != nil {
					l.logger.Warn("tool call record create failed", "tool", pc.name, "error", err)
				}
			}

			emitter.ToolStart(ctx, pc.id, pc.name, params)
			step := trace.StartStep("Executing "+pc.name, &models.StepDetails{ToolName: pc.name})

			callID, callName := pc.id, pc.name
			exec := l.executor.Execute(ctx, pc.name, params, func(payload map[string]any) {
				l.emitProgress(ctx, emitter, callID, callName, payload)
			})
			executed++

			if l.director != nil {
				l.director.RecordToolCall(req.SessionID, pc.name, params, exec)
			}
			record.Result = &models.ToolRecordResult{
				Success:   exec.Success,
				Output:    exec.Output,
				Error:     exec.Error,
				Duration:  exec.Duration,
				Artifacts: exec.Artifacts,
			}
			if exec.Success {
				record.Status = models.RecordCompleted
			} else {
				record.Status = models.RecordFailed
			}
			if l.records != nil {
				if err := l.records.UpdateToolCall(ctx, record); err != nil {
					l.logger.Warn("tool call record update failed", "tool", pc.name, "error", err)
				}
			}

			for _, a := range exec.Artifacts {
				if a.FileID != "" {
					emitter.FileCreated(ctx, a)
				}
			}
			working = append(working, toolMessage(req.SessionID, pc, ResultPayload(exec)))

			if exec.Success {
				step.Finish(models.StepSucceeded, "")
				emitter.ToolComplete(ctx, pc.id, pc.name, exec.Output, exec.Duration.Milliseconds())
			} else {
				step.Finish(models.StepFailed, exec.Error)
				emitter.ToolError(ctx, pc.id, pc.name, exec.Error)
			}
		}

		steps++
		if steps >= l.config.MaxToolSteps {
			emitter.StepLimit(ctx, steps)
			return finish(stepLimitContent, FinishMaxSteps)
		}

		current = trace.StartStep("Thinking", nil)
		current.Update(fmt.Sprintf("Reviewing %d tool results", executed))
	}
}

// admit applies tool-specific admission before the gate and director: skip
// video downloads the goal never asked for, and suppress duplicate URL-keyed
// video calls within the turn.
func (l *TurnLoop) admit(task *TaskState, name string, params map[string]any, seenURLs map[string]map[string]bool) (denied bool, reason string) {
	switch name {
	case "video_download":
		if task == nil || !task.Goal.RequiresVideoDownload {
			return true, "Video download is not required for this task."
		}
	case "video_probe", "video_transcript":
		rawURL, _ := params["url"].(string)
		if rawURL == "" {
			return false, ""
		}
		key := NormalizeURL(rawURL)
		if seenURLs[name][key] {
			if name == "video_transcript" {
				return true, "Skipped duplicate transcript extraction for the same URL."
			}
			return true, "Skipped duplicate video probe for the same URL."
		}
		seenURLs[name][key] = true
	}
	return false, ""
}

// prepareVideoParams forces includeTimestamps for required transcripts and
// backfills durationSeconds from the most recent probe output.
func (l *TurnLoop) prepareVideoParams(task *TaskState, name string, params map[string]any, working []models.Message) {
	if name != "video_transcript" {
		return
	}
	if task != nil && task.Goal.RequiresTranscript {
		params["includeTimestamps"] = true
	}
	if _, ok := params["durationSeconds"]; !ok {
		if d := probeDuration(working, l.config.MaxHistoryMessages); d > 0 {
			params["durationSeconds"] = d
		}
	}
}

// emitProgress re-emits tool progress, decoding video-snapshot payloads into
// browser action/screenshot events for the timeline.
func (l *TurnLoop) emitProgress(ctx context.Context, emitter *Emitter, callID, name string, payload map[string]any) {
	if action, ok := payload["action"].(string); ok {
		url, _ := payload["url"].(string)
		title, _ := payload["title"].(string)
		emitter.BrowserAction(ctx, action, url, title)
	}
	if shot, ok := payload["screenshot"].(string); ok && shot != "" {
		url, _ := payload["url"].(string)
		emitter.BrowserScreenshot(ctx, url, shot)
	}
	emitter.ToolProgress(ctx, callID, name, payload)
}

func (l *TurnLoop) recordModelRequest(status string, started time.Time) {
	if l.config.Metrics == nil {
		return
	}
	modelName := l.config.Model
	if modelName == "" {
		modelName = l.model.Name()
	}
	l.config.Metrics.RecordModelRequest(l.model.Name(), modelName, status, time.Since(started).Seconds())
}

func (l *TurnLoop) recordDenial(toolName, reason string) {
	if l.config.Metrics != nil {
		l.config.Metrics.RecordDenial(toolName, reason)
	}
}

// budget computes the dynamic wall-clock bound for the turn.
func (l *TurnLoop) budget(videoHeavy bool, durationSeconds int) time.Duration {
	if !videoHeavy {
		return l.config.MaxExecutionTime
	}
	t := l.config.MaxVideoExecutionTime
	if durationSeconds > 0 {
		scaled := time.Duration(2*durationSeconds+480) * time.Second
		if scaled > t {
			t = scaled
		}
	}
	return t
}

// finalize persists the assistant message and links pending tool-call
// records. A foreign-key violation means the session was deleted mid-turn;
// it is swallowed and message.complete carries a null id.
func (l *TurnLoop) finalize(ctx context.Context, req *TurnRequest, res *TurnResult, emitter *Emitter) {
	meta := map[string]any{
		"finishReason": string(res.FinishReason),
		"model":        l.config.Model,
		"stepsTaken":   res.StepsTaken,
	}
	if l.model != nil && l.config.Model == "" {
		meta["model"] = l.model.Name()
	}
	if len(res.ReasoningSteps) > 0 {
		meta["reasoningSteps"] = res.ReasoningSteps
	}
	if len(res.TimelineSteps) > 0 {
		meta["computerTimelineSteps"] = res.TimelineSteps
	}

	if l.messages == nil {
		emitter.MessageComplete(ctx, nil, map[string]any{"finishReason": string(res.FinishReason)})
		return
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Role:      models.RoleAssistant,
		Content:   res.Content,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
	if err := l.messages.CreateMessage(ctx, msg); err != nil {
		if sessions.IsForeignKeyViolation(err) {
			l.logger.Warn("session deleted mid-turn; skipping assistant message persistence", "session_id", req.SessionID)
			emitter.MessageComplete(ctx, nil, map[string]any{"finishReason": string(res.FinishReason)})
			return
		}
		l.logger.Error("assistant message persistence failed", "session_id", req.SessionID, "error", err)
		emitter.MessageComplete(ctx, nil, map[string]any{"finishReason": string(res.FinishReason)})
		return
	}

	res.AssistantMessageID = &msg.ID
	if l.records != nil {
		if err := l.records.LinkToolCalls(ctx, req.SessionID, msg.ID); err != nil && !sessions.IsForeignKeyViolation(err) {
			l.logger.Warn("tool call linking failed", "session_id", req.SessionID, "error", err)
		}
	}
	if err := l.messages.TouchSession(ctx, req.SessionID, time.Now()); err != nil {
		l.logger.Warn("session touch failed", "session_id", req.SessionID, "error", err)
	}
	emitter.MessageComplete(ctx, &msg.ID, map[string]any{"finishReason": string(res.FinishReason)})
}

func toolMessage(sessionID string, pc *pendingCall, payload string) models.Message {
	return models.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       models.RoleTool,
		Content:    payload,
		ToolCallID: pc.id,
		Metadata:   map[string]any{"toolName": pc.name},
		CreatedAt:  time.Now(),
	}
}

func deniedPayload(reason string) string {
	data, err := json.Marshal(map[string]any{"success": false, "output": "", "error": reason})
	if err != nil {
		return `{"success":false,"output":"","error":"denied"}`
	}
	return string(data)
}

func lastUserText(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// probeDuration scans the tail of the working list for the most recent
// video_probe output and extracts its duration in seconds.
func probeDuration(messages []models.Message, window int) int {
	start := 0
	if len(messages) > window {
		start = len(messages) - window
	}
	for i := len(messages) - 1; i >= start; i-- {
		m := messages[i]
		if m.Role != models.RoleTool {
			continue
		}
		if name, _ := m.Metadata["toolName"].(string); name != "video_probe" {
			continue
		}
		var payload struct {
			Output string `json:"output"`
		}
		out := m.Content
		if err := json.Unmarshal([]byte(m.Content), &payload); err == nil && payload.Output != "" {
			out = payload.Output
		}
		var probe struct {
			DurationSeconds int     `json:"durationSeconds"`
			Duration        float64 `json:"duration"`
		}
		if err := json.Unmarshal([]byte(out), &probe); err != nil {
			continue
		}
		if probe.DurationSeconds > 0 {
			return probe.DurationSeconds
		}
		if probe.Duration > 0 {
			return int(probe.Duration)
		}
	}
	return 0
}
