package models

import "time"

// TimelineStepKind classifies a computer timeline step.
type TimelineStepKind string

const (
	TimelineSearch   TimelineStepKind = "search"
	TimelineBrowse   TimelineStepKind = "browse"
	TimelineFinalize TimelineStepKind = "finalize"
)

// ComputerTimelineStep is a derived record capturing one browser-like step
// (search, browse, finalize) observed on the outgoing event stream. The
// ordered list is persisted on the assistant message metadata for replay.
type ComputerTimelineStep struct {
	Index      int              `json:"index"`
	Kind       TimelineStepKind `json:"kind"`
	Title      string           `json:"title,omitempty"`
	URL        string           `json:"url,omitempty"`
	Query      string           `json:"query,omitempty"`
	Screenshot string           `json:"screenshot,omitempty"`
	StartedAt  time.Time        `json:"started_at,omitempty"`
}
