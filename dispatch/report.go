package dispatch

import (
	"github.com/google/uuid"

	"forumlinkbot/pkg/forumlink"
)

// Kind names the event that produced a dispatch.
type Kind string

const (
	KindNewThread Kind = "new_thread"
	KindReply     Kind = "reply"
)

// SkipReason explains why an event produced no deliveries.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipNoTargets   SkipReason = "no_targets"
	SkipNotFollowed SkipReason = "not_followed"
	SkipSuppressed  SkipReason = "suppressed"
)

// Outcome is the delivery result for one target. Err is nil on success.
type Outcome struct {
	Target forumlink.ID
	Err    error
}

// Report summarizes one dispatch. Outcomes are in target order.
type Report struct {
	ID       uuid.UUID
	Kind     Kind
	Guild    forumlink.ID
	Skip     SkipReason
	Outcomes []Outcome
}

func newReport(kind Kind, guild forumlink.ID) Report {
	return Report{ID: uuid.New(), Kind: kind, Guild: guild}
}

// Skipped reports whether the event was dropped before delivery.
func (r Report) Skipped() bool {
	return r.Skip != SkipNone
}

// Delivered counts successful deliveries.
func (r Report) Delivered() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts failed deliveries.
func (r Report) Failed() int {
	return len(r.Outcomes) - r.Delivered()
}

// Partial reports whether some but not all targets were reached.
func (r Report) Partial() bool {
	d := r.Delivered()
	return d > 0 && d < len(r.Outcomes)
}
