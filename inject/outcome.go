package inject

import (
	"errors"
	"time"

	"markestedt/voicekey/platform"
)

// Status is the result of one strategy or of a whole injection.
type Status string

const (
	Success     Status = "success"
	Unsupported Status = "unsupported"
	Failed      Status = "failed"
	Skipped     Status = "skipped"
)

// Skip reasons.
const (
	ReasonEmpty       = "empty"
	ReasonDisabled    = "auto-inject disabled"
	ReasonFiltered    = "target filtered"
	ReasonDuplicate   = "duplicate"
	ReasonCancelled   = "cancelled"
	ReasonExhausted   = "all strategies exhausted"
	ReasonPartialText = "partial delivery"
)

// ErrPartialDelivery marks a strategy that delivered part of the text before
// failing. Retrying or falling back would duplicate the delivered part.
var ErrPartialDelivery = errors.New("text partially delivered")

// Report records what one strategy did.
type Report struct {
	Strategy string `json:"strategy"`
	Status   Status `json:"status"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
}

// Outcome is the terminal result of an injection attempt. Text is always
// set so a failed or skipped delivery can be recovered by the user.
type Outcome struct {
	Status   Status             `json:"status"`
	Text     string             `json:"text"`
	Target   platform.AppHandle `json:"target"`
	Tried    []Report           `json:"tried"`
	Reason   string             `json:"reason,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// Statuses lists the per-strategy statuses in the order they were tried.
func (o Outcome) Statuses() []Status {
	out := make([]Status, len(o.Tried))
	for i, r := range o.Tried {
		out[i] = r.Status
	}
	return out
}

// Recoverable reports whether the text never reached the target.
func (o Outcome) Recoverable() bool {
	return o.Status == Failed || (o.Status == Skipped && o.Reason != ReasonDuplicate && o.Reason != ReasonEmpty)
}
