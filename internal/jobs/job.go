package jobs

import "time"

// Variant selects the inference model flavour
type Variant string

const (
	VariantFast Variant = "fast"
	VariantSlow Variant = "slow"
)

// IsValid reports whether v is a supported variant
func (v Variant) IsValid() bool {
	return v == VariantFast || v == VariantSlow
}

// MinSide is the smallest max_side a job may be processed at
const MinSide = 64

// Params is the immutable, already validated configuration of a job
type Params struct {
	Style   string  `json:"style"`
	MaxSide int     `json:"max_side"`
	Variant Variant `json:"variant"`
}

// Input holds the source images. It is owned by the job and dropped once the job is terminal.
type Input struct {
	Content []byte
	Style   []byte
}

// Result is the stylized image. Data must be treated as read-only once stored.
type Result struct {
	Data        []byte
	ContentType string
}

// Job is the full lifecycle record of a job. Records held by the store are never mutated;
// every transition installs a new value.
type Job struct {
	ID          string
	Status      Status
	Params      Params
	Input       Input
	Result      *Result
	ErrorDetail string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// View is the read-only snapshot returned to pollers
type View struct {
	ID          string
	Status      Status
	Params      Params
	Result      *Result
	ErrorDetail string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// View returns the snapshot of j without its input images
func (j *Job) View() View {
	return View{
		ID:          j.ID,
		Status:      j.Status,
		Params:      j.Params,
		Result:      j.Result,
		ErrorDetail: j.ErrorDetail,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Duration returns how long the job spent processing (0 if it never started or has not completed)
func (v View) Duration() time.Duration {
	if v.StartedAt.IsZero() || v.CompletedAt.IsZero() {
		return 0
	}
	return v.CompletedAt.Sub(v.StartedAt)
}

// Update carries the terminal payload applied by a transition
type Update struct {
	Result      *Result
	ErrorDetail string
}

// Event describes a successful transition
type Event struct {
	JobID      string    `json:"job_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Listener receives transition events. Notify must not block.
type Listener interface {
	Notify(ev Event)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ev Event)

func (f ListenerFunc) Notify(ev Event) { f(ev) }

// NopListener drops all events
var NopListener Listener = ListenerFunc(func(Event) {})
