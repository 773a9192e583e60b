package jobs

// Status is the lifecycle state of a job
type Status string

// Job status constants
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// allowedTransitions encodes the job state machine. Terminal states have no outgoing edges.
var allowedTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusDone, StatusError, StatusCancelled},
}

// IsTerminal reports whether no further transitions are permitted from s
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// IsValid reports whether s is one of the known statuses
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusDone, StatusError, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows s -> to
func (s Status) CanTransition(to Status) bool {
	for _, next := range allowedTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
