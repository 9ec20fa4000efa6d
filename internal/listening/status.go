package listening

// Status tracks where a listening session sits in its lifecycle.
type Status string

const (
	StatusRecording    Status = "recording"
	StatusTranscribing Status = "transcribing"
	StatusSynthesizing Status = "synthesizing"
	StatusReview       Status = "review"
	StatusComplete     Status = "complete"
	StatusFailed       Status = "failed"
)

var transitions = map[Status][]Status{
	StatusRecording:    {StatusTranscribing, StatusFailed},
	StatusTranscribing: {StatusSynthesizing, StatusComplete, StatusFailed},
	StatusSynthesizing: {StatusReview, StatusComplete, StatusFailed},
	StatusReview:       {StatusComplete, StatusFailed},
	StatusComplete:     {StatusComplete},
	StatusFailed:       {StatusFailed},
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusRecording,
		StatusTranscribing,
		StatusSynthesizing,
		StatusReview,
		StatusComplete,
		StatusFailed,
	}
}

// ActiveStatuses are the non-terminal statuses; at most one session per
// (user, book) may hold one of them.
func ActiveStatuses() []Status {
	return []Status{StatusRecording, StatusTranscribing, StatusSynthesizing, StatusReview}
}

// ProcessingStatuses are the statuses the recovery sweep watches.
func ProcessingStatuses() []Status {
	return []Status{StatusTranscribing, StatusSynthesizing}
}

// CanTransition reports whether the table allows moving from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// IsActive reports whether the status counts toward the one-active-session rule.
func (s Status) IsActive() bool {
	switch s {
	case StatusRecording, StatusTranscribing, StatusSynthesizing, StatusReview:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(raw string) (Status, bool) {
	status := Status(raw)
	return status, status.Valid()
}

func checkTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}
