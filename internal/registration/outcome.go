package registration

// Status is the tag of an Outcome.
type Status int

const (
	StatusSuccess Status = iota
	// StatusRetryable means "not yet": the Waiter polls again until its
	// timeout. Outside a wait it is treated as fatal.
	StatusRetryable
	// StatusFatal aborts the run.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetryable:
		return "retryable"
	case StatusFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is the result of a wait condition probe or of a whole step.
type Outcome struct {
	Status Status
	Err    error
}

func Success() Outcome { return Outcome{Status: StatusSuccess} }

func Retryable(err error) Outcome { return Outcome{Status: StatusRetryable, Err: err} }

func Fatal(err error) Outcome { return Outcome{Status: StatusFatal, Err: err} }

// Failf builds a fatal outcome carrying a classified error.
func Failf(kind Kind, target, format string, args ...any) Outcome {
	return Fatal(newError(kind, target, format, args...))
}

// FromError maps err to Success when nil and Fatal otherwise.
func FromError(err error) Outcome {
	if err == nil {
		return Success()
	}
	return Fatal(err)
}

func (o Outcome) OK() bool { return o.Status == StatusSuccess }
