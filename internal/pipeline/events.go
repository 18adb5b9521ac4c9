package pipeline

// Event is a one-directional signal from the pipeline worker to its
// caller. Events are observational: the pipeline never waits on the
// caller, and correctness does not depend on events being consumed.
type Event interface {
	isEvent()
}

// Progress reports fragments done out of the grand total with a human
// message. Done is monotonically non-decreasing; batches degraded by a
// service failure still count as done for position tracking.
type Progress struct {
	Done    int
	Total   int
	Message string
}

// Completed is the terminal success signal carrying the output path.
type Completed struct {
	OutputPath string
}

// Failed is the terminal signal for a run-aborting error.
type Failed struct {
	Message string
}

// Cancelled is the terminal signal for a cooperative cancellation. It is
// not an error: the checkpoint is left intact and a later run resumes at
// the last checkpointed position.
type Cancelled struct{}

func (Progress) isEvent()  {}
func (Completed) isEvent() {}
func (Failed) isEvent()    {}
func (Cancelled) isEvent() {}
