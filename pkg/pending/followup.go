package pending

// Threads requests the current thread list once its parent response
// arrives: the first stage of the stopped-event follow-up chain.
type Threads struct{}

// StackTrace requests stack frames for ThreadID, chained after Threads
// resolves.
type StackTrace struct {
	ThreadID int
}

// Scopes requests the variable scopes for FrameID, chained after
// StackTrace resolves.
type Scopes struct {
	FrameID int
}

// Variables requests the variables under VariablesReference, chained
// after Scopes resolves.
type Variables struct {
	VariablesReference int
}

func (Threads) followUp()    {}
func (StackTrace) followUp() {}
func (Scopes) followUp()     {}
func (Variables) followUp()  {}
